package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ChuLiYu/jobwatch/internal/auth"
	"github.com/ChuLiYu/jobwatch/internal/broadcast"
	"github.com/ChuLiYu/jobwatch/internal/config"
	"github.com/ChuLiYu/jobwatch/internal/enrich"
	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/internal/poller"
	"github.com/ChuLiYu/jobwatch/internal/server"
	"github.com/ChuLiYu/jobwatch/internal/snapshot"
	"github.com/ChuLiYu/jobwatch/internal/source"
)

func buildServeCommand() *cobra.Command {
	var simulated bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the jobwatch server",
		Long:  "Poll the job source on a fixed interval and push every snapshot to connected clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if simulated {
				cfg.Source.Kind = "simulated"
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return RunServer(ctx, cfg)
		},
	}

	cmd.Flags().BoolVar(&simulated, "simulated", false, "serve the built-in simulated source instead of qBittorrent")

	return cmd
}

// RunServer runs the server described by cfg until ctx is done, then shuts
// it down gracefully.
func RunServer(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	return a.run(ctx)
}

// NewSource builds the job source named by cfg.Source.Kind.
func NewSource(cfg *config.Config) (source.JobAPI, error) {
	switch cfg.Source.Kind {
	case "simulated":
		return source.NewSimulated(source.SimulatedConfig{FailureRate: cfg.Source.FailureRate}), nil
	case "qbittorrent":
		return source.NewQBittorrent(source.QBittorrentConfig{
			URL:      cfg.Source.URL,
			Username: cfg.Source.Username,
			Password: cfg.Source.Password,
			Timeout:  cfg.Source.Timeout,
		})
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

// app holds every long-lived part of a running server.
type app struct {
	cfg *config.Config

	poller *poller.Poller
	server *server.Server
	http   *http.Server
	grpc   *grpc.Server

	httpLn net.Listener
	grpcLn net.Listener

	cache *enrich.Cache
	mqtt  mqtt.Client
}

func newApp(cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.closeListeners()
			a.release()
		}
	}()

	src, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}

	var (
		m        *metrics.Collector
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.NewCollector(reg)
		gatherer = reg
	}

	store := snapshot.NewStore()
	hub := broadcast.NewHub(m)
	gate := auth.NewGate(auth.Config{
		BotToken:       cfg.Auth.BotToken,
		AllowedChatIDs: cfg.Auth.AllowedChatIDs,
		MaxAge:         cfg.Auth.MaxAge,
	})
	if cfg.Auth.BotToken == "" {
		slog.Warn("No bot token configured, init assertions are not signature checked")
	}

	opts := []poller.Option{poller.WithSinks(hub), poller.WithMetrics(m)}

	if cfg.EnrichEnabled() {
		a.cache, err = enrich.OpenCache(cfg.Enrich.CacheDir, enrich.CacheTTL{Hit: cfg.Enrich.HitTTL, Miss: cfg.Enrich.MissTTL})
		if err != nil {
			return nil, err
		}
		tmdb := enrich.NewTMDB(cfg.Enrich.APIKey, cfg.Enrich.BaseURL, cfg.Source.Timeout)
		opts = append(opts, poller.WithEnricher(enrich.New(tmdb, a.cache, m, enrich.Config{MaxRemotePerPoll: cfg.Enrich.MaxRemotePerPoll})))
		slog.Info("Enrichment enabled", "cache_dir", cfg.Enrich.CacheDir)
	}

	if cfg.MQTT.Enabled {
		sink, client, err := broadcast.DialMQTT(broadcast.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			return nil, err
		}
		a.mqtt = client
		opts = append(opts, poller.WithSinks(sink))
	}

	a.poller = poller.New(src, store, poller.Config{
		Interval:     cfg.Poll.Interval,
		FetchTimeout: cfg.Poll.FetchTimeout,
	}, opts...)

	a.server = server.New(hub, store, gate, src, m, server.Options{
		PingInterval: cfg.Server.PingInterval,
		WriteTimeout: cfg.Server.WriteTimeout,
		Gatherer:     gatherer,
	})
	a.http = &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.httpLn, err = net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Server.HTTPAddr, err)
	}

	if cfg.Server.GRPCAddr != "" {
		a.grpc = a.server.NewGRPCServer()
		a.grpcLn, err = net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
		}
	}
	return a, nil
}

func (a *app) run(ctx context.Context) error {
	slog.Info("Starting jobwatch server",
		"source", a.cfg.Source.Kind,
		"http", a.httpLn.Addr().String(),
		"grpc", a.grpcAddr(),
		"poll_interval", a.cfg.Poll.Interval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.poller.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := a.http.Serve(a.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.grpc != nil {
		g.Go(func() error {
			if err := a.grpc.Serve(a.grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	err := g.Wait()
	a.release()
	slog.Info("jobwatch server stopped")
	return err
}

func (a *app) grpcAddr() string {
	if a.grpcLn == nil {
		return "disabled"
	}
	return a.grpcLn.Addr().String()
}

// shutdown closes every push channel first so clients see a deliberate
// close, then stops the listeners.
func (a *app) shutdown() {
	slog.Info("Shutting down gracefully", "timeout", a.cfg.Server.ShutdownTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.server.CloseChannels(ctx)
	if err := a.http.Shutdown(ctx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	if a.grpc != nil {
		stopped := make(chan struct{})
		go func() {
			a.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			a.grpc.Stop()
		}
	}
}

// release closes resources that are not tied to a listener. It runs once
// the poller has returned.
func (a *app) release() {
	if a.mqtt != nil {
		a.mqtt.Disconnect(250)
		a.mqtt = nil
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Warn("Failed to close enrichment cache", "error", err)
		}
		a.cache = nil
	}
}

func (a *app) closeListeners() {
	if a.httpLn != nil {
		a.httpLn.Close()
	}
	if a.grpcLn != nil {
		a.grpcLn.Close()
	}
}
