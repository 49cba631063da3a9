// ============================================================================
// jobwatch Server
// ============================================================================
//
// Package: internal/server
// File: server.go
// Purpose: Expose the live snapshot and the control commands.
//
// Surfaces:
//   HTTP  GET  /health                         liveness
//         GET  /metrics                        Prometheus exposition
//         GET  /ws                             WebSocket push channel
//         GET  /api/jobs                       current snapshot
//         POST /api/jobs/{id}/pause|resume|delete
//         GET  /api/jobs/{id}/files
//         POST /api/jobs/{id}/files/priority
//   gRPC jobwatch.v1.Watch/Subscribe           server-streaming push channel
//
// Every push channel admission and every /api call runs the auth gate.
// Shutdown closes the hub first so each channel sends an explicit close to
// its client before the listeners go away.
//
// ============================================================================

package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/jobwatch/internal/auth"
	"github.com/ChuLiYu/jobwatch/internal/broadcast"
	"github.com/ChuLiYu/jobwatch/internal/metrics"
	"github.com/ChuLiYu/jobwatch/internal/snapshot"
	"github.com/ChuLiYu/jobwatch/internal/source"
	"github.com/ChuLiYu/jobwatch/internal/wire"
)

var log = slog.Default()

// Options configures a Server.
type Options struct {
	PingInterval time.Duration // WebSocket keepalive, default 30s
	WriteTimeout time.Duration // per-frame write deadline, default 10s
	Gatherer     prometheus.Gatherer
}

// Server serves the HTTP and gRPC surfaces.
type Server struct {
	hub      *broadcast.Hub
	store    *snapshot.Store
	gate     *auth.Gate
	commands source.CommandAPI
	metrics  *metrics.Collector
	opts     Options

	admitMu  sync.Mutex
	draining bool
	channels sync.WaitGroup // live push channel handlers
}

// New creates a server. m may be nil.
func New(hub *broadcast.Hub, store *snapshot.Store, gate *auth.Gate, commands source.CommandAPI, m *metrics.Collector, opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Server{
		hub:      hub,
		store:    store,
		gate:     gate,
		commands: commands,
		metrics:  m,
		opts:     opts,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+wire.PathHealth, s.handleHealth)
	if s.opts.Gatherer != nil {
		mux.Handle("GET "+wire.PathMetrics, metrics.Handler(s.opts.Gatherer))
	}
	mux.HandleFunc("GET "+wire.PathWS, s.handleWS)
	mux.HandleFunc("GET "+wire.PathJobs, s.requireAuth(s.handleJobs))
	mux.HandleFunc("POST "+wire.PathJobs+"/{id}/pause", s.requireAuth(s.handlePause))
	mux.HandleFunc("POST "+wire.PathJobs+"/{id}/resume", s.requireAuth(s.handleResume))
	mux.HandleFunc("POST "+wire.PathJobs+"/{id}/delete", s.requireAuth(s.handleDelete))
	mux.HandleFunc("GET "+wire.PathJobs+"/{id}/files", s.requireAuth(s.handleFiles))
	mux.HandleFunc("POST "+wire.PathJobs+"/{id}/files/priority", s.requireAuth(s.handlePriority))
	return mux
}

// CloseChannels tells every push channel to close and waits, up to ctx,
// for their handlers to finish sending the close.
func (s *Server) CloseChannels(ctx context.Context) {
	s.admitMu.Lock()
	s.draining = true
	s.admitMu.Unlock()
	s.hub.Close()

	done := make(chan struct{})
	go func() {
		s.channels.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("All push channels closed")
	case <-ctx.Done():
		log.Warn("Timed out waiting for push channels to close", "remaining", s.hub.Len())
	}
}

// admit subscribes a push channel and counts its handler. Every Add happens
// before CloseChannels starts waiting; once draining, admission fails. On
// success the caller must call release.
func (s *Server) admit(transport string) (*broadcast.Subscription, bool) {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()
	if s.draining {
		return nil, false
	}
	s.channels.Add(1)
	sub, ok := s.hub.Subscribe(transport)
	if !ok {
		s.channels.Done()
		return nil, false
	}
	return sub, true
}

func (s *Server) release(sub *broadcast.Subscription) {
	s.hub.Unsubscribe(sub)
	s.channels.Done()
}
