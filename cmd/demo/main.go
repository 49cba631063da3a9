// Command demo serves the simulated job source with signature checks off,
// so the dashboard can be tried without qBittorrent or a Telegram bot.
//
//	go run ./cmd/demo
//	go run ./cmd/jobwatch watch --init-data 'hash=demo&user=%7B%22id%22%3A1%7D'
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/jobwatch/internal/cli"
	"github.com/ChuLiYu/jobwatch/internal/config"
)

func main() {
	httpAddr := flag.String("http", ":8080", "HTTP listen address")
	grpcAddr := flag.String("grpc", ":50051", "gRPC listen address, empty to disable")
	interval := flag.Duration("interval", time.Second, "poll interval")
	failureRate := flag.Float64("failure-rate", 0.05, "probability that a simulated poll fails")
	flag.Parse()

	cfg := config.Default()
	cfg.Source.Kind = "simulated"
	cfg.Source.FailureRate = *failureRate
	cfg.Server.HTTPAddr = *httpAddr
	cfg.Server.GRPCAddr = *grpcAddr
	cfg.Poll.Interval = *interval
	cfg.Poll.FetchTimeout = *interval
	cfg.Metrics.Enabled = true
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid demo config: %v", err)
	}

	_, port, err := net.SplitHostPort(*httpAddr)
	if err != nil {
		log.Fatalf("Invalid -http address: %v", err)
	}
	assertion := url.Values{"hash": {"demo"}, "user": {`{"id":1}`}}.Encode()
	fmt.Printf("✓ Simulated source, %s poll interval, %.0f%% failure rate\n", *interval, *failureRate*100)
	fmt.Printf("💡 Open the dashboard with:\n   jobwatch watch --server http://localhost:%s --init-data '%s'\n\n", port, assertion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cli.RunServer(ctx, cfg); err != nil {
		log.Fatalf("Demo server failed: %v", err)
	}
	fmt.Println("✓ Demo server stopped")
}
