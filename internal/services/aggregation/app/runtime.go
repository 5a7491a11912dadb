// Package app hosts the long-running aggregator daemon: periodic window and
// roster passes behind a gRPC health endpoint.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/aggregation"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/roster"
)

const (
	defaultPort           = 8090
	defaultWindowInterval = 5 * time.Minute
	defaultRosterInterval = 10 * time.Minute
)

// WindowService runs window creation and processing passes.
type WindowService interface {
	EnsureWindows(ctx context.Context) error
	ProcessPendingWindows(ctx context.Context, maxWindows int) (aggregation.Result, error)
}

// PresenceService runs roster reconciliation passes.
type PresenceService interface {
	ProcessPresence(ctx context.Context, maxSegments int, guildIDs []string) (roster.Result, error)
}

// RuntimeConfig controls daemon intervals, batch bounds, and the health port.
type RuntimeConfig struct {
	Port           int
	WindowInterval time.Duration
	RosterInterval time.Duration
	MaxWindows     int
	MaxSegments    int
	GuildIDs       []string
}

func (cfg RuntimeConfig) normalized() RuntimeConfig {
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if cfg.WindowInterval <= 0 {
		cfg.WindowInterval = defaultWindowInterval
	}
	if cfg.RosterInterval <= 0 {
		cfg.RosterInterval = defaultRosterInterval
	}
	return cfg
}

// Run serves the health endpoint and drives both pass loops until ctx is
// canceled.
func Run(ctx context.Context, cfg RuntimeConfig, windows WindowService, presence PresenceService) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if windows == nil {
		return fmt.Errorf("window service is required")
	}
	if presence == nil {
		return fmt.Errorf("presence service is required")
	}
	cfg = cfg.normalized()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on aggregator port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("aggregator.runtime", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("aggregator listening at %v", listener.Addr())
	runLoops(ctx, cfg, windows, presence)
	return nil
}

// runLoops executes an immediate pass of each job, then repeats on each
// job's interval. Pass failures are logged and retried on the next tick.
func runLoops(ctx context.Context, cfg RuntimeConfig, windows WindowService, presence PresenceService) {
	windowPass(ctx, cfg, windows)
	rosterPass(ctx, cfg, presence)

	windowTicker := time.NewTicker(cfg.WindowInterval)
	defer windowTicker.Stop()
	rosterTicker := time.NewTicker(cfg.RosterInterval)
	defer rosterTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-windowTicker.C:
			windowPass(ctx, cfg, windows)
		case <-rosterTicker.C:
			rosterPass(ctx, cfg, presence)
		}
	}
}

func windowPass(ctx context.Context, cfg RuntimeConfig, windows WindowService) {
	if ctx.Err() != nil {
		return
	}
	if err := windows.EnsureWindows(ctx); err != nil {
		log.Printf("aggregator: ensure windows failed err=%v", err)
		return
	}
	if _, err := windows.ProcessPendingWindows(ctx, cfg.MaxWindows); err != nil {
		log.Printf("aggregator: window pass failed err=%v", err)
	}
}

func rosterPass(ctx context.Context, cfg RuntimeConfig, presence PresenceService) {
	if ctx.Err() != nil {
		return
	}
	if _, err := presence.ProcessPresence(ctx, cfg.MaxSegments, cfg.GuildIDs); err != nil {
		log.Printf("aggregator: roster pass failed err=%v", err)
	}
}
