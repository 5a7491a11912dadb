package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/platform/config"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/platform/otel"
)

const defaultOTelShutdownTimeout = 5 * time.Second

// Job identifiers for command startup telemetry and CLI naming consistency.
const (
	JobAggregateWindows = "aggregate-windows"
	JobAggregateRoster  = "aggregate-roster"
	JobAggregateAnalyze = "aggregate-analyze"
	JobAggregatorDaemon = "aggregator"
)

// RunOptions controls shared entrypoint behavior for job commands.
type RunOptions struct {
	// ShutdownTimeout sets the timeout used when stopping telemetry.
	ShutdownTimeout time.Duration
}

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// ParseConfigFromArgs loads defaults from env and then parses flags.
func ParseConfigFromArgs[T any](cfg *T, fs *flag.FlagSet, args []string) error {
	if err := ParseConfig(cfg); err != nil {
		return err
	}
	return ParseArgs(fs, args)
}

// RunWithTelemetry configures observability and executes a job run function.
func RunWithTelemetry(ctx context.Context, job string, run func(context.Context) error) error {
	return RunWithTelemetryAndOptions(ctx, job, RunOptions{}, run)
}

// RunWithTelemetryAndOptions configures observability and executes a job run function.
func RunWithTelemetryAndOptions(ctx context.Context, job string, options RunOptions, run func(context.Context) error) error {
	job = strings.TrimSpace(job)
	if job == "" {
		return fmt.Errorf("job name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	shutdown, err := otel.Setup(ctx, job)
	if err != nil {
		return err
	}
	defer func() {
		shutdownTimeout := options.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = defaultOTelShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s otel shutdown: %v", job, err)
		}
	}()
	return run(ctx)
}
