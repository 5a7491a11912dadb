// Package aggregator parses daemon flags and launches the aggregator runtime.
package aggregator

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/analyzer"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/gamedata"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/loki"
	entrypoint "github.com/piyoraik/ffxiv-diecord-notify/internal/platform/cmd"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/aggregation"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/aggregation/app"
	aggsqlite "github.com/piyoraik/ffxiv-diecord-notify/internal/services/aggregation/storage/sqlite"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/roster"
	rosterpg "github.com/piyoraik/ffxiv-diecord-notify/internal/services/roster/storage/postgres"

	aggregatecmd "github.com/piyoraik/ffxiv-diecord-notify/internal/cmd/aggregate"
)

// Config holds aggregator daemon configuration.
type Config struct {
	Port              int           `env:"FFXIV_NOTIFY_AGGREGATOR_PORT" envDefault:"8090"`
	LokiURL           string        `env:"FFXIV_NOTIFY_LOKI_URL"`
	LokiQuery         string        `env:"FFXIV_NOTIFY_LOKI_QUERY" envDefault:"{job=\"ffxiv\"}"`
	LokiFilter        string        `env:"FFXIV_NOTIFY_LOKI_FILTER"`
	LokiPageLimit     int           `env:"FFXIV_NOTIFY_LOKI_PAGE_LIMIT" envDefault:"5000"`
	LokiTimeout       time.Duration `env:"FFXIV_NOTIFY_LOKI_TIMEOUT" envDefault:"30s"`
	DBPath            string        `env:"FFXIV_NOTIFY_DB_PATH" envDefault:"data/aggregation.db"`
	RosterDatabaseURL string        `env:"FFXIV_NOTIFY_ROSTER_DATABASE_URL"`
	BackfillHours     int           `env:"FFXIV_NOTIFY_BACKFILL_HOURS" envDefault:"6"`
	MaxWindows        int           `env:"FFXIV_NOTIFY_MAX_WINDOWS" envDefault:"0"`
	MaxSegments       int           `env:"FFXIV_NOTIFY_MAX_SEGMENTS" envDefault:"20"`
	GuildIDs          string        `env:"FFXIV_NOTIFY_GUILD_IDS"`
	WindowInterval    time.Duration `env:"FFXIV_NOTIFY_WINDOW_INTERVAL" envDefault:"5m"`
	RosterInterval    time.Duration `env:"FFXIV_NOTIFY_ROSTER_INTERVAL" envDefault:"10m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The aggregator health gRPC server port")
	fs.StringVar(&cfg.LokiURL, "loki-url", cfg.LokiURL, "Loki base URL")
	fs.StringVar(&cfg.LokiQuery, "loki-query", cfg.LokiQuery, "LogQL stream selector")
	fs.StringVar(&cfg.LokiFilter, "loki-filter", cfg.LokiFilter, "Optional Loki line filter")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Aggregation SQLite database path")
	fs.StringVar(&cfg.RosterDatabaseURL, "roster-db-url", cfg.RosterDatabaseURL, "Roster registry Postgres URL")
	fs.IntVar(&cfg.BackfillHours, "backfill-hours", cfg.BackfillHours, "Hours of windows to backfill on first run")
	fs.IntVar(&cfg.MaxWindows, "max-windows", cfg.MaxWindows, "Maximum windows per pass (0 = unbounded)")
	fs.IntVar(&cfg.MaxSegments, "max-segments", cfg.MaxSegments, "Maximum segments per roster pass")
	fs.StringVar(&cfg.GuildIDs, "guild", cfg.GuildIDs, "Comma-separated guild id filter")
	fs.DurationVar(&cfg.WindowInterval, "window-interval", cfg.WindowInterval, "Window pass interval")
	fs.DurationVar(&cfg.RosterInterval, "roster-interval", cfg.RosterInterval, "Roster pass interval")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the aggregator runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.JobAggregatorDaemon, func(ctx context.Context) error {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create storage dir: %w", err)
			}
		}
		store, err := aggsqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open aggregation store: %w", err)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				log.Printf("close aggregation store: %v", closeErr)
			}
		}()

		client, err := loki.NewClient(loki.Config{
			BaseURL:        cfg.LokiURL,
			Query:          cfg.LokiQuery,
			Filter:         cfg.LokiFilter,
			PageLimit:      cfg.LokiPageLimit,
			RequestTimeout: cfg.LokiTimeout,
		})
		if err != nil {
			return fmt.Errorf("build loki client: %w", err)
		}
		tables, err := gamedata.Load()
		if err != nil {
			return fmt.Errorf("load game data: %w", err)
		}
		combatAnalyzer, err := analyzer.New(client, tables)
		if err != nil {
			return fmt.Errorf("build analyzer: %w", err)
		}
		windowService, err := aggregation.NewService(store, combatAnalyzer, cfg.BackfillHours)
		if err != nil {
			return fmt.Errorf("build window service: %w", err)
		}

		registry, err := rosterpg.Open(ctx, cfg.RosterDatabaseURL)
		if err != nil {
			return fmt.Errorf("open roster registry: %w", err)
		}
		defer registry.Close()
		if err := registry.EnsureSchema(ctx); err != nil {
			return err
		}
		presenceService, err := roster.NewService(registry, store, cfg.BackfillHours)
		if err != nil {
			return fmt.Errorf("build roster service: %w", err)
		}

		return app.Run(ctx, app.RuntimeConfig{
			Port:           cfg.Port,
			WindowInterval: cfg.WindowInterval,
			RosterInterval: cfg.RosterInterval,
			MaxWindows:     cfg.MaxWindows,
			MaxSegments:    cfg.MaxSegments,
			GuildIDs:       aggregatecmd.SplitGuildIDs(cfg.GuildIDs),
		}, windowService, presenceService)
	})
}
