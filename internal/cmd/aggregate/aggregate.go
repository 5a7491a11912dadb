// Package aggregate parses the batch CLI's flags and runs its subcommands.
package aggregate

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/analyzer"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/gamedata"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/loki"
	entrypoint "github.com/piyoraik/ffxiv-diecord-notify/internal/platform/cmd"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/aggregation"
	aggsqlite "github.com/piyoraik/ffxiv-diecord-notify/internal/services/aggregation/storage/sqlite"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/roster"
	rosterpg "github.com/piyoraik/ffxiv-diecord-notify/internal/services/roster/storage/postgres"
)

// Config holds aggregate command configuration shared by both subcommands.
type Config struct {
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
	StartHourJST      int           `env:"FFXIV_NOTIFY_AGGREGATION_START_HOUR_JST" envDefault:"10"`
	EndHourJST        int           `env:"FFXIV_NOTIFY_AGGREGATION_END_HOUR_JST" envDefault:"10"`

	// AnalyzeDate is the JST date for the analyze subcommand, flag only.
	AnalyzeDate string
}

// ParseWindowsConfig parses environment and flags for the windows subcommand.
func ParseWindowsConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.LokiURL, "loki-url", cfg.LokiURL, "Loki base URL")
	fs.StringVar(&cfg.LokiQuery, "loki-query", cfg.LokiQuery, "LogQL stream selector")
	fs.StringVar(&cfg.LokiFilter, "loki-filter", cfg.LokiFilter, "Optional Loki line filter")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Aggregation SQLite database path")
	fs.IntVar(&cfg.BackfillHours, "backfill-hours", cfg.BackfillHours, "Hours of windows to backfill on first run")
	fs.IntVar(&cfg.MaxWindows, "max-windows", cfg.MaxWindows, "Maximum windows to process (0 = unbounded)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseRosterConfig parses environment and flags for the roster subcommand.
func ParseRosterConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Aggregation SQLite database path")
	fs.StringVar(&cfg.RosterDatabaseURL, "roster-db-url", cfg.RosterDatabaseURL, "Roster registry Postgres URL")
	fs.IntVar(&cfg.BackfillHours, "backfill-hours", cfg.BackfillHours, "Hours of unresolved segments to consider")
	fs.IntVar(&cfg.MaxSegments, "max-segments", cfg.MaxSegments, "Maximum segments to resolve per pass")
	fs.StringVar(&cfg.GuildIDs, "guild", cfg.GuildIDs, "Comma-separated guild id filter")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseAnalyzeConfig parses environment and flags for the analyze subcommand.
func ParseAnalyzeConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.LokiURL, "loki-url", cfg.LokiURL, "Loki base URL")
	fs.StringVar(&cfg.LokiQuery, "loki-query", cfg.LokiQuery, "LogQL stream selector")
	fs.StringVar(&cfg.LokiFilter, "loki-filter", cfg.LokiFilter, "Optional Loki line filter")
	fs.StringVar(&cfg.AnalyzeDate, "date", "", "JST date to analyze (YYYY-MM-DD, default previous day)")
	fs.IntVar(&cfg.StartHourJST, "start-hour", cfg.StartHourJST, "JST hour the daily window opens")
	fs.IntVar(&cfg.EndHourJST, "end-hour", cfg.EndHourJST, "JST hour the daily window closes")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.StartHourJST = clampHour(cfg.StartHourJST)
	cfg.EndHourJST = clampHour(cfg.EndHourJST)
	return cfg, nil
}

func clampHour(hour int) int {
	if hour < 0 {
		return 0
	}
	if hour > 23 {
		return 23
	}
	return hour
}

// SplitGuildIDs parses the comma-separated guild filter.
func SplitGuildIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

func openAggregationStore(path string) (*aggsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return aggsqlite.Open(path)
}

func buildAnalyzer(cfg Config) (*analyzer.Analyzer, error) {
	client, err := loki.NewClient(loki.Config{
		BaseURL:        cfg.LokiURL,
		Query:          cfg.LokiQuery,
		Filter:         cfg.LokiFilter,
		PageLimit:      cfg.LokiPageLimit,
		RequestTimeout: cfg.LokiTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build loki client: %w", err)
	}
	tables, err := gamedata.Load()
	if err != nil {
		return nil, fmt.Errorf("load game data: %w", err)
	}
	combatAnalyzer, err := analyzer.New(client, tables)
	if err != nil {
		return nil, fmt.Errorf("build analyzer: %w", err)
	}
	return combatAnalyzer, nil
}

func buildWindowService(cfg Config, store *aggsqlite.Store) (*aggregation.Service, error) {
	combatAnalyzer, err := buildAnalyzer(cfg)
	if err != nil {
		return nil, err
	}
	return aggregation.NewService(store, combatAnalyzer, cfg.BackfillHours)
}

// RunWindows ensures and processes aggregation windows once.
func RunWindows(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.JobAggregateWindows, func(ctx context.Context) error {
		store, err := openAggregationStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open aggregation store: %w", err)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				log.Printf("close aggregation store: %v", closeErr)
			}
		}()

		service, err := buildWindowService(cfg, store)
		if err != nil {
			return err
		}
		if err := service.EnsureWindows(ctx); err != nil {
			return err
		}
		result, err := service.ProcessPendingWindows(ctx, cfg.MaxWindows)
		if err != nil {
			return err
		}
		fmt.Printf("processed=%d failed=%d\n", result.Processed, result.Failed)
		return nil
	})
}

// RunAnalyze prints the combat summary for one JST reporting day without
// touching storage.
func RunAnalyze(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.JobAggregateAnalyze, func(ctx context.Context) error {
		combatAnalyzer, err := buildAnalyzer(cfg)
		if err != nil {
			return err
		}
		start, end, err := analyzer.DetermineTimeWindow(cfg.AnalyzeDate, cfg.StartHourJST, cfg.EndHourJST, time.Now())
		if err != nil {
			return err
		}
		segments, err := combatAnalyzer.AnalyzeRange(ctx, start, end)
		if err != nil {
			return err
		}

		fmt.Printf("range=%s..%s segments=%d\n", start.Format(time.RFC3339), end.Format(time.RFC3339), len(segments))
		for _, seg := range segments {
			fmt.Printf("#%d %s (run %d) status=%s duration_ms=%d participants=%d\n",
				seg.GlobalIndex, seg.Content, seg.Ordinal, seg.Status, seg.DurationMs, len(seg.Participants))
			for _, player := range seg.Players {
				fmt.Printf("  %s [%s] total=%d dps=%.2f hits=%d crit=%d direct=%d\n",
					player.Name, player.JobCode, player.TotalDamage, player.DPS,
					player.Hits, player.CriticalHits, player.DirectHits)
			}
		}
		return nil
	})
}

// RunRoster runs one roster presence reconciliation pass.
func RunRoster(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.JobAggregateRoster, func(ctx context.Context) error {
		store, err := openAggregationStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open aggregation store: %w", err)
		}
		defer func() {
			if closeErr := store.Close(); closeErr != nil {
				log.Printf("close aggregation store: %v", closeErr)
			}
		}()

		registry, err := rosterpg.Open(ctx, cfg.RosterDatabaseURL)
		if err != nil {
			return fmt.Errorf("open roster registry: %w", err)
		}
		defer registry.Close()
		if err := registry.EnsureSchema(ctx); err != nil {
			return err
		}

		service, err := roster.NewService(registry, store, cfg.BackfillHours)
		if err != nil {
			return err
		}
		result, err := service.ProcessPresence(ctx, cfg.MaxSegments, SplitGuildIDs(cfg.GuildIDs))
		if err != nil {
			return err
		}
		fmt.Printf("processed=%d failed=%d\n", result.Processed, result.Failed)
		return nil
	})
}
