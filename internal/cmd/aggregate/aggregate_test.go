package aggregate

import (
	"flag"
	"testing"
	"time"
)

func TestParseWindowsConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("windows", flag.ContinueOnError)
	t.Setenv("FFXIV_NOTIFY_LOKI_URL", "http://loki:3100")
	t.Setenv("FFXIV_NOTIFY_LOKI_TIMEOUT", "45s")

	cfg, err := ParseWindowsConfig(fs, []string{"-max-windows", "3", "-backfill-hours", "12"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.LokiURL != "http://loki:3100" {
		t.Fatalf("loki url = %q, want env value", cfg.LokiURL)
	}
	if cfg.LokiTimeout != 45*time.Second {
		t.Fatalf("loki timeout = %v, want 45s", cfg.LokiTimeout)
	}
	if cfg.MaxWindows != 3 {
		t.Fatalf("max windows = %d, want 3", cfg.MaxWindows)
	}
	if cfg.BackfillHours != 12 {
		t.Fatalf("backfill hours = %d, want 12", cfg.BackfillHours)
	}
	if cfg.LokiQuery != `{job="ffxiv"}` {
		t.Fatalf("loki query = %q, want default selector", cfg.LokiQuery)
	}
	if cfg.DBPath != "data/aggregation.db" {
		t.Fatalf("db path = %q, want default", cfg.DBPath)
	}
}

func TestParseRosterConfig_ParsesFlags(t *testing.T) {
	fs := flag.NewFlagSet("roster", flag.ContinueOnError)

	cfg, err := ParseRosterConfig(fs, []string{"-max-segments", "5", "-guild", "g1, g2"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.MaxSegments != 5 {
		t.Fatalf("max segments = %d, want 5", cfg.MaxSegments)
	}
	if cfg.GuildIDs != "g1, g2" {
		t.Fatalf("guild ids = %q, want raw flag value", cfg.GuildIDs)
	}
}

func TestParseAnalyzeConfig_ClampsHours(t *testing.T) {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	t.Setenv("FFXIV_NOTIFY_AGGREGATION_START_HOUR_JST", "-3")

	cfg, err := ParseAnalyzeConfig(fs, []string{"-end-hour", "24", "-date", "2024-10-08"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.StartHourJST != 0 {
		t.Fatalf("start hour = %d, want clamped to 0", cfg.StartHourJST)
	}
	if cfg.EndHourJST != 23 {
		t.Fatalf("end hour = %d, want clamped to 23", cfg.EndHourJST)
	}
	if cfg.AnalyzeDate != "2024-10-08" {
		t.Fatalf("date = %q, want flag value", cfg.AnalyzeDate)
	}
}

func TestParseAnalyzeConfig_DefaultHours(t *testing.T) {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)

	cfg, err := ParseAnalyzeConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.StartHourJST != 10 || cfg.EndHourJST != 10 {
		t.Fatalf("hours = %d/%d, want 10/10 defaults", cfg.StartHourJST, cfg.EndHourJST)
	}
}

func TestSplitGuildIDs(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"g1", []string{"g1"}},
		{"g1, g2 ,,g3", []string{"g1", "g2", "g3"}},
	}
	for _, tt := range tests {
		got := SplitGuildIDs(tt.raw)
		if len(got) != len(tt.want) {
			t.Fatalf("split %q = %v, want %v", tt.raw, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("split %q = %v, want %v", tt.raw, got, tt.want)
			}
		}
	}
}
