package analyzer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/event"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/gamedata"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/loki"
)

type fakeSource struct {
	entries []loki.Entry
	err     error
}

func (f *fakeSource) QueryRange(ctx context.Context, start, end time.Time) ([]loki.Entry, error) {
	return f.entries, f.err
}

func entryAt(offset time.Duration, normalized string, labels map[string]string) loki.Entry {
	ts := testEpoch.Add(offset)
	return loki.Entry{
		TimestampNs: ts.UnixNano(),
		Timestamp:   ts,
		Normalized:  normalized,
		Labels:      labels,
	}
}

func TestAnalyzeRangeFullPipeline(t *testing.T) {
	content := "絶オメガ検証戦"
	source := &fakeSource{entries: []loki.Entry{
		// Hanako joined an earlier instance and left before this run.
		entryAt(-10*time.Minute, "03|x|10099999|Hanako Tanaka", nil),
		entryAt(-5*time.Minute, "04|x|10099999|Hanako Tanaka", nil),

		entryAt(-time.Minute, "03|x|10012345|Taro Yamada", nil),
		entryAt(-time.Minute, "03|x|40001234|Garuda", nil),
		entryAt(-30*time.Second, "261|x|Add|10012345|Name|Taro Yamada|Job|42", nil),

		entryAt(0, fmt.Sprintf("00|x|0|system|「%s」の攻略を開始した。", content), nil),
		entryAt(time.Second, "21|x|||||x|Golem", map[string]string{
			"sourceID": "10012345", "sourceName": "Taro Yamada", "abilityID": "9D",
		}),
		entryAt(2*time.Second, "21|x|||||x|Golem", map[string]string{
			"actor": "Taro Yamada", "amount": "12000", "isCritical": "true",
		}),
		entryAt(3*time.Second, fmt.Sprintf("00|x|0|system|「%s」の攻略を終了した。", content), nil),
	}}

	tables := gamedata.NewTables(map[string]string{"9D": "BLM"})
	a, err := New(source, tables)
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}

	segments, err := a.AnalyzeRange(context.Background(), testEpoch, testEpoch.Add(time.Hour))
	if err != nil {
		t.Fatalf("analyze range: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(segments))
	}
	seg := segments[0]

	if seg.Status != StatusCompleted {
		t.Fatalf("status = %q, want %q", seg.Status, StatusCompleted)
	}
	if seg.DurationMs != 3000 {
		t.Fatalf("duration = %d ms, want 3000", seg.DurationMs)
	}
	if seg.Ordinal != 1 || seg.GlobalIndex != 1 {
		t.Fatalf("ordinal/global = %d/%d, want 1/1", seg.Ordinal, seg.GlobalIndex)
	}

	if len(seg.Participants) != 1 || seg.Participants[0] != "Taro Yamada" {
		t.Fatalf("participants = %v, want only Taro Yamada", seg.Participants)
	}

	if len(seg.Players) != 1 {
		t.Fatalf("players = %d, want 1", len(seg.Players))
	}
	player := seg.Players[0]
	if player.TotalDamage != 12000 {
		t.Fatalf("total damage = %d, want 12000", player.TotalDamage)
	}
	if player.DPS != 4000 {
		t.Fatalf("dps = %v, want 4000", player.DPS)
	}
	if player.Hits != 1 || player.CriticalHits != 1 || player.DirectHits != 0 {
		t.Fatalf("hits = %d/%d/%d, want 1 hit, 1 crit, 0 direct", player.Hits, player.CriticalHits, player.DirectHits)
	}
	// The 9D cast inside the segment outranks the PCT attribute update.
	if player.JobCode != "BLM" {
		t.Fatalf("job = %q, want BLM from in-segment ability", player.JobCode)
	}
	if player.Role != gamedata.RoleDPS {
		t.Fatalf("role = %q, want %q", player.Role, gamedata.RoleDPS)
	}
}

func TestAnalyzeRangePropagatesSourceError(t *testing.T) {
	source := &fakeSource{err: errors.New("loki unavailable")}
	a, err := New(source, gamedata.Tables{})
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	if _, err := a.AnalyzeRange(context.Background(), testEpoch, testEpoch.Add(time.Hour)); err == nil {
		t.Fatal("expected source error to propagate")
	}
}

func TestNewRequiresSource(t *testing.T) {
	if _, err := New(nil, gamedata.Tables{}); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestBuildRegistryJobIsLastWriteWins(t *testing.T) {
	attrs := []event.AttributeUpdate{
		{Base: at(0), ID: "10012345", Name: "Taro Yamada", JobID: 42},
		{Base: at(time.Minute), ID: "10012345", Name: "Taro Yamada", JobID: 19},
	}
	reg := buildRegistry(nil, attrs, gamedata.Tables{})
	if got := reg.nameToJob["Taro Yamada"]; got != "PLD" {
		t.Fatalf("job = %q, want PLD from the later update", got)
	}
	if got := reg.idToJob["10012345"]; got != "PLD" {
		t.Fatalf("job by id = %q, want PLD", got)
	}
}

func TestAttachDamageSortsByTotalDescending(t *testing.T) {
	seg := &Segment{
		ID:      "s1",
		Content: "test",
		StartNs: testEpoch.UnixNano(),
		EndNs:   testEpoch.Add(10 * time.Second).UnixNano(),
	}
	damage := []event.Damage{
		{Base: at(time.Second), Actor: "Low", Amount: 100},
		{Base: at(2 * time.Second), Actor: "High", Amount: 900},
		{Base: at(3 * time.Second), Actor: "Low", Amount: 50},
	}
	reg := buildRegistry(nil, nil, gamedata.Tables{})
	attachDamage([]*Segment{seg}, damage, nil, reg, gamedata.Tables{})

	if len(seg.Players) != 2 {
		t.Fatalf("players = %d, want 2", len(seg.Players))
	}
	if seg.Players[0].Name != "High" || seg.Players[1].Name != "Low" {
		t.Fatalf("order = %s, %s; want High first", seg.Players[0].Name, seg.Players[1].Name)
	}
	if seg.Players[1].TotalDamage != 150 {
		t.Fatalf("Low total = %d, want 150", seg.Players[1].TotalDamage)
	}
}

func TestAttachDamageMinimumDurationFloor(t *testing.T) {
	// Sub-second segments divide by one second, not zero.
	seg := &Segment{
		ID:      "s1",
		Content: "test",
		StartNs: testEpoch.UnixNano(),
		EndNs:   testEpoch.Add(200 * time.Millisecond).UnixNano(),
	}
	damage := []event.Damage{
		{Base: at(100 * time.Millisecond), Actor: "Taro", Amount: 500},
	}
	reg := buildRegistry(nil, nil, gamedata.Tables{})
	attachDamage([]*Segment{seg}, damage, nil, reg, gamedata.Tables{})

	if seg.Players[0].DPS != 500 {
		t.Fatalf("dps = %v, want 500 with 1s floor", seg.Players[0].DPS)
	}
}

func TestAttachDamageSkipsUnboundedSegments(t *testing.T) {
	seg := &Segment{ID: "s1", Content: "test", EndNs: testEpoch.UnixNano(), DurationMs: -1}
	reg := buildRegistry(nil, nil, gamedata.Tables{})
	attachDamage([]*Segment{seg}, []event.Damage{{Base: at(0), Actor: "Taro", Amount: 10}}, nil, reg, gamedata.Tables{})

	if seg.DurationMs != -1 {
		t.Fatalf("duration = %d, want untouched -1", seg.DurationMs)
	}
	if len(seg.Players) != 0 {
		t.Fatalf("players = %d, want none for unbounded segment", len(seg.Players))
	}
}
