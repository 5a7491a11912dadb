package roster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/aggregation/storage"
)

type fakeRegistry struct {
	members []Member
	err     error
}

func (f *fakeRegistry) List(ctx context.Context, guildIDs ...string) ([]Member, error) {
	return f.members, f.err
}

type fakeSegments struct {
	segments     []storage.SegmentRecord
	participants map[string][]string
	playerNames  map[string][]string
	replaced     map[string][]storage.PresenceRecord
	replaceErr   map[string]error
}

func newFakeSegments() *fakeSegments {
	return &fakeSegments{
		participants: make(map[string][]string),
		playerNames:  make(map[string][]string),
		replaced:     make(map[string][]storage.PresenceRecord),
		replaceErr:   make(map[string]error),
	}
}

func (f *fakeSegments) ListUnresolvedSegments(ctx context.Context, since time.Time, limit int) ([]storage.SegmentRecord, error) {
	if len(f.segments) > limit {
		return f.segments[:limit], nil
	}
	return f.segments, nil
}

func (f *fakeSegments) ListSegmentParticipants(ctx context.Context, segmentID string) ([]string, error) {
	return f.participants[segmentID], nil
}

func (f *fakeSegments) ListSegmentPlayerNames(ctx context.Context, segmentID string) ([]string, error) {
	return f.playerNames[segmentID], nil
}

func (f *fakeSegments) ReplaceSegmentPresence(ctx context.Context, segmentID string, records []storage.PresenceRecord) error {
	if err := f.replaceErr[segmentID]; err != nil {
		return err
	}
	f.replaced[segmentID] = records
	return nil
}

func presenceByName(records []storage.PresenceRecord) map[string]storage.PresenceRecord {
	byName := make(map[string]storage.PresenceRecord, len(records))
	for _, record := range records {
		byName[record.PlayerName] = record
	}
	return byName
}

func TestProcessPresenceMatchesCaseAndWhitespaceInsensitively(t *testing.T) {
	registry := &fakeRegistry{members: []Member{
		{GuildID: "g1", Name: "Taro Yamada"},
		{GuildID: "g1", Name: "Hanako Tanaka"},
	}}
	segments := newFakeSegments()
	segments.segments = []storage.SegmentRecord{{ID: "seg-1"}}
	segments.participants["seg-1"] = []string{"  taro yamada "}

	service, err := NewService(registry, segments, 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := service.ProcessPresence(context.Background(), 0, nil)
	if err != nil {
		t.Fatalf("process presence: %v", err)
	}
	if result.Processed != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 1 processed", result)
	}

	byName := presenceByName(segments.replaced["seg-1"])
	taro := byName["Taro Yamada"]
	if !taro.Participated {
		t.Fatal("Taro must match despite casing and surrounding whitespace")
	}
	if taro.MatchedName != "taro yamada" {
		t.Fatalf("matched name = %q, want the observed casing", taro.MatchedName)
	}
	hanako := byName["Hanako Tanaka"]
	if hanako.Participated || hanako.MatchedName != "" {
		t.Fatalf("Hanako = %+v, want absent", hanako)
	}
}

func TestProcessPresenceFallsBackToPlayerStatNames(t *testing.T) {
	registry := &fakeRegistry{members: []Member{{GuildID: "g1", Name: "Taro Yamada"}}}
	segments := newFakeSegments()
	segments.segments = []storage.SegmentRecord{{ID: "seg-1"}}
	segments.playerNames["seg-1"] = []string{"Taro Yamada"}

	service, err := NewService(registry, segments, 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := service.ProcessPresence(context.Background(), 0, nil); err != nil {
		t.Fatalf("process presence: %v", err)
	}

	byName := presenceByName(segments.replaced["seg-1"])
	if !byName["Taro Yamada"].Participated {
		t.Fatal("stat-row names must back participation when no participant rows exist")
	}
}

func TestProcessPresenceContinuesPastSegmentFailure(t *testing.T) {
	registry := &fakeRegistry{members: []Member{{GuildID: "g1", Name: "Taro Yamada"}}}
	segments := newFakeSegments()
	segments.segments = []storage.SegmentRecord{{ID: "seg-bad"}, {ID: "seg-good"}}
	segments.replaceErr["seg-bad"] = errors.New("write conflict")
	segments.participants["seg-good"] = []string{"Taro Yamada"}

	service, err := NewService(registry, segments, 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	result, err := service.ProcessPresence(context.Background(), 0, nil)
	if err != nil {
		t.Fatalf("process presence: %v", err)
	}
	if result.Processed != 1 || result.Failed != 1 {
		t.Fatalf("result = %+v, want 1 processed and 1 failed", result)
	}
	if _, ok := segments.replaced["seg-good"]; !ok {
		t.Fatal("later segments must still be resolved after an earlier failure")
	}
}

func TestProcessPresenceStableRosterIDs(t *testing.T) {
	registry := &fakeRegistry{members: []Member{{GuildID: "g1", Name: "Taro Yamada"}}}
	segments := newFakeSegments()
	segments.segments = []storage.SegmentRecord{{ID: "seg-1"}}

	service, err := NewService(registry, segments, 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := service.ProcessPresence(context.Background(), 0, nil); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	firstID := segments.replaced["seg-1"][0].RosterID

	segments.replaced = map[string][]storage.PresenceRecord{}
	if _, err := service.ProcessPresence(context.Background(), 0, nil); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if segments.replaced["seg-1"][0].RosterID != firstID {
		t.Fatal("roster ids must be deterministic across passes")
	}
}

func TestProcessPresencePropagatesRegistryError(t *testing.T) {
	registry := &fakeRegistry{err: errors.New("postgres unavailable")}
	service, err := NewService(registry, newFakeSegments(), 0)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := service.ProcessPresence(context.Background(), 0, nil); err == nil {
		t.Fatal("expected registry error to propagate")
	}
}

func TestCanonicalNamesFirstSeenCasingWins(t *testing.T) {
	canonical := canonicalNames([]string{"Taro Yamada", "TARO YAMADA"})
	if got := canonical["taro yamada"]; got != "Taro Yamada" {
		t.Fatalf("canonical = %q, want first-seen casing", got)
	}
}
