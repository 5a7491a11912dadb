package roster

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/platform/id"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/aggregation/storage"
)

const (
	// defaultMaxSegments caps one reconciliation pass.
	defaultMaxSegments = 20
	// defaultBackfillHours bounds how far back unresolved segments are
	// picked up.
	defaultBackfillHours = 6
)

// Registry lists roster members, optionally filtered by guild.
type Registry interface {
	List(ctx context.Context, guildIDs ...string) ([]Member, error)
}

// SegmentStore is the persisted-segment surface the reconciler needs.
type SegmentStore interface {
	ListUnresolvedSegments(ctx context.Context, since time.Time, limit int) ([]storage.SegmentRecord, error)
	ListSegmentParticipants(ctx context.Context, segmentID string) ([]string, error)
	ListSegmentPlayerNames(ctx context.Context, segmentID string) ([]string, error)
	ReplaceSegmentPresence(ctx context.Context, segmentID string, records []storage.PresenceRecord) error
}

// Result counts one reconciliation pass's outcomes.
type Result struct {
	Processed int
	Failed    int
}

// Service cross-references unresolved segments with the roster.
type Service struct {
	registry      Registry
	segments      SegmentStore
	backfillHours int
	now           func() time.Time
}

// NewService builds the presence reconciler. backfillHours of zero or less
// selects the default.
func NewService(registry Registry, segments SegmentStore, backfillHours int) (*Service, error) {
	if registry == nil {
		return nil, fmt.Errorf("roster registry is required")
	}
	if segments == nil {
		return nil, fmt.Errorf("segment store is required")
	}
	if backfillHours <= 0 {
		backfillHours = defaultBackfillHours
	}
	return &Service{
		registry:      registry,
		segments:      segments,
		backfillHours: backfillHours,
		now:           time.Now,
	}, nil
}

// ProcessPresence resolves roster attendance for unresolved segments, oldest
// first, up to maxSegments (zero or negative selects the default). A
// segment's failure leaves it unresolved for a later pass and does not halt
// the batch.
func (s *Service) ProcessPresence(ctx context.Context, maxSegments int, guildIDs []string) (Result, error) {
	if s == nil {
		return Result{}, fmt.Errorf("service is nil")
	}
	if maxSegments <= 0 {
		maxSegments = defaultMaxSegments
	}

	members, err := s.registry.List(ctx, guildIDs...)
	if err != nil {
		return Result{}, fmt.Errorf("list roster members: %w", err)
	}

	since := s.now().UTC().Add(-time.Duration(s.backfillHours) * time.Hour)
	segments, err := s.segments.ListUnresolvedSegments(ctx, since, maxSegments)
	if err != nil {
		return Result{}, fmt.Errorf("list unresolved segments: %w", err)
	}

	var result Result
	for _, segment := range segments {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.resolveSegment(ctx, segment, members); err != nil {
			log.Printf("roster: segment unresolved id=%s err=%v", segment.ID, err)
			result.Failed++
			continue
		}
		result.Processed++
	}
	log.Printf("roster: pass done processed=%d failed=%d", result.Processed, result.Failed)
	return result, nil
}

func (s *Service) resolveSegment(ctx context.Context, segment storage.SegmentRecord, members []Member) error {
	names, err := s.segments.ListSegmentParticipants(ctx, segment.ID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	if len(names) == 0 {
		names, err = s.segments.ListSegmentPlayerNames(ctx, segment.ID)
		if err != nil {
			return fmt.Errorf("list player names: %w", err)
		}
	}

	canonical := canonicalNames(names)
	records := make([]storage.PresenceRecord, 0, len(members))
	for _, member := range members {
		matched, ok := canonical[canonicalKey(member.Name)]
		records = append(records, storage.PresenceRecord{
			SegmentID:    segment.ID,
			RosterID:     id.DeriveUUID(member.GuildID, member.Name),
			PlayerName:   member.Name,
			MatchedName:  matched,
			Participated: ok,
		})
	}

	if err := s.segments.ReplaceSegmentPresence(ctx, segment.ID, records); err != nil {
		return fmt.Errorf("replace presence: %w", err)
	}
	return nil
}

func canonicalKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// canonicalNames maps case-insensitive keys to the first-seen original
// casing of each observed name.
func canonicalNames(names []string) map[string]string {
	canonical := make(map[string]string, len(names))
	for _, name := range names {
		key := canonicalKey(name)
		if key == "" {
			continue
		}
		if _, ok := canonical[key]; !ok {
			canonical[key] = strings.TrimSpace(name)
		}
	}
	return canonical
}
