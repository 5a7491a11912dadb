// Package aggregation schedules hourly log windows and persists the combat
// segments reconstructed from each one.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/analyzer"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/platform/id"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/aggregation/storage"
)

const (
	// defaultBackfillHours bounds the first run's window creation.
	defaultBackfillHours = 6
	// windowBuffer keeps the most recent hour out of scheduling until its
	// late-arriving lines have landed, and widens each fetch so segments
	// ending just past the hour boundary are still captured.
	windowBuffer = 15 * time.Minute
	// maxErrorLength truncates persisted failure text.
	maxErrorLength = 500
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	storage.WindowStore
	storage.SegmentStore
}

// SegmentAnalyzer runs the parse and attribution pipeline for a time range.
type SegmentAnalyzer interface {
	AnalyzeRange(ctx context.Context, start, end time.Time) ([]*analyzer.Segment, error)
}

// Result counts one batch run's outcomes.
type Result struct {
	Processed int
	Failed    int
}

// Service drives window creation, claiming, and persistence.
type Service struct {
	store         Store
	analyzer      SegmentAnalyzer
	backfillHours int
	now           func() time.Time
}

// NewService builds the window aggregation service. backfillHours of zero or
// less selects the default.
func NewService(store Store, segmentAnalyzer SegmentAnalyzer, backfillHours int) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if segmentAnalyzer == nil {
		return nil, fmt.Errorf("segment analyzer is required")
	}
	if backfillHours <= 0 {
		backfillHours = defaultBackfillHours
	}
	return &Service{
		store:         store,
		analyzer:      segmentAnalyzer,
		backfillHours: backfillHours,
		now:           time.Now,
	}, nil
}

// EnsureWindows creates pending hour windows up to the safety-buffered
// present. The first run backfills; later runs extend from the latest
// existing window, keeping the sequence contiguous.
func (s *Service) EnsureWindows(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("service is nil")
	}
	now := s.now().UTC()
	limitStart := now.Add(-windowBuffer).Truncate(time.Hour)

	var from time.Time
	latest, err := s.store.LatestWindowStart(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		from = limitStart.Add(-time.Duration(s.backfillHours) * time.Hour)
	case err != nil:
		return fmt.Errorf("load latest window: %w", err)
	default:
		from = latest.Add(time.Hour)
	}

	var windows []storage.WindowRecord
	for start := from; start.Before(limitStart); start = start.Add(time.Hour) {
		windows = append(windows, storage.WindowRecord{
			WindowStart: start,
			WindowEnd:   start.Add(time.Hour),
			Status:      storage.WindowStatusPending,
			UpdatedAt:   now,
		})
	}
	if len(windows) == 0 {
		return nil
	}
	if err := s.store.EnsureWindows(ctx, windows); err != nil {
		return fmt.Errorf("ensure windows: %w", err)
	}
	log.Printf("aggregation: ensured windows count=%d from=%s", len(windows), windows[0].WindowStart.Format(time.RFC3339))
	return nil
}

// ProcessPendingWindows claims and processes pending windows oldest first,
// up to maxWindows (zero or negative means unbounded). A window's failure is
// recorded and does not halt the batch.
func (s *Service) ProcessPendingWindows(ctx context.Context, maxWindows int) (Result, error) {
	if s == nil {
		return Result{}, fmt.Errorf("service is nil")
	}

	var result Result
	for maxWindows <= 0 || result.Processed+result.Failed < maxWindows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		window, err := s.store.NextPendingWindow(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("next pending window: %w", err)
		}

		claimed, err := s.store.ClaimWindow(ctx, window.WindowStart, s.now().UTC())
		if err != nil {
			return result, fmt.Errorf("claim window: %w", err)
		}
		if !claimed {
			// Lost the race; the window is no longer pending.
			continue
		}

		if err := s.processWindow(ctx, window); err != nil {
			log.Printf("aggregation: window failed start=%s err=%v", window.WindowStart.Format(time.RFC3339), err)
			if markErr := s.store.MarkWindowFailed(ctx, window.WindowStart, truncateError(err), s.now().UTC()); markErr != nil {
				return result, fmt.Errorf("mark window failed: %w", markErr)
			}
			result.Failed++
			continue
		}
		if err := s.store.MarkWindowSucceeded(ctx, window.WindowStart, s.now().UTC()); err != nil {
			return result, fmt.Errorf("mark window succeeded: %w", err)
		}
		result.Processed++
	}
	log.Printf("aggregation: batch done processed=%d failed=%d", result.Processed, result.Failed)
	return result, nil
}

func (s *Service) processWindow(ctx context.Context, window storage.WindowRecord) error {
	fetchEnd := window.WindowEnd.Add(windowBuffer)
	segments, err := s.analyzer.AnalyzeRange(ctx, window.WindowStart, fetchEnd)
	if err != nil {
		return fmt.Errorf("analyze window: %w", err)
	}

	owned := filterWindowSegments(segments, window)
	segmentRecords, statRecords, participantRecords, issueRecords := buildRecords(owned, window)
	if err := s.store.ReplaceWindowSegments(ctx, window.WindowStart, segmentRecords, statRecords, participantRecords, issueRecords); err != nil {
		return fmt.Errorf("persist window: %w", err)
	}
	return nil
}

// filterWindowSegments keeps segments whose reference time falls inside the
// window. Segments that started in an earlier hour belong to that hour's
// run, even when their end landed in this fetch range.
func filterWindowSegments(segments []*analyzer.Segment, window storage.WindowRecord) []*analyzer.Segment {
	startNs := window.WindowStart.UnixNano()
	endNs := window.WindowEnd.UnixNano()

	var owned []*analyzer.Segment
	for _, seg := range segments {
		ref := seg.StartNs
		if ref == 0 {
			ref = seg.EndNs
		}
		if ref >= startNs && ref < endNs {
			owned = append(owned, seg)
		}
	}
	return owned
}

func buildRecords(segments []*analyzer.Segment, window storage.WindowRecord) ([]storage.SegmentRecord, []storage.PlayerStatRecord, []storage.ParticipantRecord, []storage.IssueRecord) {
	var (
		segmentRecords     []storage.SegmentRecord
		statRecords        []storage.PlayerStatRecord
		participantRecords []storage.ParticipantRecord
		issueRecords       []storage.IssueRecord
	)
	windowKey := window.WindowStart.UTC().Format(time.RFC3339Nano)

	for _, seg := range segments {
		segmentID := id.DeriveUUID(windowKey, seg.ID, seg.Content)

		record := storage.SegmentRecord{
			ID:          segmentID,
			WindowStart: window.WindowStart,
			Content:     seg.Content,
			Status:      string(seg.Status),
			DurationMs:  seg.DurationMs,
			Ordinal:     seg.Ordinal,
			GlobalIndex: seg.GlobalIndex,
		}
		if seg.StartNs != 0 {
			start := seg.Start.UTC()
			record.StartAt = &start
		}
		if seg.EndNs != 0 {
			end := seg.End.UTC()
			record.EndAt = &end
		}
		segmentRecords = append(segmentRecords, record)

		for _, player := range seg.Players {
			statRecords = append(statRecords, storage.PlayerStatRecord{
				SegmentID:    segmentID,
				PlayerName:   player.Name,
				TotalDamage:  player.TotalDamage,
				DPS:          player.DPS,
				Hits:         player.Hits,
				CriticalHits: player.CriticalHits,
				DirectHits:   player.DirectHits,
				JobCode:      player.JobCode,
				Role:         player.Role,
			})
		}
		for _, name := range seg.Participants {
			participantRecords = append(participantRecords, storage.ParticipantRecord{
				SegmentID:  segmentID,
				PlayerName: name,
			})
		}
		if seg.Status != analyzer.StatusCompleted {
			issueRecords = append(issueRecords, storage.IssueRecord{
				SegmentID:   segmentID,
				WindowStart: window.WindowStart,
				IssueType:   string(seg.Status),
			})
		}
	}
	return segmentRecords, statRecords, participantRecords, issueRecords
}

func truncateError(err error) string {
	text := err.Error()
	if len(text) > maxErrorLength {
		return text[:maxErrorLength]
	}
	return text
}
