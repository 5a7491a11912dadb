// Package sqlite provides the SQLite-backed aggregation store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/platform/storage/sqlitemigrate"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/aggregation/storage"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/services/aggregation/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for aggregation state.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ storage.WindowStore   = (*Store)(nil)
	_ storage.SegmentStore  = (*Store)(nil)
	_ storage.PresenceStore = (*Store)(nil)
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens an aggregation SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// EnsureWindows inserts the given windows when absent.
func (s *Store) EnsureWindows(ctx context.Context, windows []storage.WindowRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if len(windows) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ensure windows: %w", err)
	}
	for _, window := range windows {
		status := window.Status
		if status == "" {
			status = storage.WindowStatusPending
		}
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO aggregation_windows (window_start, window_end, status, attempt, last_error, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
`, toMillis(window.WindowStart), toMillis(window.WindowEnd), status, window.Attempt, window.LastError, toMillis(window.UpdatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert window %s: %w", window.WindowStart.Format(time.RFC3339), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ensure windows: %w", err)
	}
	return nil
}

// LatestWindowStart returns the most recent window start.
func (s *Store) LatestWindowStart(ctx context.Context) (time.Time, error) {
	if err := s.ready(ctx); err != nil {
		return time.Time{}, err
	}
	var start sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT MAX(window_start) FROM aggregation_windows`).Scan(&start)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, storage.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("latest window start: %w", err)
	}
	if !start.Valid {
		return time.Time{}, storage.ErrNotFound
	}
	return fromMillis(start.Int64), nil
}

// NextPendingWindow returns the oldest pending window.
func (s *Store) NextPendingWindow(ctx context.Context) (storage.WindowRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.WindowRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT window_start, window_end, status, attempt, last_error, updated_at
FROM aggregation_windows
WHERE status = ?
ORDER BY window_start ASC
LIMIT 1
`, storage.WindowStatusPending)
	return scanWindow(row.Scan)
}

// ClaimWindow conditionally moves a pending window to in_progress.
func (s *Store) ClaimWindow(ctx context.Context, windowStart time.Time, now time.Time) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE aggregation_windows
SET status = ?, attempt = attempt + 1, updated_at = ?
WHERE window_start = ? AND status = ?
`, storage.WindowStatusInProgress, toMillis(now), toMillis(windowStart), storage.WindowStatusPending)
	if err != nil {
		return false, fmt.Errorf("claim window: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim window rows affected: %w", err)
	}
	return affected == 1, nil
}

// MarkWindowSucceeded records a successful run and clears lastError.
func (s *Store) MarkWindowSucceeded(ctx context.Context, windowStart time.Time, now time.Time) error {
	return s.markWindow(ctx, windowStart, storage.WindowStatusSucceeded, "", now)
}

// MarkWindowFailed records a failed run with its error text.
func (s *Store) MarkWindowFailed(ctx context.Context, windowStart time.Time, lastError string, now time.Time) error {
	return s.markWindow(ctx, windowStart, storage.WindowStatusFailed, lastError, now)
}

func (s *Store) markWindow(ctx context.Context, windowStart time.Time, status storage.WindowStatus, lastError string, now time.Time) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE aggregation_windows SET status = ?, last_error = ?, updated_at = ? WHERE window_start = ?
`, status, lastError, toMillis(now), toMillis(windowStart))
	if err != nil {
		return fmt.Errorf("mark window %s: %w", status, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark window rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetWindow loads one window by start time.
func (s *Store) GetWindow(ctx context.Context, windowStart time.Time) (storage.WindowRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.WindowRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT window_start, window_end, status, attempt, last_error, updated_at
FROM aggregation_windows
WHERE window_start = ?
`, toMillis(windowStart))
	return scanWindow(row.Scan)
}

func scanWindow(scan func(...any) error) (storage.WindowRecord, error) {
	var (
		start, end, updated int64
		status, lastError   string
		attempt             int
	)
	if err := scan(&start, &end, &status, &attempt, &lastError, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.WindowRecord{}, storage.ErrNotFound
		}
		return storage.WindowRecord{}, fmt.Errorf("scan window: %w", err)
	}
	return storage.WindowRecord{
		WindowStart: fromMillis(start),
		WindowEnd:   fromMillis(end),
		Status:      storage.WindowStatus(status),
		Attempt:     attempt,
		LastError:   lastError,
		UpdatedAt:   fromMillis(updated),
	}, nil
}

// ReplaceWindowSegments atomically replaces all persisted rows for a window.
func (s *Store) ReplaceWindowSegments(ctx context.Context, windowStart time.Time, segments []storage.SegmentRecord, stats []storage.PlayerStatRecord, participants []storage.ParticipantRecord, issues []storage.IssueRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin window replace: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback window replace: %v", cause, rollbackErr)
		}
		return cause
	}

	// Child rows cascade from segment deletion.
	if _, err := tx.ExecContext(ctx, `DELETE FROM combat_segments WHERE window_start = ?`, toMillis(windowStart)); err != nil {
		return rollbackWith(fmt.Errorf("delete window segments: %w", err))
	}

	for _, segment := range segments {
		if strings.TrimSpace(segment.ID) == "" {
			return rollbackWith(fmt.Errorf("segment id is required"))
		}
		var startAt, endAt any
		if segment.StartAt != nil {
			startAt = toMillis(*segment.StartAt)
		}
		if segment.EndAt != nil {
			endAt = toMillis(*segment.EndAt)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO combat_segments (id, window_start, content, status, start_at, end_at, duration_ms, ordinal, global_index, presence_resolved)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
`, segment.ID, toMillis(windowStart), segment.Content, segment.Status, startAt, endAt, segment.DurationMs, segment.Ordinal, segment.GlobalIndex); err != nil {
			return rollbackWith(fmt.Errorf("insert segment %s: %w", segment.ID, err))
		}
	}

	for _, stat := range stats {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO segment_player_stats (segment_id, player_name, total_damage, dps, hits, critical_hits, direct_hits, job_code, role)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, stat.SegmentID, stat.PlayerName, stat.TotalDamage, stat.DPS, stat.Hits, stat.CriticalHits, stat.DirectHits, stat.JobCode, stat.Role); err != nil {
			return rollbackWith(fmt.Errorf("insert player stat %s/%s: %w", stat.SegmentID, stat.PlayerName, err))
		}
	}

	for _, participant := range participants {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO segment_participants (segment_id, player_name) VALUES (?, ?)
`, participant.SegmentID, participant.PlayerName); err != nil {
			return rollbackWith(fmt.Errorf("insert participant %s/%s: %w", participant.SegmentID, participant.PlayerName, err))
		}
	}

	for _, issue := range issues {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO segment_issues (segment_id, window_start, issue_type) VALUES (?, ?, ?)
`, issue.SegmentID, toMillis(issue.WindowStart), issue.IssueType); err != nil {
			return rollbackWith(fmt.Errorf("insert issue %s: %w", issue.SegmentID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit window replace: %w", err)
	}
	return nil
}

// ListWindowSegments loads a window's segments ordered by global index.
func (s *Store) ListWindowSegments(ctx context.Context, windowStart time.Time) ([]storage.SegmentRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, window_start, content, status, start_at, end_at, duration_ms, ordinal, global_index, presence_resolved
FROM combat_segments
WHERE window_start = ?
ORDER BY global_index ASC
`, toMillis(windowStart))
	if err != nil {
		return nil, fmt.Errorf("list window segments: %w", err)
	}
	defer rows.Close()
	return collectSegments(rows)
}

// ListUnresolvedSegments loads presence-unresolved segments, oldest first.
func (s *Store) ListUnresolvedSegments(ctx context.Context, since time.Time, limit int) ([]storage.SegmentRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, window_start, content, status, start_at, end_at, duration_ms, ordinal, global_index, presence_resolved
FROM combat_segments
WHERE presence_resolved = 0 AND window_start >= ?
ORDER BY window_start ASC, global_index ASC
LIMIT ?
`, toMillis(since), limit)
	if err != nil {
		return nil, fmt.Errorf("list unresolved segments: %w", err)
	}
	defer rows.Close()
	return collectSegments(rows)
}

func collectSegments(rows *sql.Rows) ([]storage.SegmentRecord, error) {
	var segments []storage.SegmentRecord
	for rows.Next() {
		var (
			record           storage.SegmentRecord
			windowStart      int64
			startAt, endAt   sql.NullInt64
			presenceResolved int
		)
		if err := rows.Scan(&record.ID, &windowStart, &record.Content, &record.Status, &startAt, &endAt, &record.DurationMs, &record.Ordinal, &record.GlobalIndex, &presenceResolved); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		record.WindowStart = fromMillis(windowStart)
		if startAt.Valid {
			value := fromMillis(startAt.Int64)
			record.StartAt = &value
		}
		if endAt.Valid {
			value := fromMillis(endAt.Int64)
			record.EndAt = &value
		}
		record.PresenceResolved = presenceResolved == 1
		segments = append(segments, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return segments, nil
}

// ListSegmentParticipants loads a segment's participant names.
func (s *Store) ListSegmentParticipants(ctx context.Context, segmentID string) ([]string, error) {
	return s.listNames(ctx, `SELECT player_name FROM segment_participants WHERE segment_id = ? ORDER BY player_name ASC`, segmentID)
}

// ListSegmentPlayerNames loads the player names from a segment's stats.
func (s *Store) ListSegmentPlayerNames(ctx context.Context, segmentID string) ([]string, error) {
	return s.listNames(ctx, `SELECT player_name FROM segment_player_stats WHERE segment_id = ? ORDER BY total_damage DESC, player_name ASC`, segmentID)
}

func (s *Store) listNames(ctx context.Context, query string, segmentID string) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(segmentID) == "" {
		return nil, fmt.Errorf("segment id is required")
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, segmentID)
	if err != nil {
		return nil, fmt.Errorf("list segment names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan segment name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segment names: %w", err)
	}
	return names, nil
}

// ReplaceSegmentPresence atomically replaces a segment's presence rows and
// marks the segment resolved.
func (s *Store) ReplaceSegmentPresence(ctx context.Context, segmentID string, records []storage.PresenceRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(segmentID) == "" {
		return fmt.Errorf("segment id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin presence replace: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback presence replace: %v", cause, rollbackErr)
		}
		return cause
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM segment_roster_presence WHERE segment_id = ?`, segmentID); err != nil {
		return rollbackWith(fmt.Errorf("delete segment presence: %w", err))
	}
	for _, record := range records {
		participated := 0
		if record.Participated {
			participated = 1
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO segment_roster_presence (segment_id, roster_id, player_name, matched_name, participated)
VALUES (?, ?, ?, ?, ?)
`, segmentID, record.RosterID, record.PlayerName, record.MatchedName, participated); err != nil {
			return rollbackWith(fmt.Errorf("insert presence %s/%s: %w", segmentID, record.RosterID, err))
		}
	}

	result, err := tx.ExecContext(ctx, `UPDATE combat_segments SET presence_resolved = 1 WHERE id = ?`, segmentID)
	if err != nil {
		return rollbackWith(fmt.Errorf("mark segment resolved: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return rollbackWith(fmt.Errorf("mark segment resolved rows affected: %w", err))
	}
	if affected == 0 {
		return rollbackWith(storage.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit presence replace: %w", err)
	}
	return nil
}

// ListSegmentPresence loads a segment's presence rows.
func (s *Store) ListSegmentPresence(ctx context.Context, segmentID string) ([]storage.PresenceRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(segmentID) == "" {
		return nil, fmt.Errorf("segment id is required")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT segment_id, roster_id, player_name, matched_name, participated
FROM segment_roster_presence
WHERE segment_id = ?
ORDER BY player_name ASC
`, segmentID)
	if err != nil {
		return nil, fmt.Errorf("list segment presence: %w", err)
	}
	defer rows.Close()

	var records []storage.PresenceRecord
	for rows.Next() {
		var (
			record       storage.PresenceRecord
			participated int
		)
		if err := rows.Scan(&record.SegmentID, &record.RosterID, &record.PlayerName, &record.MatchedName, &participated); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		record.Participated = participated == 1
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presence: %w", err)
	}
	return records, nil
}
