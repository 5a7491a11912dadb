// Package storage defines the persistence boundary for window aggregation
// state: hourly windows, reconstructed segments, per-player stats, and
// roster presence rows.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested window or segment record is missing.
var ErrNotFound = errors.New("record not found")

// WindowStatus identifies one aggregation window lifecycle state.
type WindowStatus string

const (
	// WindowStatusPending means the window is queued for processing.
	WindowStatusPending WindowStatus = "pending"
	// WindowStatusInProgress means a worker holds the optimistic claim.
	WindowStatusInProgress WindowStatus = "in_progress"
	// WindowStatusSucceeded means the window's segments are persisted.
	WindowStatusSucceeded WindowStatus = "succeeded"
	// WindowStatusFailed means processing threw; lastError holds the cause.
	WindowStatusFailed WindowStatus = "failed"
)

// WindowRecord stores one hour-aligned aggregation window. WindowStart is
// the primary key.
type WindowRecord struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Status      WindowStatus
	Attempt     int
	LastError   string
	UpdatedAt   time.Time
}

// SegmentRecord stores one persisted combat segment. StartAt/EndAt are nil
// when the corresponding bound was never observed; DurationMs is -1 until
// both bounds are known.
type SegmentRecord struct {
	ID               string
	WindowStart      time.Time
	Content          string
	Status           string
	StartAt          *time.Time
	EndAt            *time.Time
	DurationMs       int64
	Ordinal          int
	GlobalIndex      int
	PresenceResolved bool
}

// PlayerStatRecord stores one player's damage line within a segment.
type PlayerStatRecord struct {
	SegmentID    string
	PlayerName   string
	TotalDamage  int64
	DPS          float64
	Hits         int
	CriticalHits int
	DirectHits   int
	JobCode      string
	Role         string
}

// ParticipantRecord stores one observed participant name for a segment.
type ParticipantRecord struct {
	SegmentID  string
	PlayerName string
}

// IssueRecord flags a segment whose reconstruction was incomplete; IssueType
// carries the segment status that triggered it.
type IssueRecord struct {
	SegmentID   string
	WindowStart time.Time
	IssueType   string
}

// PresenceRecord stores one roster member's attendance verdict for a
// segment. MatchedName is the participant's original casing when matched,
// empty otherwise.
type PresenceRecord struct {
	SegmentID    string
	RosterID     string
	PlayerName   string
	MatchedName  string
	Participated bool
}

// WindowStore persists aggregation window lifecycle state.
type WindowStore interface {
	// EnsureWindows inserts the given windows when absent; existing rows
	// are left untouched.
	EnsureWindows(ctx context.Context, windows []WindowRecord) error
	// LatestWindowStart returns the most recent window start, or
	// ErrNotFound when no windows exist.
	LatestWindowStart(ctx context.Context) (time.Time, error)
	// NextPendingWindow returns the oldest pending window, or ErrNotFound.
	NextPendingWindow(ctx context.Context) (WindowRecord, error)
	// ClaimWindow conditionally moves a pending window to in_progress and
	// increments its attempt count. It reports false when the window was
	// not pending (lost claim race or already processed).
	ClaimWindow(ctx context.Context, windowStart time.Time, now time.Time) (bool, error)
	// MarkWindowSucceeded records a successful run and clears lastError.
	MarkWindowSucceeded(ctx context.Context, windowStart time.Time, now time.Time) error
	// MarkWindowFailed records a failed run with its error text.
	MarkWindowFailed(ctx context.Context, windowStart time.Time, lastError string, now time.Time) error
	// GetWindow loads one window by start time.
	GetWindow(ctx context.Context, windowStart time.Time) (WindowRecord, error)
}

// SegmentStore persists reconstructed segments and their derived rows.
type SegmentStore interface {
	// ReplaceWindowSegments atomically deletes all rows for the window and
	// inserts the given segments, stats, participants, and issues.
	ReplaceWindowSegments(ctx context.Context, windowStart time.Time, segments []SegmentRecord, stats []PlayerStatRecord, participants []ParticipantRecord, issues []IssueRecord) error
	// ListWindowSegments loads the persisted segments for one window,
	// ordered by global index.
	ListWindowSegments(ctx context.Context, windowStart time.Time) ([]SegmentRecord, error)
	// ListUnresolvedSegments loads segments with presence still unresolved
	// and a window start at or after since, oldest first, capped at limit.
	ListUnresolvedSegments(ctx context.Context, since time.Time, limit int) ([]SegmentRecord, error)
	// ListSegmentParticipants loads a segment's participant names.
	ListSegmentParticipants(ctx context.Context, segmentID string) ([]string, error)
	// ListSegmentPlayerNames loads the player names from a segment's stats.
	ListSegmentPlayerNames(ctx context.Context, segmentID string) ([]string, error)
}

// PresenceStore persists roster presence resolution results.
type PresenceStore interface {
	// ReplaceSegmentPresence atomically replaces a segment's presence rows
	// and marks the segment resolved.
	ReplaceSegmentPresence(ctx context.Context, segmentID string, records []PresenceRecord) error
	// ListSegmentPresence loads a segment's presence rows.
	ListSegmentPresence(ctx context.Context, segmentID string) ([]PresenceRecord, error)
}
