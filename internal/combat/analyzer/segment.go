package analyzer

import (
	"fmt"
	"sort"
	"time"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/event"
)

// Status describes how completely a segment's bounds were reconstructed.
type Status string

const (
	// StatusCompleted means both start and end markers were found.
	StatusCompleted Status = "completed"
	// StatusMissingStart means an end marker arrived with no open start.
	StatusMissingStart Status = "missing_start"
	// StatusMissingEnd means a start marker was never closed.
	StatusMissingEnd Status = "missing_end"
)

// startDebounceNs suppresses duplicate start markers the log source
// occasionally double-emits within a short interval.
const startDebounceNs = int64(120 * time.Second)

// PlayerStats is one player's damage contribution within a segment.
type PlayerStats struct {
	Name         string
	TotalDamage  int64
	DPS          float64
	Hits         int
	CriticalHits int
	DirectHits   int
	JobCode      string
	Role         string
}

// Segment is one reconstructed duty run. StartNs/EndNs of zero and zero
// time.Time values mean the bound is unknown; DurationMs is -1 until both
// bounds are known.
type Segment struct {
	ID           string
	Content      string
	StartNs      int64
	EndNs        int64
	Start        time.Time
	End          time.Time
	Status       Status
	DurationMs   int64
	Ordinal      int
	GlobalIndex  int
	Players      []PlayerStats
	Participants []string
}

// refNs is the segment ordering key: start when known, end otherwise.
func (s *Segment) refNs() int64 {
	if s.StartNs != 0 {
		return s.StartNs
	}
	return s.EndNs
}

// BuildSegments pairs start and end events into segments. Events must be
// sorted ascending by timestamp.
//
// Pairing is FIFO per content name: an end closes the oldest still-open
// start for that content. This approximates real behavior when runs of the
// same duty are sequential; overlapping runs of one duty cannot be
// disambiguated from the log alone.
func BuildSegments(events []event.Event) []*Segment {
	var segments []*Segment
	open := make(map[string][]*Segment)

	for _, evt := range events {
		switch e := evt.(type) {
		case event.Start:
			queue := open[e.Content]
			if len(queue) > 0 {
				last := queue[len(queue)-1]
				if last.StartNs != 0 && e.TimestampNs-last.StartNs <= startDebounceNs {
					// Duplicate emission of the same start line.
					continue
				}
			}
			seg := &Segment{
				ID:         fmt.Sprintf("%d-%s", e.TimestampNs, e.Content),
				Content:    e.Content,
				StartNs:    e.TimestampNs,
				Start:      e.Timestamp,
				Status:     StatusMissingEnd,
				DurationMs: -1,
			}
			open[e.Content] = append(queue, seg)
			segments = append(segments, seg)

		case event.End:
			queue := open[e.Content]
			if len(queue) > 0 {
				seg := queue[0]
				open[e.Content] = queue[1:]
				seg.EndNs = e.TimestampNs
				seg.End = e.Timestamp
				seg.Status = StatusCompleted
				continue
			}
			segments = append(segments, &Segment{
				ID:         fmt.Sprintf("end-%d-%s", e.TimestampNs, e.Content),
				Content:    e.Content,
				EndNs:      e.TimestampNs,
				End:        e.Timestamp,
				Status:     StatusMissingStart,
				DurationMs: -1,
			})
		}
	}

	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].refNs() < segments[j].refNs()
	})
	return segments
}

// AssignOrdinals numbers segments 1-based per distinct content name, in the
// order segments appear (callers pass the chronologically sorted slice).
func AssignOrdinals(segments []*Segment) {
	counters := make(map[string]int)
	for _, seg := range segments {
		counters[seg.Content]++
		seg.Ordinal = counters[seg.Content]
	}
}
