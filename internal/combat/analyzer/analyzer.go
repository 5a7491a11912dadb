// Package analyzer reconstructs combat segments from parsed log events and
// attributes damage and participation to players.
package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/event"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/gamedata"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/loki"
)

// LogSource provides normalized log entries for a time range.
type LogSource interface {
	QueryRange(ctx context.Context, start, end time.Time) ([]loki.Entry, error)
}

// Analyzer runs the full reconstruction pipeline over a log source.
type Analyzer struct {
	source LogSource
	tables gamedata.Tables
}

// New builds an Analyzer over the given source and reference tables.
func New(source LogSource, tables gamedata.Tables) (*Analyzer, error) {
	if source == nil {
		return nil, fmt.Errorf("log source is required")
	}
	return &Analyzer{source: source, tables: tables}, nil
}

// AnalyzeRange fetches log entries for [start, end), parses them, and returns
// fully attributed segments sorted chronologically. Segments whose reference
// timestamp falls outside the fetch range are still returned; callers filter
// by window bounds when persisting.
func (a *Analyzer) AnalyzeRange(ctx context.Context, start, end time.Time) ([]*Segment, error) {
	if a == nil {
		return nil, fmt.Errorf("analyzer is nil")
	}
	entries, err := a.source.QueryRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("query log range: %w", err)
	}
	return a.Analyze(entries), nil
}

// Analyze runs the pipeline over already-fetched entries.
func (a *Analyzer) Analyze(entries []loki.Entry) []*Segment {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TimestampNs < entries[j].TimestampNs
	})
	events := event.Parse(entries)

	var (
		adds      []event.CombatantAdd
		removes   []event.CombatantRemove
		attrs     []event.AttributeUpdate
		abilities []event.Ability
		damage    []event.Damage
	)
	for _, evt := range events {
		switch e := evt.(type) {
		case event.CombatantAdd:
			adds = append(adds, e)
		case event.CombatantRemove:
			removes = append(removes, e)
		case event.AttributeUpdate:
			attrs = append(attrs, e)
		case event.Ability:
			abilities = append(abilities, e)
		case event.Damage:
			damage = append(damage, e)
		}
	}

	reg := buildRegistry(adds, attrs, a.tables)
	segments := BuildSegments(events)
	assignParticipants(segments, adds, removes, reg)
	jobsBySegment := inferJobsFromAbilities(segments, abilities, reg, a.tables)
	attachDamage(segments, damage, jobsBySegment, reg, a.tables)
	AssignOrdinals(segments)
	return segments
}
