// Package event converts raw network-log lines into typed combat events.
//
// Line layout follows the ACT network log format: pipe-delimited fields with
// a numeric type code in field 0 (cactbot LogGuide). Lines that do not parse
// into a known shape are skipped, never surfaced as errors.
package event

import "time"

// Base carries the fields common to every parsed event.
type Base struct {
	TimestampNs int64
	Timestamp   time.Time
}

// Nanos returns the event timestamp in nanoseconds since the epoch.
func (b Base) Nanos() int64 { return b.TimestampNs }

// Time returns the event timestamp.
func (b Base) Time() time.Time { return b.Timestamp }

// Event is the closed set of parsed combat events. Consumers type-switch on
// the concrete variants below.
type Event interface {
	Nanos() int64
	Time() time.Time
}

// Start marks the beginning of a duty (「X」の攻略を開始した。).
type Start struct {
	Base
	Content string
}

// End marks the end of a duty (「X」の攻略を終了した。).
type End struct {
	Base
	Content string
}

// Damage is one dealt-damage occurrence, extracted from a system message or
// from a structured ability line. An empty Actor means the source could not
// be determined.
type Damage struct {
	Base
	Actor      string
	Target     string
	Amount     int64
	IsCritical bool
	IsDirect   bool
}

// Ability is a structured ability cast (type 21/22) that carried no damage
// amount. Ability ids are uppercase hex as they appear in the log.
type Ability struct {
	Base
	SourceID    string
	SourceName  string
	TargetID    string
	TargetName  string
	AbilityID   string
	AbilityName string
}

// CombatantAdd records a combatant entering the instance (type 03).
type CombatantAdd struct {
	Base
	ID   string
	Name string
}

// CombatantRemove records a combatant leaving the instance (type 04).
type CombatantRemove struct {
	Base
	ID   string
	Name string
}

// AttributeUpdate is a type-261 attribute enumeration carrying the combatant
// name and numeric job id. A JobID of zero means the attribute list had no
// usable Job entry.
type AttributeUpdate struct {
	Base
	ID    string
	Name  string
	JobID int
}

// Unknown is an event whose type code has no dedicated parser. It carries
// only its timestamp.
type Unknown struct {
	Base
}
