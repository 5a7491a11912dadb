package event

import (
	"testing"
	"time"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/loki"
)

func entry(ns int64, line string, labels map[string]string) loki.Entry {
	return loki.Entry{
		TimestampNs: ns,
		Timestamp:   time.Unix(0, ns).UTC(),
		Normalized:  line,
		Labels:      labels,
	}
}

func TestParseStartAndEnd(t *testing.T) {
	events := Parse([]loki.Entry{
		entry(1, "00|2024-10-08T20:00:00+0900|0839||「極エデン討滅戦」の攻略を開始した。|hash", nil),
		entry(2, "00|2024-10-08T20:10:00+0900|0839||「極エデン討滅戦」の攻略を終了した。|hash", nil),
	})
	if len(events) != 2 {
		t.Fatalf("events len = %d, want 2", len(events))
	}
	start, ok := events[0].(Start)
	if !ok {
		t.Fatalf("events[0] = %T, want Start", events[0])
	}
	if start.Content != "極エデン討滅戦" {
		t.Fatalf("start content = %q", start.Content)
	}
	end, ok := events[1].(End)
	if !ok {
		t.Fatalf("events[1] = %T, want End", events[1])
	}
	if end.Content != "極エデン討滅戦" {
		t.Fatalf("end content = %q", end.Content)
	}
}

func TestParseSystemDamageFallback(t *testing.T) {
	events := Parse([]loki.Entry{
		entry(1, "00|ts|0b3a||太郎の攻撃 花子に123ダメージ。|hash", nil),
	})
	if len(events) != 1 {
		t.Fatalf("events len = %d, want 1", len(events))
	}
	dmg, ok := events[0].(Damage)
	if !ok {
		t.Fatalf("events[0] = %T, want Damage", events[0])
	}
	if dmg.Actor != "太郎" || dmg.Target != "花子" || dmg.Amount != 123 {
		t.Fatalf("damage = %+v", dmg)
	}
}

func TestParseDiscardsUnmatchedSystemMessage(t *testing.T) {
	events := Parse([]loki.Entry{
		entry(1, "00|ts|0839||冒険者が加入した。|hash", nil),
	})
	if len(events) != 0 {
		t.Fatalf("events len = %d, want unmatched system message discarded", len(events))
	}
}

func TestParseCombatants(t *testing.T) {
	events := Parse([]loki.Entry{
		entry(1, "03|ts|10001234|Taro Yamada|00|50|...", nil),
		entry(2, "04|ts|10001234|Taro Yamada|00|50|...", nil),
	})
	if len(events) != 2 {
		t.Fatalf("events len = %d, want 2", len(events))
	}
	add, ok := events[0].(CombatantAdd)
	if !ok || add.ID != "10001234" || add.Name != "Taro Yamada" {
		t.Fatalf("add = %+v (%T)", events[0], events[0])
	}
	remove, ok := events[1].(CombatantRemove)
	if !ok || remove.ID != "10001234" || remove.Name != "Taro Yamada" {
		t.Fatalf("remove = %+v (%T)", events[1], events[1])
	}
}

func TestParseAttributeUpdate(t *testing.T) {
	events := Parse([]loki.Entry{
		entry(1, "261|ts|Add|10001234|Name|Taro Yamada|Job|42|Level|100", nil),
	})
	if len(events) != 1 {
		t.Fatalf("events len = %d, want 1", len(events))
	}
	attr, ok := events[0].(AttributeUpdate)
	if !ok {
		t.Fatalf("events[0] = %T, want AttributeUpdate", events[0])
	}
	if attr.ID != "10001234" || attr.Name != "Taro Yamada" || attr.JobID != 42 {
		t.Fatalf("attr = %+v", attr)
	}
}

func TestParseAttributeUpdateRejectsNonAdd(t *testing.T) {
	events := Parse([]loki.Entry{
		entry(1, "261|ts|Remove|10001234|Name|Taro Yamada|Job|42", nil),
	})
	if len(events) != 0 {
		t.Fatalf("events len = %d, want non-Add 261 discarded", len(events))
	}
}

func TestParseStructuredDamageFromLabels(t *testing.T) {
	events := Parse([]loki.Entry{
		entry(1, "21|ts|10001234|Taro Yamada|1D05|Fire IV|40001234|Golem", map[string]string{
			"actor":      "Taro Yamada",
			"target":     "Golem",
			"amount":     "4321",
			"isCritical": "true",
			"isDirect":   "false",
		}),
	})
	if len(events) != 1 {
		t.Fatalf("events len = %d, want 1", len(events))
	}
	dmg, ok := events[0].(Damage)
	if !ok {
		t.Fatalf("events[0] = %T, want Damage", events[0])
	}
	if dmg.Actor != "Taro Yamada" || dmg.Amount != 4321 || !dmg.IsCritical || dmg.IsDirect {
		t.Fatalf("damage = %+v", dmg)
	}
}

func TestParseStructuredDamageScansTrailingAmount(t *testing.T) {
	// No amount label and no field 33: the last integer under one billion
	// is taken as the damage amount.
	events := Parse([]loki.Entry{
		entry(1, "22|ts|10001234|Taro Yamada|1D05|Fire IV|40001234|Golem|9999999999|777", nil),
	})
	if len(events) != 1 {
		t.Fatalf("events len = %d, want 1", len(events))
	}
	dmg, ok := events[0].(Damage)
	if !ok {
		t.Fatalf("events[0] = %T, want Damage", events[0])
	}
	if dmg.Amount != 777 {
		t.Fatalf("amount = %d, want trailing scan to pick 777", dmg.Amount)
	}
}

func TestParseStructuredAbilityWithoutActor(t *testing.T) {
	// An empty source name keeps the line out of the damage branch; the
	// label side-channel still identifies the cast.
	events := Parse([]loki.Entry{
		entry(1, "21|ts|1000A234||1D05|Fire IV|4000B567|Golem", map[string]string{
			"sourceName": "Taro Yamada",
		}),
	})
	if len(events) != 1 {
		t.Fatalf("events len = %d, want 1", len(events))
	}
	ability, ok := events[0].(Ability)
	if !ok {
		t.Fatalf("events[0] = %T, want Ability", events[0])
	}
	if ability.SourceID != "1000A234" || ability.AbilityID != "1D05" || ability.TargetName != "Golem" {
		t.Fatalf("ability = %+v", ability)
	}
	if ability.SourceName != "Taro Yamada" {
		t.Fatalf("source name = %q, want label value", ability.SourceName)
	}
}

func TestParseUnknownTypeCode(t *testing.T) {
	events := Parse([]loki.Entry{
		entry(42, "39|ts|whatever", nil),
	})
	if len(events) != 1 {
		t.Fatalf("events len = %d, want 1", len(events))
	}
	if _, ok := events[0].(Unknown); !ok {
		t.Fatalf("events[0] = %T, want Unknown", events[0])
	}
	if events[0].Nanos() != 42 {
		t.Fatalf("nanos = %d, want 42", events[0].Nanos())
	}
}
