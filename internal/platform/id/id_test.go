package id

import (
	"regexp"
	"testing"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestDeriveUUIDStable(t *testing.T) {
	first := DeriveUUID("2024-10-08T01:00:00Z", "12345-extreme", "極エデン")
	second := DeriveUUID("2024-10-08T01:00:00Z", "12345-extreme", "極エデン")
	if first != second {
		t.Fatalf("uuid not stable: %q vs %q", first, second)
	}
	if !uuidPattern.MatchString(first) {
		t.Fatalf("uuid %q does not match expected format", first)
	}
}

func TestDeriveUUIDDistinguishesParts(t *testing.T) {
	a := DeriveUUID("guild-1", "Taro Yamada")
	b := DeriveUUID("guild-2", "Taro Yamada")
	if a == b {
		t.Fatalf("uuids for different guilds collide: %q", a)
	}
}
