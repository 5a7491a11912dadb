package event

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/loki"
)

var (
	startPattern = regexp.MustCompile(`「(.+?)」の攻略を開始した。`)
	endPattern   = regexp.MustCompile(`「(.+?)」の攻略を終了した。`)
	digitsOnly   = regexp.MustCompile(`^\d+$`)
)

// maxPlausibleDamage bounds the trailing-field scan on structured lines;
// larger integers are sequence numbers or ids, not damage amounts.
const maxPlausibleDamage = 1_000_000_000

// Parse converts Loki entries into typed events, in input order. Entries that
// match no known shape are dropped.
func Parse(entries []loki.Entry) []Event {
	events := make([]Event, 0, len(entries))
	for _, entry := range entries {
		if evt := parseEntry(entry); evt != nil {
			events = append(events, evt)
		}
	}
	return events
}

func parseEntry(entry loki.Entry) Event {
	parts := strings.Split(entry.Normalized, "|")
	base := Base{TimestampNs: entry.TimestampNs, Timestamp: entry.Timestamp}

	switch parts[0] {
	case "00":
		return parseSystemMessage(base, parts)
	case "03":
		if len(parts) < 4 {
			return nil
		}
		return CombatantAdd{Base: base, ID: parts[2], Name: parts[3]}
	case "04":
		if len(parts) < 4 {
			return nil
		}
		return CombatantRemove{Base: base, ID: parts[2], Name: parts[3]}
	case "261":
		return parseAttributeUpdate(base, parts)
	case "21", "22":
		return parseStructuredAbility(base, parts, entry.Labels)
	default:
		return Unknown{Base: base}
	}
}

func parseSystemMessage(base Base, parts []string) Event {
	if len(parts) < 5 {
		return nil
	}
	message := parts[4]

	if m := startPattern.FindStringSubmatch(message); m != nil {
		return Start{Base: base, Content: m[1]}
	}
	if m := endPattern.FindStringSubmatch(message); m != nil {
		return End{Base: base, Content: m[1]}
	}
	if detail, ok := ParseDamageMessage(message); ok {
		return Damage{
			Base:       base,
			Actor:      detail.Actor,
			Target:     detail.Target,
			Amount:     detail.Amount,
			IsCritical: detail.IsCritical,
			IsDirect:   detail.IsDirect,
		}
	}
	return nil
}

// parseAttributeUpdate reads a 261 Add line. Fields from index 4 onward are
// alternating key/value pairs; only Name and Job are extracted.
func parseAttributeUpdate(base Base, parts []string) Event {
	if len(parts) < 6 || parts[2] != "Add" {
		return nil
	}
	attrs := make(map[string]string)
	for i := 4; i+1 < len(parts); i += 2 {
		if parts[i] != "" {
			attrs[parts[i]] = parts[i+1]
		}
	}
	jobID := 0
	if raw, ok := attrs["Job"]; ok && digitsOnly.MatchString(raw) {
		if parsed, err := strconv.Atoi(raw); err == nil {
			jobID = parsed
		}
	}
	return AttributeUpdate{
		Base:  base,
		ID:    parts[3],
		Name:  attrs["Name"],
		JobID: jobID,
	}
}

// parseStructuredAbility reads a type 21/22 line. Label side-channel fields
// take precedence over positional fields; when a damage amount can be
// resolved the line becomes a Damage event, otherwise an Ability cast.
func parseStructuredAbility(base Base, parts []string, labels map[string]string) Event {
	actor := labelOrField(labels, "actor", parts, 3)
	target := labelOrField(labels, "target", parts, 7)

	amount := int64(-1)
	if raw := labelOrField(labels, "amount", parts, 33); digitsOnly.MatchString(raw) {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			amount = parsed
		}
	}
	if amount < 0 {
		// The damage amount has no fixed offset across patch versions; take
		// the last plausible integer field.
		for i := len(parts) - 1; i >= 0; i-- {
			if !digitsOnly.MatchString(parts[i]) {
				continue
			}
			parsed, err := strconv.ParseInt(parts[i], 10, 64)
			if err == nil && parsed < maxPlausibleDamage {
				amount = parsed
				break
			}
		}
	}

	if actor != "" && amount >= 0 {
		return Damage{
			Base:       base,
			Actor:      actor,
			Target:     target,
			Amount:     amount,
			IsCritical: strings.EqualFold(labels["isCritical"], "true"),
			IsDirect:   strings.EqualFold(labels["isDirect"], "true"),
		}
	}

	if len(parts) < 8 {
		return nil
	}
	return Ability{
		Base:        base,
		SourceID:    labelOrField(labels, "sourceID", parts, 2),
		SourceName:  labelOrField(labels, "sourceName", parts, 3),
		AbilityID:   labelOrField(labels, "abilityID", parts, 4),
		AbilityName: labelOrField(labels, "abilityName", parts, 5),
		TargetID:    labelOrField(labels, "targetID", parts, 6),
		TargetName:  labelOrField(labels, "targetName", parts, 7),
	}
}

func labelOrField(labels map[string]string, label string, parts []string, index int) string {
	if v, ok := labels[label]; ok && v != "" {
		return v
	}
	if index < len(parts) {
		return parts[index]
	}
	return ""
}
