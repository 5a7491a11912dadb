package event

import (
	"regexp"
	"strconv"
	"strings"
)

// DamageDetail is the result of extracting a dealt-damage message.
type DamageDetail struct {
	Actor      string
	Target     string
	Amount     int64
	IsCritical bool
	IsDirect   bool
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	amountSuffix  = regexp.MustCompile(`(\d+)(?:\([^)]*\))?ダメージ。$`)

	// Three message shapes, tried in order: attack with named actor,
	// crit/direct marker without actor, bare target.
	actorDamage  = regexp.MustCompile(`^(.+?)の攻撃(?: [^に]*?)?\s*(?:クリティカル＆ダイレクトヒット！|クリティカル！|ダイレクトヒット！)?\s*([^に]+)に\d+(?:\([^)]*\))?ダメージ。$`)
	markerDamage = regexp.MustCompile(`^(?:クリティカル＆ダイレクトヒット！|クリティカル！|ダイレクトヒット！)\s*([^に]+)に\d+(?:\([^)]*\))?ダメージ。$`)
	simpleDamage = regexp.MustCompile(`^([^に]+)に\d+(?:\([^)]*\))?ダメージ。$`)
)

// ParseDamageMessage extracts actor, target and amount from a Japanese
// dealt-damage system message. The second return value is false when the
// message is not a damage message.
func ParseDamageMessage(message string) (DamageDetail, bool) {
	cleaned := strings.ReplaceAll(message, "\uE0BF", " ")
	cleaned = strings.TrimSpace(whitespaceRun.ReplaceAllString(cleaned, " "))

	suffix := amountSuffix.FindStringSubmatch(cleaned)
	if suffix == nil {
		return DamageDetail{}, false
	}
	amount, err := strconv.ParseInt(suffix[1], 10, 64)
	if err != nil {
		return DamageDetail{}, false
	}

	detail := DamageDetail{
		Amount: amount,
		// Checked against the whole message, independent of which pattern
		// matches, so pattern 1's combined marker sets both flags.
		IsCritical: strings.Contains(cleaned, "クリティカル"),
		IsDirect:   strings.Contains(cleaned, "ダイレクトヒット"),
	}

	if m := actorDamage.FindStringSubmatch(cleaned); m != nil {
		detail.Actor = strings.TrimSpace(m[1])
		detail.Target = cleanupTarget(m[2])
		return detail, true
	}
	if m := markerDamage.FindStringSubmatch(cleaned); m != nil {
		detail.Target = cleanupTarget(m[1])
		return detail, true
	}
	if m := simpleDamage.FindStringSubmatch(cleaned); m != nil {
		detail.Target = cleanupTarget(m[1])
		return detail, true
	}
	return DamageDetail{}, false
}

// cleanupTarget strips parry/block artifacts the game interleaves before the
// damage clause.
func cleanupTarget(value string) string {
	value = strings.Replace(value, "は受け流した！", "", 1)
	value = strings.Replace(value, "はブロックした！", "", 1)
	return strings.TrimSpace(value)
}
