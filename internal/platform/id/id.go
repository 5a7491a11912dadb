// Package id derives stable identifiers for persisted records.
package id

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// DeriveUUID hashes the given parts (joined by "|") and formats the digest as
// a UUID string. The same parts always produce the same identifier, which
// keeps re-processing of a window from creating duplicate rows.
func DeriveUUID(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	hexed := hex.EncodeToString(sum[:])[:32]
	return fmt.Sprintf("%s-%s-%s-%s-%s", hexed[0:8], hexed[8:12], hexed[12:16], hexed[16:20], hexed[20:32])
}
