package storage

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Fingerprint produces a deterministic UUID-shaped identifier for a snapshot
// row from its identifying fields. The same listing seen twice on the same
// scan day fingerprints identically, which makes duplicate rows harmless to
// audit queries.
func Fingerprint(retailer, catalogURL, title, day string) string {
	input := strings.Join([]string{retailer, catalogURL, title, day}, "\x1f")
	sum := sha256.Sum256([]byte(input))
	b := make([]byte, 16)
	copy(b, sum[:])
	b[6] = (b[6] & 0x0f) | 0x40 // UUID version 4 variant bits
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
