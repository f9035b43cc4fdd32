package signal

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// ComputeHash derives the stable hash identifying a signal's type and
// category. Identical (source, category, detail) triples always map to the
// same hash, so dedup and audit correlation work across processes.
func ComputeHash(source, category, detail string) string {
	canonical := strings.ToLower(strings.TrimSpace(source)) + "\x00" +
		strings.ToLower(strings.TrimSpace(category)) + "\x00" +
		strings.ToLower(strings.TrimSpace(detail))

	sum := blake2b.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}
