package compliance

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrIntegrityViolation indicates a stored content hash no longer matches the
// stored final message. It is surfaced to compliance review, never repaired.
var ErrIntegrityViolation = errors.New("compliance: content hash does not match final message")

// ContentHash returns the hex-encoded SHA-256 digest of the final message
// text. It is computed once, when the final message is first persisted, and
// anchors all later integrity checks.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}

// VerifyIntegrity recomputes the digest over the entry's final message and
// compares it with the stored hash. Entries that were never finalized verify
// trivially.
func VerifyIntegrity(e *Entry) error {
	if e.ContentHash == "" {
		return nil
	}
	if ContentHash(e.FinalMessage) != e.ContentHash {
		return fmt.Errorf("%w: entry %s", ErrIntegrityViolation, e.ID)
	}
	return nil
}
