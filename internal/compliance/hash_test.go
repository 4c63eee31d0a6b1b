package compliance

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestContentHashDeterministic(t *testing.T) {
	text := "Your lab results are ready. Please call the office."

	first := ContentHash(text)
	second := ContentHash(text)

	if first != second {
		t.Fatalf("identical input produced different hashes: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(first))
	}
	if first == ContentHash(text+" ") {
		t.Error("different input should produce a different hash")
	}
}

func TestVerifyIntegrity(t *testing.T) {
	e := &Entry{
		ID:           uuid.New(),
		FinalMessage: "Please take your medication twice daily.",
	}
	e.ContentHash = ContentHash(e.FinalMessage)

	if err := VerifyIntegrity(e); err != nil {
		t.Fatalf("unexpected integrity error: %v", err)
	}

	// Simulate silent tampering after the hash was anchored.
	e.FinalMessage = "Please take your medication once daily."
	err := VerifyIntegrity(e)
	if !errors.Is(err, ErrIntegrityViolation) {
		t.Fatalf("expected ErrIntegrityViolation, got %v", err)
	}
	if !strings.Contains(err.Error(), e.ID.String()) {
		t.Errorf("error should name the entry: %v", err)
	}
}

func TestVerifyIntegrityUnfinalized(t *testing.T) {
	e := &Entry{FinalMessage: "draft text"}
	if err := VerifyIntegrity(e); err != nil {
		t.Fatalf("unfinalized entry should verify trivially, got %v", err)
	}
}
