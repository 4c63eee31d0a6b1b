package compliance

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/identity"
)

func TestRedactPatterns(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ssn", "SSN is 123-45-6789 on file", "SSN is [SSN] on file"},
		{"formatted phone", "call (555) 123-4567 today", "call [PHONE] today"},
		{"bare digit run", "confirmation 12345678901", "confirmation [PHONE]"},
		{"email", "reach me at jane.doe@clinic.org please", "reach me at [EMAIL] please"},
		{"iso date", "appointment on 2025-11-03 confirmed", "appointment on [DATE] confirmed"},
		{"slash date", "seen 4/15/2025 at clinic", "seen [DATE] at clinic"},
		{"clean text", "no identifiers here", "no identifiers here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.in); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedactNeverLeaksSSN(t *testing.T) {
	got := Redact("patient 123-45-6789 called from 5551234567")
	if strings.Contains(got, "123-45-6789") {
		t.Fatalf("SSN leaked through redaction: %q", got)
	}
	if strings.Contains(got, "5551234567") {
		t.Fatalf("phone leaked through redaction: %q", got)
	}
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("followup instructions ", 20)
	got := Preview(long)
	if len(got) > previewLength+3 {
		t.Errorf("preview exceeds bound: %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated preview should end with ellipsis")
	}

	short := "brief note"
	if Preview(short) != short {
		t.Errorf("short text should pass through unchanged, got %q", Preview(short))
	}
}

func TestPreviewRespectsRuneBoundaries(t *testing.T) {
	// Three-byte runes, so the byte bound lands inside a character.
	long := strings.Repeat("予約", previewLength)
	got := Preview(long)
	if !utf8.ValidString(got) {
		t.Fatalf("preview split a multi-byte rune: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated preview should end with ellipsis")
	}
	if trimmed := strings.TrimSuffix(got, "..."); strings.Contains(trimmed, "�") {
		t.Errorf("preview contains a replacement character: %q", got)
	}
}

func TestCanViewFullContent(t *testing.T) {
	author := uuid.New()
	entry := &Entry{AuthorID: author}

	if !CanViewFullContent(identity.Actor{ID: uuid.New(), Role: identity.RoleAuditor}, entry) {
		t.Error("auditor should see full content")
	}
	if !CanViewFullContent(identity.Actor{ID: uuid.New(), Role: identity.RoleAdmin}, entry) {
		t.Error("admin should see full content")
	}
	if !CanViewFullContent(identity.Actor{ID: author, Role: identity.RoleDoctor}, entry) {
		t.Error("owning doctor should see full content")
	}
	if CanViewFullContent(identity.Actor{ID: uuid.New(), Role: identity.RoleDoctor}, entry) {
		t.Error("non-owning doctor should be redacted")
	}
	if CanViewFullContent(identity.Actor{ID: author, Role: identity.RoleStaff}, entry) {
		t.Error("owning staff should be redacted")
	}
}
