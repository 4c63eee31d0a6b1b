package compliance

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/wolfman30/patient-comms-platform/internal/identity"
)

// previewLength bounds redacted previews in exports and review screens.
const previewLength = 100

var (
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	dateRe  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})\b`)
	phoneRe = regexp.MustCompile(`\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}`)
	// Bare digit runs of 10+ that the formatted phone pattern misses.
	digitRunRe = regexp.MustCompile(`\d{10,}`)
)

// Redact replaces recognizable PII patterns with placeholder tokens. It is
// applied to previews and exports, never to the stored final message.
func Redact(text string) string {
	text = ssnRe.ReplaceAllString(text, "[SSN]")
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = dateRe.ReplaceAllString(text, "[DATE]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	text = digitRunRe.ReplaceAllString(text, "[PHONE]")
	return text
}

// Preview returns the redacted text truncated to the preview bound. The cut
// lands on a rune boundary so multi-byte characters are never split.
func Preview(text string) string {
	redacted := Redact(text)
	if len(redacted) <= previewLength {
		return redacted
	}
	cut := previewLength
	for cut > 0 && !utf8.RuneStart(redacted[cut]) {
		cut--
	}
	return strings.TrimSpace(redacted[:cut]) + "..."
}

// CanViewFullContent reports whether the viewer may see non-redacted message
// content: auditors, admins, and the owning doctor.
func CanViewFullContent(viewer identity.Actor, e *Entry) bool {
	if viewer.Role.AtLeast(identity.RoleAuditor) {
		return true
	}
	return viewer.ID == e.AuthorID && viewer.Role.AtLeast(identity.RoleDoctor)
}
