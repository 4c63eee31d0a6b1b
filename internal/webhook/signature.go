// Package webhook receives signed delivery-status callbacks from providers
// and feeds them into the message workflow.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds how stale a signed timestamp may be.
const DefaultTolerance = 5 * time.Minute

// VerifySignature checks an HMAC-SHA256 webhook signature. Two header forms
// are accepted:
//
//	sha256=<hex>            digest over the raw payload
//	t=<unix>,v1=<hex>       digest over "<unix>.<payload>", timestamp checked
//	                        against the tolerance window
//
// Comparison is constant time in both forms.
func VerifySignature(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) bool {
	if secret == "" || header == "" {
		return false
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	if hexSig, ok := strings.CutPrefix(header, "sha256="); ok {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(payload)
		expected := hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(strings.ToLower(hexSig)), []byte(expected))
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(now.Unix()-ts) > int64(tolerance.Seconds()) {
		return false
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
			return true
		}
	}
	return false
}

// Sign produces a timestamped signature header for outbound webhooks and
// tests.
func Sign(secret string, payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
