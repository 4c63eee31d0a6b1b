package workflow

import (
	"github.com/wolfman30/patient-comms-platform/internal/compliance"
)

// transitions is the message lifecycle:
// draft -> pending_review -> {approved -> sent -> {delivered | failed}} | rejected,
// rejected -> draft(edited) -> pending_review, plus the direct-send bypass
// draft -> sent for sufficiently privileged roles.
var transitions = map[compliance.DeliveryStatus][]compliance.DeliveryStatus{
	compliance.StatusDraft:         {compliance.StatusPendingReview, compliance.StatusSent},
	compliance.StatusPendingReview: {compliance.StatusApproved, compliance.StatusRejected},
	compliance.StatusApproved:      {compliance.StatusSent, compliance.StatusFailed},
	compliance.StatusRejected:      {compliance.StatusPendingReview},
	compliance.StatusSent:          {compliance.StatusDelivered, compliance.StatusFailed},
	compliance.StatusDelivered:     {}, // terminal
	compliance.StatusFailed:        {},
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another. Delivered and failed are terminal.
func CanTransition(from, to compliance.DeliveryStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may legally transition into to. The
// store uses this set as its monotonic update guard.
func sourcesOf(to compliance.DeliveryStatus) []compliance.DeliveryStatus {
	var from []compliance.DeliveryStatus
	for src, targets := range transitions {
		for _, t := range targets {
			if t == to {
				from = append(from, src)
			}
		}
	}
	return from
}
