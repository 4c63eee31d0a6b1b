package workflow

import (
	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/compliance"
	"github.com/wolfman30/patient-comms-platform/internal/identity"
	"github.com/wolfman30/patient-comms-platform/internal/queue"
)

// Observer receives workflow telemetry. It is injected rather than reached
// through a global so tests can assert on emitted events.
type Observer interface {
	OnTransition(entryID uuid.UUID, from, to compliance.DeliveryStatus, action compliance.ActionType)
	OnEnqueue(entryID uuid.UUID, kind queue.Kind, err error)
	OnDenied(operation string, actor identity.Actor)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) OnTransition(uuid.UUID, compliance.DeliveryStatus, compliance.DeliveryStatus, compliance.ActionType) {
}
func (NopObserver) OnEnqueue(uuid.UUID, queue.Kind, error) {}
func (NopObserver) OnDenied(string, identity.Actor)        {}
