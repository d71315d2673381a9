// Package events defines the outbound events the engine emits for external
// notification and dashboard collaborators. Delivery is fire-and-forget: the
// decision path never blocks on a consumer.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the emitted event kinds.
type Type string

const (
	TypeRequestCreated   Type = "request_created"
	TypeDecisionMade     Type = "decision_made"
	TypeRequestEscalated Type = "request_escalated"
)

// Event is the payload delivered to collaborators.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      Type      `json:"type"`
	RequestID string    `json:"request_id"`
	Actor     string    `json:"actor"`
	NewStatus string    `json:"new_status"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events. Implementations must not block the caller on
// broker availability; failures are logged, never surfaced to the decision
// path.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close()
}

// Nop discards all events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, event Event) {}
func (Nop) Close()                                   {}
