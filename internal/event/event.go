package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeSoftDeleted        Type = "recyclebin.soft_deleted"
	TypeRestored           Type = "recyclebin.restored"
	TypePermanentlyDeleted Type = "recyclebin.permanently_deleted"
	TypeExpiryWarning      Type = "recyclebin.expiry_warning"
	TypeFinalWarning       Type = "recyclebin.final_warning"
	TypeCleanupCompleted   Type = "recyclebin.cleanup_completed"
	TypeLockedOut          Type = "security.locked_out"
	TypeUnlocked           Type = "security.unlocked"
)

type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	ActorID   string    `json:"actor_id,omitempty"` // Who triggered the event; empty for the system
}

func New(eventType Type, actorID string, payload any, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: at,
		ActorID:   actorID,
	}
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns the event channel and its unsubscribe function. No
	// types means every type.
	Subscribe(types ...Type) (<-chan Event, func())
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(...Type) (<-chan Event, func()) {
	ch := make(chan Event)
	return ch, func() {}
}
