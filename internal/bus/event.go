package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds published by the chat client.
const (
	ConnStateChanged    = "conn.state_changed"
	PresenceChanged     = "presence.changed"
	MessageUpserted     = "message.upserted"
	MessageSendFailed   = "message.send_failed"
	MessageRemoved      = "message.removed"
	MessageStatus       = "message.status_changed"
	HistoryLoaded       = "history.loaded"
	HistoryFailed       = "history.failed"
	SessionSelected     = "session.selected"
	SessionUnauthorized = "session.unauthorized"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(kind string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
