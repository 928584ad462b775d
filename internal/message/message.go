// Package message holds the message model and the in-memory store that
// reconciles optimistic sends with server records.
package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery status of a message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// ParseStatus maps a wire status string to a Status.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusSending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return st, true
	}
	return "", false
}

// rank orders statuses along the delivery pipeline. failed ranks with
// sending so any server acknowledgement supersedes a local failure.
func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// advance returns whichever of cur and next is further along.
func advance(cur, next Status) Status {
	if next == "" || next.rank() < cur.rank() {
		return cur
	}
	if next.rank() == cur.rank() && next == StatusFailed {
		return cur
	}
	return next
}

// TempPrefix starts every locally generated id.
const TempPrefix = "temp-"

// NewTempID returns temp-<unix-ms>-<6 random chars>.
func NewTempID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s%d-%s", TempPrefix, now.UnixMilli(), suffix)
}

// Message is a single chat message.
type Message struct {
	ID         string    `json:"_id"`
	Text       string    `json:"text"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	CreatedAt  time.Time `json:"createdAt"`
	Status     Status    `json:"status"`
	Optimistic bool      `json:"isOptimistic,omitempty"`
}

// IsTemp reports whether the message still carries a local temporary id.
func (m Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempPrefix)
}

// Between reports whether the message belongs to the conversation of a and b.
func (m Message) Between(a, b string) bool {
	return (m.Sender == a && m.Recipient == b) || (m.Sender == b && m.Recipient == a)
}

// Rendered pairs a message with a display key that is unique within a view.
type Rendered struct {
	Key string `json:"key"`
	Message
}

// RenderKeys assigns each message a key equal to its id. Colliding ids get a
// suffixed key; the id itself is left alone.
func RenderKeys(msgs []Message) []Rendered {
	out := make([]Rendered, 0, len(msgs))
	used := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		key := m.ID
		for n := 1; ; n++ {
			if _, taken := used[key]; !taken {
				break
			}
			key = fmt.Sprintf("%s-dup%d", m.ID, n)
		}
		used[key] = struct{}{}
		out = append(out, Rendered{Key: key, Message: m})
	}
	return out
}
