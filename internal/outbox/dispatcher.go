// Package outbox turns a user's send into an optimistic local entry plus a
// wire frame.
package outbox

import (
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/wire"
)

// Transport is the socket side of the dispatcher.
type Transport interface {
	Attached() bool
	Send(f wire.Outbound) error
}

// SendFailure is the payload of message.send_failed events.
type SendFailure struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// Dispatcher owns no state of its own; it must run on the goroutine that
// owns the store.
type Dispatcher struct {
	self      string
	store     *message.Store
	transport Transport
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher for the given store and transport.
func NewDispatcher(store *message.Store, transport Transport, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:     store,
		transport: transport,
		bus:       b,
		logger:    logger.Named("outbox"),
	}
}

// SetSelf sets the sender id stamped on optimistic messages.
func (d *Dispatcher) SetSelf(id string) {
	d.self = id
}

// Send inserts an optimistic message and writes it to the socket. Blank
// text, a missing recipient or a detached transport make it a no-op and ok
// is false. A transport failure marks the entry failed; it is not retried.
func (d *Dispatcher) Send(text, recipientID string) (message.Message, bool) {
	if strings.TrimSpace(text) == "" || recipientID == "" || d.self == "" {
		return message.Message{}, false
	}
	if !d.transport.Attached() {
		return message.Message{}, false
	}

	m := d.store.InsertOptimistic(text, d.self, recipientID)
	d.bus.Emit(bus.MessageUpserted, m)

	err := d.transport.Send(wire.SendMessage{
		Content:      text,
		RecipientID:  recipientID,
		ClientTempID: m.ID,
	})
	if err == nil {
		return m, true
	}

	d.logger.Warn("send failed",
		zap.String("temp_id", m.ID),
		zap.String("recipient", recipientID),
		zap.Error(err),
	)
	if failed, ok := d.store.SetStatus(m.ID, message.StatusFailed); ok {
		m = failed
	}
	d.bus.Emit(bus.MessageSendFailed, SendFailure{ID: m.ID, Recipient: recipientID, Error: err.Error()})
	return m, true
}
