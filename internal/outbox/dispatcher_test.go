package outbox

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/wire"
)

type mockTransport struct {
	attached bool
	err      error
	sent     []wire.Outbound
}

func (m *mockTransport) Attached() bool { return m.attached }

func (m *mockTransport) Send(f wire.Outbound) error {
	m.sent = append(m.sent, f)
	return m.err
}

func newTestDispatcher(tr *mockTransport) (*Dispatcher, *message.Store, *bus.Bus) {
	store := message.NewStore()
	b := bus.New()
	d := NewDispatcher(store, tr, b, zap.NewNop())
	d.SetSelf("me")
	return d, store, b
}

func TestSendInsertsOptimisticAndWritesFrame(t *testing.T) {
	tr := &mockTransport{attached: true}
	d, store, b := newTestDispatcher(tr)
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	m, ok := d.Send("hi", "p1")
	if !ok {
		t.Fatal("Send() = false")
	}
	if m.Status != message.StatusSending || !m.Optimistic || !m.IsTemp() {
		t.Errorf("message = %+v, want optimistic sending", m)
	}
	if m.Sender != "me" || m.Recipient != "p1" {
		t.Errorf("sender/recipient = %s/%s", m.Sender, m.Recipient)
	}

	if len(tr.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(tr.sent))
	}
	frame, ok := tr.sent[0].(wire.SendMessage)
	if !ok {
		t.Fatalf("frame = %T, want wire.SendMessage", tr.sent[0])
	}
	if frame.Content != "hi" || frame.RecipientID != "p1" || frame.ClientTempID != m.ID {
		t.Errorf("frame = %+v", frame)
	}
	if store.Len() != 1 {
		t.Errorf("store has %d messages, want 1", store.Len())
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.MessageUpserted {
			t.Errorf("event kind = %q, want %s", evt.Kind, bus.MessageUpserted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.upserted")
	}
}

func TestSendPreconditionsAreSilent(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		recipient string
		attached  bool
	}{
		{"empty text", "", "p1", true},
		{"whitespace text", "  \n\t", "p1", true},
		{"no conversation", "hi", "", true},
		{"no socket handle", "hi", "p1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &mockTransport{attached: tt.attached}
			d, store, _ := newTestDispatcher(tr)

			if _, ok := d.Send(tt.text, tt.recipient); ok {
				t.Error("Send() = true, want silent no-op")
			}
			if store.Len() != 0 || len(tr.sent) != 0 {
				t.Errorf("store len = %d, frames = %d, want nothing", store.Len(), len(tr.sent))
			}
		})
	}
}

func TestSendFailureMarksFailed(t *testing.T) {
	for _, sendErr := range []error{conn.ErrNotOpen, errors.New("write: broken pipe")} {
		t.Run(sendErr.Error(), func(t *testing.T) {
			tr := &mockTransport{attached: true, err: sendErr}
			d, store, b := newTestDispatcher(tr)
			ch, unsub := b.Subscribe(bus.MessageSendFailed, 10)
			defer unsub()

			m, ok := d.Send("hi", "p1")
			if !ok {
				t.Fatal("Send() = false")
			}
			if m.Status != message.StatusFailed {
				t.Errorf("returned status = %s, want failed", m.Status)
			}
			stored, _ := store.Get(m.ID)
			if stored.Status != message.StatusFailed {
				t.Errorf("stored status = %s, want failed", stored.Status)
			}
			if len(tr.sent) != 1 {
				t.Errorf("sent %d frames, want exactly 1 (no retry)", len(tr.sent))
			}

			select {
			case evt := <-ch:
				f, ok := evt.Payload.(SendFailure)
				if !ok || f.ID != m.ID {
					t.Errorf("payload = %#v", evt.Payload)
				}
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for message.send_failed")
			}
		})
	}
}
