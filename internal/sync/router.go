// Package sync applies frames pushed by the server to the local message
// store and presence tracker.
package sync

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/wire"
)

// maxLoggedFrame caps how much of a bad frame ends up in the log.
const maxLoggedFrame = 256

// PresenceSnapshot is the payload of presence.changed events.
type PresenceSnapshot struct {
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

// Router classifies inbound frames and applies them. It is driven by the
// goroutine that owns the store and tracker.
type Router struct {
	self    string
	peer    string
	store   *message.Store
	tracker *presence.Tracker
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time
}

// NewRouter creates a router.
func NewRouter(store *message.Store, tracker *presence.Tracker, b *bus.Bus, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		store:   store,
		tracker: tracker,
		bus:     b,
		logger:  logger.Named("router"),
		now:     time.Now,
	}
}

// SetSelf sets the local user id.
func (r *Router) SetSelf(id string) {
	r.self = id
}

// SetPeer sets the counterpart of the active conversation, or "" for none.
func (r *Router) SetPeer(id string) {
	r.peer = id
}

// Route decodes and applies one raw frame. Bad frames are logged and
// dropped; Route never fails.
func (r *Router) Route(data []byte) {
	frame, err := wire.Decode(data)
	if err != nil {
		r.logger.Error("dropping malformed frame", zap.Error(err), zap.ByteString("frame", clip(data)))
		return
	}
	r.Apply(frame)
}

// Apply dispatches an already decoded frame.
func (r *Router) Apply(frame wire.Inbound) {
	switch f := frame.(type) {
	case wire.OnlineUsers:
		r.onlineUsers(f)
	case wire.Message:
		r.message(f)
	case wire.StatusUpdate:
		r.statusUpdate(f)
	case wire.AuthSuccess:
		r.logger.Info("socket authenticated")
	case wire.ServerError:
		r.logger.Warn("server error", zap.String("message", f.Message))
	case wire.Unknown:
		r.logger.Warn("dropping unknown frame", zap.String("type", f.Type))
	default:
		r.logger.Warn("dropping unhandled frame", zap.String("go_type", fmt.Sprintf("%T", f)))
	}
}

func (r *Router) onlineUsers(f wire.OnlineUsers) {
	users := make([]presence.Contact, 0, len(f.Users))
	for _, u := range f.Users {
		users = append(users, presence.Contact{
			ID:         u.ID,
			FirstName:  u.FirstName,
			LastName:   u.LastName,
			FullName:   u.FullName,
			AvatarLink: u.AvatarLink,
		})
	}
	r.tracker.ApplyOnlineList(users)
	r.bus.Emit(bus.PresenceChanged, PresenceSnapshot{
		Online:  len(r.tracker.Online()),
		Offline: len(r.tracker.Offline()),
	})
}

func (r *Router) message(f wire.Message) {
	if f.MessageID == "" {
		r.logger.Warn("dropping message without id", zap.String("sender", f.SenderID))
		return
	}
	created := f.CreatedAt.Time
	if created.IsZero() {
		created = r.now()
	}
	in := message.Message{
		ID:        f.MessageID,
		Text:      f.Content,
		Sender:    f.SenderID,
		Recipient: f.RecipientID,
		CreatedAt: created,
		Status:    message.StatusDelivered,
	}
	if in.Recipient == "" {
		if in.Sender == r.self {
			in.Recipient = r.peer
		} else {
			in.Recipient = r.self
		}
	}

	m, outcome := r.store.Reconcile(in, f.ClientTempID)
	r.logger.Debug("message reconciled",
		zap.String("id", m.ID),
		zap.Stringer("outcome", outcome),
	)
	r.bus.Emit(bus.MessageUpserted, m)
}

func (r *Router) statusUpdate(f wire.StatusUpdate) {
	st, ok := message.ParseStatus(f.Status)
	if !ok {
		r.logger.Warn("dropping status update with unknown status",
			zap.String("id", f.MessageID),
			zap.String("status", f.Status),
		)
		return
	}
	m, ok := r.store.ApplyStatus(message.StatusUpdate{
		ID:        f.MessageID,
		TempID:    f.TempID,
		Status:    st,
		CreatedAt: f.CreatedAt.Time,
		Sender:    r.self,
		Recipient: r.peer,
	})
	if !ok {
		r.logger.Warn("dropping status update without id", zap.String("temp_id", f.TempID))
		return
	}
	r.bus.Emit(bus.MessageStatus, m)
}

func clip(b []byte) []byte {
	if len(b) > maxLoggedFrame {
		return b[:maxLoggedFrame]
	}
	return b
}
