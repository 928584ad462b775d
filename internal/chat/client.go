// Package chat runs the conversation session: one event loop that owns the
// message store, the presence tracker and the socket, and serializes every
// API call, transport event and REST completion against them.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/history"
	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/wire"
)

var (
	// ErrClosed is returned once the loop has stopped.
	ErrClosed = errors.New("chat client closed")
	// ErrNoConversation is returned by operations that need a selected peer.
	ErrNoConversation = errors.New("no active conversation")
	// ErrUnknownMessage is returned for ids the store does not hold.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrUnconfirmed is returned when deleting a message the server has not
	// acknowledged yet.
	ErrUnconfirmed = errors.New("message not confirmed by server")
)

// Connection is the socket owner. *conn.Manager implements it.
type Connection interface {
	Connect(creds conn.Credentials) error
	Close(code int, reason string)
	Shutdown()
	Send(f wire.Outbound) error
	Attached() bool
	IsOpen() bool
	State() status.State
	Events() <-chan conn.Event
	Handle(ev conn.Event) (conn.Update, bool)
}

// HistoryFetcher loads conversation pages.
type HistoryFetcher interface {
	FetchPage(ctx context.Context, peer string, before time.Time) (history.Page, error)
}

// Directory lists every known user.
type Directory interface {
	People(ctx context.Context) ([]api.Person, error)
}

// Remover deletes messages server-side.
type Remover interface {
	DeleteMessage(ctx context.Context, id string) error
	ClearConversation(ctx context.Context, peer string) error
}

// Deps are the collaborators of a Client.
type Deps struct {
	Conn       Connection
	History    HistoryFetcher
	Directory  Directory
	Remover    Remover
	Store      *message.Store
	Tracker    *presence.Tracker
	Dispatcher *outbox.Dispatcher
	Router     *intsync.Router
	Bus        *bus.Bus
	Logger     *zap.Logger
}

// HistoryResult is the payload of history.loaded and history.failed events.
type HistoryResult struct {
	Peer    string `json:"peer"`
	Count   int    `json:"count"`
	HasMore bool   `json:"hasMore"`
	Older   bool   `json:"older"`
	Error   string `json:"error,omitempty"`
}

// Client is the conversation session. All exported methods are safe for
// concurrent use but need Run to be running.
type Client struct {
	conn       Connection
	history    HistoryFetcher
	directory  Directory
	remover    Remover
	store      *message.Store
	tracker    *presence.Tracker
	dispatcher *outbox.Dispatcher
	router     *intsync.Router
	bus        *bus.Bus
	logger     *zap.Logger

	tasks chan func()
	done  chan struct{}

	// Owned by the loop goroutine.
	ctx          context.Context
	self         string
	selected     string
	gen          uint64
	hasMore      bool
	loading      bool
	unauthorized bool
	acked        map[string]struct{}
}

// New creates a client from its dependencies.
func New(d Deps) *Client {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		conn:       d.Conn,
		history:    d.History,
		directory:  d.Directory,
		remover:    d.Remover,
		store:      d.Store,
		tracker:    d.Tracker,
		dispatcher: d.Dispatcher,
		router:     d.Router,
		bus:        d.Bus,
		logger:     logger.Named("chat"),
		tasks:      make(chan func(), 64),
		done:       make(chan struct{}),
		ctx:        context.Background(),
		acked:      make(map[string]struct{}),
	}
}

// Run drives the loop until ctx is cancelled, then shuts the socket down.
func (c *Client) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)
	defer c.conn.Shutdown()

	events := c.conn.Events()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("chat loop stopped")
			return ctx.Err()
		case fn := <-c.tasks:
			fn()
		case ev := <-events:
			c.handleTransport(ev)
		}
	}
}

// Done is closed when Run returns.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// do runs fn on the loop and waits for its result.
func (c *Client) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.tasks <- func() { errc <- fn() }:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// post queues fn on the loop without waiting.
func (c *Client) post(fn func()) {
	select {
	case c.tasks <- fn:
	case <-c.done:
	}
}

// Connect opens the socket for creds and loads the directory. A different
// user than before wipes the local store.
func (c *Client) Connect(creds conn.Credentials) error {
	return c.do(func() error {
		if c.self != "" && creds.UserID != c.self {
			c.logger.Info("identity changed, clearing session",
				zap.String("from", c.self),
				zap.String("to", creds.UserID),
			)
			c.store.Clear()
			c.acked = make(map[string]struct{})
			c.setSelected("")
		}
		c.self = creds.UserID
		c.dispatcher.SetSelf(c.self)
		c.router.SetSelf(c.self)
		c.tracker.SetSelf(c.self)
		c.unauthorized = false

		if err := c.conn.Connect(creds); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		c.refreshDirectory()
		return nil
	})
}

// Logout closes the socket normally and leaves the conversation.
func (c *Client) Logout() error {
	return c.do(func() error {
		c.conn.Close(conn.CloseNormal, "logout")
		c.setSelected("")
		return nil
	})
}

// Select makes peer the active conversation and loads its newest page. Any
// history still in flight for the previous selection is discarded on arrival.
func (c *Client) Select(peer string) error {
	return c.do(func() error {
		c.setSelected(peer)
		if peer != "" {
			c.fetch(peer, time.Time{})
		}
		c.bus.Emit(bus.SessionSelected, peer)
		return nil
	})
}

// LoadOlder fetches the page before the oldest message on screen. It does
// nothing while a fetch is running or when the server reported no more.
func (c *Client) LoadOlder() error {
	return c.do(func() error {
		if c.selected == "" {
			return ErrNoConversation
		}
		if !c.hasMore || c.loading {
			return nil
		}
		oldest, ok := c.store.Oldest(c.self, c.selected)
		if !ok {
			return nil
		}
		c.fetch(c.selected, oldest)
		return nil
	})
}

// Send posts text to the active conversation. ok is false when the send was
// a no-op: blank text, no conversation or no socket.
func (c *Client) Send(text string) (message.Message, bool) {
	var (
		m  message.Message
		ok bool
	)
	_ = c.do(func() error {
		m, ok = c.dispatcher.Send(text, c.selected)
		return nil
	})
	return m, ok
}

// Delete removes a confirmed message server-side, then locally, then tells
// the peer.
func (c *Client) Delete(ctx context.Context, id string) error {
	err := c.do(func() error {
		m, ok := c.store.Get(id)
		if !ok {
			return ErrUnknownMessage
		}
		if m.IsTemp() {
			return ErrUnconfirmed
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := c.remover.DeleteMessage(ctx, id); err != nil {
		return err
	}
	return c.do(func() error {
		if c.store.Remove(id) {
			c.bus.Emit(bus.MessageRemoved, id)
		}
		c.advise(wire.MessageDeleted{MessageID: id, DeletedAt: time.Now().UTC()})
		return nil
	})
}

// ClearConversation deletes the active conversation server-side, then
// locally, then tells the peer.
func (c *Client) ClearConversation(ctx context.Context) error {
	var self, peer string
	err := c.do(func() error {
		if c.selected == "" {
			return ErrNoConversation
		}
		self, peer = c.self, c.selected
		return nil
	})
	if err != nil {
		return err
	}
	if err := c.remover.ClearConversation(ctx, peer); err != nil {
		return err
	}
	return c.do(func() error {
		n := c.store.RemoveConversation(self, peer)
		c.logger.Info("conversation cleared", zap.String("peer", peer), zap.Int("removed", n))
		c.bus.Emit(bus.MessageRemoved, peer)
		c.advise(wire.ConversationCleared{RecipientID: peer})
		return nil
	})
}

// Snapshot is a read-only copy of the session for presentation.
type Snapshot struct {
	State        status.State       `json:"state"`
	Self         string             `json:"self"`
	Selected     string             `json:"selected,omitempty"`
	Peer         presence.Contact   `json:"peer"`
	PeerOnline   bool               `json:"peerOnline"`
	Messages     []message.Rendered `json:"messages"`
	Online       []presence.Contact `json:"online"`
	Offline      []presence.Contact `json:"offline"`
	HasMore      bool               `json:"hasMore"`
	Loading      bool               `json:"loading"`
	Unauthorized bool               `json:"unauthorized"`
}

// Snapshot captures the current session.
func (c *Client) Snapshot() (Snapshot, error) {
	var s Snapshot
	err := c.do(func() error {
		s = Snapshot{
			State:        c.conn.State(),
			Self:         c.self,
			Selected:     c.selected,
			Online:       c.tracker.Online(),
			Offline:      c.tracker.Offline(),
			HasMore:      c.hasMore,
			Loading:      c.loading,
			Unauthorized: c.unauthorized,
		}
		if c.selected != "" {
			s.Peer, _ = c.tracker.Lookup(c.selected)
			if s.Peer.ID == "" {
				s.Peer.ID = c.selected
			}
			s.PeerOnline = c.tracker.IsOnline(c.selected)
			s.Messages = message.RenderKeys(c.store.View(c.self, c.selected))
		}
		return nil
	})
	return s, err
}

func (c *Client) setSelected(peer string) {
	c.selected = peer
	c.gen++
	c.hasMore = false
	c.loading = false
	c.router.SetPeer(peer)
}

func (c *Client) handleTransport(ev conn.Event) {
	up, ok := c.conn.Handle(ev)
	if !ok {
		return
	}
	switch up.Kind {
	case conn.Opened:
		c.refreshDirectory()
		if c.selected != "" {
			c.fetch(c.selected, time.Time{})
		}
		c.markRead()
	case conn.Frame:
		c.router.Route(up.Data)
		c.markRead()
	case conn.Failed, conn.Closed:
		// conn has already published the state change.
	}
}

// fetch loads a page off the loop; the result only applies if the selection
// generation is unchanged when it comes back.
func (c *Client) fetch(peer string, before time.Time) {
	gen := c.gen
	c.loading = true
	ctx := c.ctx
	go func() {
		page, err := c.history.FetchPage(ctx, peer, before)
		c.post(func() { c.applyPage(gen, peer, before, page, err) })
	}()
}

func (c *Client) applyPage(gen uint64, peer string, before time.Time, page history.Page, err error) {
	older := !before.IsZero()
	if gen != c.gen || peer != c.selected {
		c.logger.Debug("discarding stale history page", zap.String("peer", peer))
		return
	}
	c.loading = false
	if err != nil {
		c.hasMore = false
		c.bus.Emit(bus.HistoryFailed, HistoryResult{Peer: peer, Older: older, Error: err.Error()})
		return
	}
	c.store.MergeHistoryPage(page.Messages, older)
	c.hasMore = page.HasMore
	c.bus.Emit(bus.HistoryLoaded, HistoryResult{
		Peer:    peer,
		Count:   len(page.Messages),
		HasMore: page.HasMore,
		Older:   older,
	})
	c.markRead()
}

func (c *Client) refreshDirectory() {
	ctx := c.ctx
	go func() {
		people, err := c.directory.People(ctx)
		c.post(func() { c.applyDirectory(people, err) })
	}()
}

func (c *Client) applyDirectory(people []api.Person, err error) {
	if errors.Is(err, api.ErrUnauthorized) {
		c.logger.Warn("session token rejected")
		c.conn.Close(conn.CloseNormal, "unauthorized")
		c.setSelected("")
		c.unauthorized = true
		c.bus.Emit(bus.SessionUnauthorized, nil)
		return
	}
	if err != nil {
		c.logger.Warn("directory fetch failed", zap.Error(err))
		return
	}
	contacts := make([]presence.Contact, 0, len(people))
	for _, p := range people {
		contacts = append(contacts, presence.Contact{
			ID:         p.ID,
			FirstName:  p.FirstName,
			LastName:   p.LastName,
			AvatarLink: p.AvatarLink,
		})
	}
	c.tracker.MergeContactList(contacts)
	c.bus.Emit(bus.PresenceChanged, intsync.PresenceSnapshot{
		Online:  len(c.tracker.Online()),
		Offline: len(c.tracker.Offline()),
	})
}

// markRead acknowledges every peer message in the open conversation that is
// not read yet, one frame per message.
func (c *Client) markRead() {
	if c.selected == "" || !c.conn.IsOpen() {
		return
	}
	for _, m := range c.store.View(c.self, c.selected) {
		if m.Sender != c.selected || m.Status == message.StatusRead || m.IsTemp() {
			continue
		}
		if _, done := c.acked[m.ID]; !done {
			if err := c.conn.Send(wire.MarkRead{MessageID: m.ID}); err != nil {
				c.logger.Warn("mark read failed", zap.String("id", m.ID), zap.Error(err))
				return
			}
			c.acked[m.ID] = struct{}{}
		}
		if updated, ok := c.store.SetStatus(m.ID, message.StatusRead); ok {
			c.bus.Emit(bus.MessageStatus, updated)
		}
	}
}

// advise sends an informational frame if the socket is open.
func (c *Client) advise(f wire.Outbound) {
	if !c.conn.IsOpen() {
		c.logger.Debug("skipping advisory frame, socket closed", zap.String("type", f.FrameType()))
		return
	}
	if err := c.conn.Send(f); err != nil {
		c.logger.Warn("advisory frame failed", zap.String("type", f.FrameType()), zap.Error(err))
	}
}
