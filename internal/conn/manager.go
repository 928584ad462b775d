// Package conn owns the realtime socket: dialing, the handshake, reading
// frames and reconnecting with exponential backoff after abnormal closes.
//
// Manager methods, including Handle, must be called from a single goroutine.
// Reader goroutines and the reconnect timer never touch manager state; they
// post Events that the owner feeds back through Handle.
package conn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/wire"
)

var (
	// ErrNotOpen is returned by Send when no socket is open.
	ErrNotOpen = errors.New("socket not open")
	// ErrShutdown is returned once the manager has been shut down.
	ErrShutdown = errors.New("connection manager shut down")
)

const (
	// CloseNormal is the intentional teardown code; it suppresses reconnects.
	CloseNormal = websocket.CloseNormalClosure
	// CloseAbnormal is reported when the transport drops without a close frame.
	CloseAbnormal = websocket.CloseAbnormalClosure

	eventBuffer = 256
)

// Config holds the manager's tunables.
type Config struct {
	URL          string
	Backoff      Backoff
	WriteTimeout time.Duration
}

// Credentials identify the local user to the server.
type Credentials struct {
	Token  string
	UserID string
}

type eventKind int

const (
	evOpened eventKind = iota
	evFrame
	evFailed
	evClosed
	evRetry
)

// Event is an internal transport notification. Only Handle interprets it.
type Event struct {
	kind   eventKind
	gen    uint64
	sock   Socket
	data   []byte
	code   int
	reason string
	err    error
}

// UpdateKind classifies what Handle observed.
type UpdateKind int

const (
	Opened UpdateKind = iota
	Frame
	Failed
	Closed
)

func (k UpdateKind) String() string {
	switch k {
	case Opened:
		return "opened"
	case Frame:
		return "frame"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("UpdateKind(%d)", int(k))
}

// Update is the structured result of handling an Event.
type Update struct {
	Kind   UpdateKind
	Data   []byte
	Code   int
	Reason string
	Err    error
	// RetryIn is the scheduled reconnect delay after a Closed update, zero
	// when no reconnect was scheduled.
	RetryIn time.Duration
}

// Manager owns at most one live socket at a time.
type Manager struct {
	cfg     Config
	dialer  Dialer
	clock   Clock
	machine *status.Machine
	logger  *zap.Logger

	events chan Event
	done   chan struct{}

	creds      Credentials
	gen        uint64
	sock       Socket
	open       bool
	attached   bool
	shutdown   bool
	attempt    int
	timer      Timer
	cancelDial context.CancelFunc
}

// NewManager creates a manager. A nil clock means the wall clock.
func NewManager(cfg Config, dialer Dialer, clock Clock, machine *status.Machine, logger *zap.Logger) *Manager {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if machine == nil {
		machine = status.NewMachine(nil)
	}
	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		clock:   clock,
		machine: machine,
		logger:  logger.Named("conn"),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
}

// Events is the stream the owner must drain and pass to Handle.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Attached reports whether a socket handle exists, open or pending.
func (m *Manager) Attached() bool {
	return m.attached && !m.shutdown
}

// IsOpen reports whether frames can be sent right now.
func (m *Manager) IsOpen() bool {
	return m.open && m.sock != nil
}

// Attempt is the number of reconnect cycles since the last successful open.
func (m *Manager) Attempt() int {
	return m.attempt
}

// Connect replaces any existing socket with a new one for creds. A pending
// reconnect timer is cancelled first.
func (m *Manager) Connect(creds Credentials) error {
	if m.shutdown {
		return ErrShutdown
	}
	if creds.Token == "" {
		return errors.New("connect: empty token")
	}
	m.stopTimer()
	m.teardown(CloseNormal, "reconnecting")
	m.creds = creds
	m.attempt = 0
	m.attached = true
	return m.dial()
}

// Close tears the socket down intentionally. No reconnect follows.
func (m *Manager) Close(code int, reason string) {
	m.stopTimer()
	m.teardown(code, reason)
	m.attached = false
}

// Shutdown closes the socket and makes the manager unusable.
func (m *Manager) Shutdown() {
	if m.shutdown {
		return
	}
	m.Close(CloseNormal, "shutdown")
	m.shutdown = true
	close(m.done)
}

// Send writes one frame. It fails with ErrNotOpen when no socket is open.
func (m *Manager) Send(f wire.Outbound) error {
	if m.shutdown {
		return ErrShutdown
	}
	if !m.IsOpen() {
		return ErrNotOpen
	}
	data, err := wire.Encode(f)
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.FrameType(), err)
	}
	if err := m.sock.SetWriteDeadline(m.clock.Now().Add(m.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := m.sock.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", f.FrameType(), err)
	}
	return nil
}

// Handle applies one event. ok is false for events that carry nothing for
// the owner: stale sockets and reconnect ticks.
func (m *Manager) Handle(ev Event) (Update, bool) {
	if ev.gen != m.gen || m.shutdown {
		if ev.kind == evOpened && ev.sock != nil {
			_ = ev.sock.Close()
		}
		return Update{}, false
	}

	switch ev.kind {
	case evOpened:
		m.sock = ev.sock
		m.open = true
		m.attempt = 0
		m.setState(status.Connected)
		m.logger.Info("socket open")
		hs := wire.Handshake{UserID: m.creds.UserID, Timestamp: m.clock.Now().UTC()}
		if err := m.Send(hs); err != nil {
			m.logger.Warn("handshake failed", zap.Error(err))
		}
		return Update{Kind: Opened}, true

	case evFrame:
		return Update{Kind: Frame, Data: ev.data}, true

	case evFailed:
		m.open = false
		m.setState(status.Disconnected)
		m.logger.Warn("socket error", zap.Error(ev.err))
		return Update{Kind: Failed, Err: ev.err}, true

	case evClosed:
		m.open = false
		if m.sock != nil {
			_ = m.sock.Close()
			m.sock = nil
		}
		m.setState(status.Disconnected)
		up := Update{Kind: Closed, Code: ev.code, Reason: ev.reason}
		if ev.code != CloseNormal && m.attached {
			up.RetryIn = m.schedule()
		}
		m.logger.Info("socket closed",
			zap.Int("code", ev.code),
			zap.String("reason", ev.reason),
			zap.Duration("retry_in", up.RetryIn),
		)
		return up, true

	case evRetry:
		m.timer = nil
		m.attempt++
		m.logger.Info("reconnecting", zap.Int("attempt", m.attempt))
		if err := m.dial(); err != nil {
			m.logger.Error("reconnect failed", zap.Error(err))
		}
		return Update{}, false
	}
	return Update{}, false
}

func (m *Manager) schedule() time.Duration {
	m.stopTimer()
	delay := m.cfg.Backoff.Delay(m.attempt)
	gen := m.gen
	m.timer = m.clock.AfterFunc(delay, func() {
		m.post(Event{kind: evRetry, gen: gen})
	})
	return delay
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// dial starts a new socket generation. The blocking dial runs off the owner
// goroutine and reports back through Events.
func (m *Manager) dial() error {
	target, err := SocketURL(m.cfg.URL, m.creds.Token)
	if err != nil {
		return err
	}
	if m.cancelDial != nil {
		m.cancelDial()
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	m.setState(status.Connecting)

	go func() {
		sock, err := m.dialer.Dial(ctx, target)
		if err != nil {
			if m.post(Event{kind: evFailed, gen: gen, err: err}) {
				m.post(Event{kind: evClosed, gen: gen, code: CloseAbnormal, reason: "dial failed"})
			}
			return
		}
		if !m.post(Event{kind: evOpened, gen: gen, sock: sock}) {
			_ = sock.Close()
			return
		}
		m.read(gen, sock)
	}()
	return nil
}

// read pumps frames until the socket fails. A close frame becomes a Closed
// event with its code; any other read error is reported as an error followed
// by an abnormal close.
func (m *Manager) read(gen uint64, sock Socket) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				m.post(Event{kind: evClosed, gen: gen, code: ce.Code, reason: ce.Text})
				return
			}
			if m.post(Event{kind: evFailed, gen: gen, err: err}) {
				m.post(Event{kind: evClosed, gen: gen, code: CloseAbnormal, reason: err.Error()})
			}
			return
		}
		if !m.post(Event{kind: evFrame, gen: gen, data: data}) {
			return
		}
	}
}

func (m *Manager) post(ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// teardown invalidates the current generation and closes its socket.
func (m *Manager) teardown(code int, reason string) {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.gen++
	if m.sock != nil {
		msg := websocket.FormatCloseMessage(code, reason)
		if err := m.sock.WriteControl(websocket.CloseMessage, msg, m.clock.Now().Add(time.Second)); err != nil {
			m.logger.Debug("write close frame", zap.Error(err))
		}
		_ = m.sock.Close()
		m.sock = nil
	}
	m.open = false
	m.setState(status.Disconnected)
}

func (m *Manager) setState(s status.State) {
	if err := m.machine.Transition(s); err != nil {
		m.logger.Debug("state transition", zap.Error(err))
	}
}
