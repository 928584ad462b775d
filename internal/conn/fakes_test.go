package conn

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/status"
)

type fakeSocket struct {
	mu       sync.Mutex
	writes   [][]byte
	closes   []int
	reads    chan []byte
	readErr  chan error
	closed   chan struct{}
	once     sync.Once
	writeErr error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		reads:   make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case d := <-s.reads:
		return websocket.TextMessage, d, nil
	case err := <-s.readErr:
		return 0, nil, err
	case <-s.closed:
		return 0, nil, net.ErrClosed
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) WriteControl(_ int, data []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := 0
	if len(data) >= 2 {
		code = int(binary.BigEndian.Uint16(data))
	}
	s.closes = append(s.closes, code)
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

func (s *fakeSocket) closeCodes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.closes...)
}

// serverClose makes the next read fail as if the peer sent a close frame.
func (s *fakeSocket) serverClose(code int) {
	s.readErr <- &websocket.CloseError{Code: code}
}

type dialResult struct {
	sock *fakeSocket
	err  error
}

type fakeDialer struct {
	mu   sync.Mutex
	urls []string
	next chan dialResult
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{next: make(chan dialResult, 8)}
}

func (d *fakeDialer) push(s *fakeSocket) { d.next <- dialResult{sock: s} }

func (d *fakeDialer) refuse() { d.next <- dialResult{err: errors.New("connection refused")} }

func (d *fakeDialer) Dial(ctx context.Context, rawURL string) (Socket, error) {
	d.mu.Lock()
	d.urls = append(d.urls, rawURL)
	d.mu.Unlock()
	select {
	case r := <-d.next:
		if r.err != nil {
			return nil, r.err
		}
		return r.sock, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last(t *testing.T) *fakeTimer {
	t.Helper()
	if len(c.timers) == 0 {
		t.Fatal("no timer scheduled")
	}
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) fireLast(t *testing.T) {
	t.Helper()
	tm := c.last(t)
	if tm.stopped {
		t.Fatal("firing a stopped timer")
	}
	tm.f()
}

type harness struct {
	m      *Manager
	dialer *fakeDialer
	clock  *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dialer: newFakeDialer(),
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	cfg := Config{
		URL:     "wss://chat.example.com/ws",
		Backoff: Backoff{Base: time.Second, Max: 30 * time.Second},
	}
	h.m = NewManager(cfg, h.dialer, h.clock, status.NewMachine(nil), zap.NewNop())
	t.Cleanup(h.m.Shutdown)
	return h
}

// step handles events until one produces an Update.
func (h *harness) step(t *testing.T) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.m.Events():
			if up, ok := h.m.Handle(ev); ok {
				return up
			}
		case <-deadline:
			t.Fatal("timeout waiting for connection update")
		}
	}
}

// drain handles whatever arrives within a short window and returns the
// updates it produced.
func (h *harness) drain() []Update {
	var out []Update
	for {
		select {
		case ev := <-h.m.Events():
			if up, ok := h.m.Handle(ev); ok {
				out = append(out, up)
			}
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func (h *harness) open(t *testing.T) *fakeSocket {
	t.Helper()
	sock := newFakeSocket()
	h.dialer.push(sock)
	if err := h.m.Connect(Credentials{Token: "tok", UserID: "me"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if up := h.step(t); up.Kind != Opened {
		t.Fatalf("update = %v, want opened", up.Kind)
	}
	return sock
}
