package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/history"
	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

const waitFor = 3 * time.Second

// fakeServer is the chat backend: a websocket endpoint plus the REST API.
type fakeServer struct {
	srv    *httptest.Server
	frames chan []byte

	mu           sync.Mutex
	ws           *websocket.Conn
	newest       map[string][]gin.H
	older        map[string][]gin.H
	gates        map[string]chan struct{}
	historyCalls map[string]int
	befores      []string
	peopleCalls  int
	peopleStatus int
	deleted      []string
	cleared      []string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fs := &fakeServer{
		frames:       make(chan []byte, 256),
		newest:       make(map[string][]gin.H),
		older:        make(map[string][]gin.H),
		gates:        make(map[string]chan struct{}),
		historyCalls: make(map[string]int),
		peopleStatus: http.StatusOK,
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		if c.Query("token") != "good" {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		fs.mu.Lock()
		fs.ws = ws
		fs.mu.Unlock()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			fs.frames <- data
		}
	})

	rest := r.Group("/api", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer good" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}
		c.Next()
	})
	rest.GET("/people", func(c *gin.Context) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		fs.peopleCalls++
		if fs.peopleStatus != http.StatusOK {
			c.JSON(fs.peopleStatus, gin.H{"message": "token expired"})
			return
		}
		c.JSON(http.StatusOK, []gin.H{
			{"_id": "me", "firstName": "Me"},
			{"_id": "p1", "firstName": "Pat", "lastName": "Doe"},
			{"_id": "p2", "firstName": "Sam"},
		})
	})
	rest.GET("/messages/:peer", func(c *gin.Context) {
		peer := c.Param("peer")
		before := c.Query("before")

		fs.mu.Lock()
		fs.historyCalls[peer]++
		gate := fs.gates[peer]
		fs.mu.Unlock()
		if gate != nil {
			<-gate
		}

		fs.mu.Lock()
		defer fs.mu.Unlock()
		msgs := fs.newest[peer]
		hasMore := len(fs.older[peer]) > 0
		if before != "" {
			fs.befores = append(fs.befores, before)
			msgs = fs.older[peer]
			hasMore = false
		}
		if msgs == nil {
			msgs = []gin.H{}
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"messages": msgs, "hasMore": hasMore}})
	})
	rest.DELETE("/messages/clear-conversation/:peer", func(c *gin.Context) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		fs.cleared = append(fs.cleared, c.Param("peer"))
		c.JSON(http.StatusOK, gin.H{"deleted": 2})
	})
	rest.DELETE("/messages/:id", func(c *gin.Context) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		if c.Param("id") == "locked" {
			c.JSON(http.StatusForbidden, gin.H{"message": "not yours"})
			return
		}
		fs.deleted = append(fs.deleted, c.Param("id"))
		c.Status(http.StatusNoContent)
	})

	fs.srv = httptest.NewServer(r)
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http") + "/ws"
}

func (fs *fakeServer) push(t *testing.T, frame string) {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.ws == nil {
		t.Fatal("no socket to push to")
	}
	if err := fs.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("push: %v", err)
	}
}

// drop closes the current socket from the server side with code.
func (fs *fakeServer) drop(t *testing.T, code int) {
	t.Helper()
	fs.mu.Lock()
	ws := fs.ws
	fs.ws = nil
	fs.mu.Unlock()
	if ws == nil {
		t.Fatal("no socket to drop")
	}
	msg := websocket.FormatCloseMessage(code, "restarting")
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("drop: %v", err)
	}
}

// framesUntil collects client frames up to and including the first one of
// type typ.
func (fs *fakeServer) framesUntil(t *testing.T, typ string) [][]byte {
	t.Helper()
	var got [][]byte
	timeout := time.After(waitFor)
	for {
		select {
		case f := <-fs.frames:
			got = append(got, f)
			if gjson.GetBytes(f, "type").String() == typ {
				return got
			}
		case <-timeout:
			t.Fatalf("no %s frame from client", typ)
		}
	}
}

func (fs *fakeServer) next(t *testing.T, typ string) []byte {
	t.Helper()
	got := fs.framesUntil(t, typ)
	return got[len(got)-1]
}

func (fs *fakeServer) calls(peer string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.historyCalls[peer]
}

type testEnv struct {
	client *Client
	bus    *bus.Bus
	logs   *observer.ObservedLogs
	stop   func()
}

func startClient(t *testing.T, fs *fakeServer, retry time.Duration) *testEnv {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	b := bus.New()
	manager := conn.NewManager(conn.Config{
		URL:     fs.wsURL(),
		Backoff: conn.Backoff{Base: retry, Max: retry},
	}, conn.WSDialer{}, nil, status.NewMachine(b), logger)
	rest := api.New(fs.srv.URL+"/api", "good", fs.srv.Client(), logger)
	store := message.NewStore()
	tracker := presence.NewTracker("")

	c := New(Deps{
		Conn:       manager,
		History:    history.NewLoader(rest, 50, logger),
		Directory:  rest,
		Remover:    rest,
		Store:      store,
		Tracker:    tracker,
		Dispatcher: outbox.NewDispatcher(store, manager, b, logger),
		Router:     intsync.NewRouter(store, tracker, b, logger),
		Bus:        b,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	stop := func() {
		cancel()
		<-c.Done()
	}
	t.Cleanup(stop)
	return &testEnv{client: c, bus: b, logs: logs, stop: stop}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (e *testEnv) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := e.client.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return s
}

// connect logs in as user and waits for the handshake.
func (e *testEnv) connect(t *testing.T, fs *fakeServer, user string) {
	t.Helper()
	if err := e.client.Connect(conn.Credentials{Token: "good", UserID: user}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	hs := fs.next(t, "handshake")
	if got := gjson.GetBytes(hs, "userId").String(); got != user {
		t.Fatalf("handshake userId = %q, want %q", got, user)
	}
	eventually(t, "connected state", func() bool {
		return e.snapshot(t).State == status.Connected
	})
}

// open selects peer and waits for its first page.
func (e *testEnv) open(t *testing.T, fs *fakeServer, peer string) {
	t.Helper()
	before := fs.calls(peer)
	if err := e.client.Select(peer); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	eventually(t, "history for "+peer, func() bool {
		return fs.calls(peer) > before && !e.snapshot(t).Loading
	})
}

func ids(rs []message.Rendered) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
