package conn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/status"
)

func TestGorillaTransport(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tokens := make(chan string, 1)
	handshakes := make(chan []byte, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		tokens <- c.Query("token")
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		handshakes <- data

		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth_success"}`))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "restarting"),
			time.Now().Add(time.Second))
		// Wait for the client to go away before tearing the TCP connection down.
		_, _, _ = ws.ReadMessage()
	})

	server := httptest.NewServer(router)
	defer server.Close()

	clock := &fakeClock{now: time.Now()}
	m := NewManager(Config{
		URL:     "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		Backoff: Backoff{Base: time.Second, Max: 30 * time.Second},
	}, WSDialer{}, clock, status.NewMachine(nil), zap.NewNop())
	defer m.Shutdown()
	h := &harness{m: m, clock: clock}

	if err := m.Connect(Credentials{Token: "secret", UserID: "u42"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if up := h.step(t); up.Kind != Opened {
		t.Fatalf("update = %v, want opened", up.Kind)
	}

	select {
	case tok := <-tokens:
		if tok != "secret" {
			t.Errorf("token = %q, want secret", tok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the upgrade")
	}
	select {
	case hs := <-handshakes:
		if gjson.GetBytes(hs, "type").String() != "handshake" || gjson.GetBytes(hs, "userId").String() != "u42" {
			t.Errorf("handshake = %s", hs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the handshake")
	}

	if up := h.step(t); up.Kind != Frame || gjson.GetBytes(up.Data, "type").String() != "auth_success" {
		t.Errorf("update = %+v, want auth_success frame", up)
	}

	up := h.step(t)
	if up.Kind != Closed || up.Code != websocket.CloseInternalServerErr {
		t.Fatalf("update = %+v, want close 1011", up)
	}
	if up.RetryIn != time.Second {
		t.Errorf("RetryIn = %v, want 1s", up.RetryIn)
	}
}

func TestGorillaDialFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "bad token"})
	})
	server := httptest.NewServer(router)
	defer server.Close()

	clock := &fakeClock{now: time.Now()}
	m := NewManager(Config{
		URL:     "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		Backoff: Backoff{Base: time.Second, Max: 30 * time.Second},
	}, WSDialer{}, clock, nil, nil)
	defer m.Shutdown()
	h := &harness{m: m, clock: clock}

	if err := m.Connect(Credentials{Token: "nope"}); err != nil {
		t.Fatal(err)
	}
	up := h.step(t)
	if up.Kind != Failed || up.Err == nil || !strings.Contains(up.Err.Error(), "401") {
		t.Errorf("update = %+v, want failed with 401", up)
	}
	if up := h.step(t); up.Kind != Closed || up.Code != CloseAbnormal {
		t.Errorf("update = %+v, want abnormal close", up)
	}
}
