package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/fx"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/profile"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

// backend serves the socket and the REST API and reports handshakes.
func backend(t *testing.T, token string) (*httptest.Server, <-chan []byte) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handshakes := make(chan []byte, 4)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		if c.Query("token") != token {
			c.Status(http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if gjson.GetBytes(data, "type").String() == "handshake" {
				handshakes <- data
			}
		}
	})
	r.GET("/api/people", func(c *gin.Context) {
		c.JSON(http.StatusOK, []gin.H{{"_id": "u1"}, {"_id": "u2", "firstName": "Ana"}})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, handshakes
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(profile.HomeEnv, home)
	t.Setenv(config.EnvToken, "")
	t.Setenv(config.EnvUserID, "")
	t.Setenv(config.EnvWSURL, "")
	t.Setenv(config.EnvAPIURL, "")
	return home
}

func TestModuleLifecycle(t *testing.T) {
	isolate(t)
	token := signedToken(t, jwt.MapClaims{"id": "u1", "exp": time.Now().Add(time.Hour).Unix()})
	srv, handshakes := backend(t, token)

	t.Setenv(config.EnvToken, token)
	t.Setenv(config.EnvWSURL, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	t.Setenv(config.EnvAPIURL, srv.URL+"/api")

	var client *chat.Client
	app := fx.New(
		Module(Params{Profile: "test", Exclusive: true}),
		fx.Populate(&client),
	)
	if err := app.Err(); err != nil {
		t.Fatalf("fx.New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case hs := <-handshakes:
		if got := gjson.GetBytes(hs, "userId").String(); got != "u1" {
			t.Errorf("handshake userId = %q, want u1", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no handshake")
	}

	// The profile lock is held while running.
	var held *lock.LockHeldError
	if _, err := lock.Acquire(profile.Dir("test")); !errors.As(err, &held) {
		t.Errorf("second Acquire() error = %v, want LockHeldError", err)
	}

	s, err := client.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if s.Self != "u1" {
		t.Errorf("self = %q, want u1", s.Self)
	}

	if err := app.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if _, err := client.Snapshot(); !errors.Is(err, chat.ErrClosed) {
		t.Errorf("Snapshot() after stop error = %v, want ErrClosed", err)
	}

	l, err := lock.Acquire(profile.Dir("test"))
	if err != nil {
		t.Fatalf("Acquire() after stop error = %v", err)
	}
	_ = l.Release()

	if _, err := os.Stat(profile.LogPath("test")); err != nil {
		t.Errorf("log file missing: %v", err)
	}
}

func TestModuleNeedsToken(t *testing.T) {
	isolate(t)
	app := fx.New(Module(Params{Profile: "empty"}), fx.NopLogger)
	err := app.Err()
	if err == nil || !strings.Contains(err.Error(), "no token") {
		t.Fatalf("fx.New() error = %v, want missing token", err)
	}
}

func TestModuleProfileUserOverride(t *testing.T) {
	home := isolate(t)
	cfg := config.Default()
	cfg.Profiles = map[string]config.Profile{
		"work": {Token: signedToken(t, jwt.MapClaims{"sub": "from-token"}), UserID: "explicit"},
	}
	path := filepath.Join(home, "config.toml")
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	p := Params{Profile: "work", ConfigPath: path}
	logger, err := provideLogger(p)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := provideConfig(p, logger)
	if err != nil {
		t.Fatalf("provideConfig() error = %v", err)
	}
	creds, err := provideCredentials(p, loaded, logger)
	if err != nil {
		t.Fatalf("provideCredentials() error = %v", err)
	}
	if creds.UserID != "explicit" {
		t.Errorf("UserID = %q, want explicit", creds.UserID)
	}
}

func TestProvideLockOptional(t *testing.T) {
	isolate(t)
	p := Params{Profile: "shared"}
	logger, err := provideLogger(p)
	if err != nil {
		t.Fatal(err)
	}
	l, err := provideLock(p, logger)
	if err != nil || l != nil {
		t.Errorf("provideLock() = %v, %v; want nil lock for shared access", l, err)
	}
}
