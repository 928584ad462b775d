// Package app composes the client with fx: configuration, logging, the
// socket, the REST API and the chat session, started and stopped as one.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/conn"
	"github.com/matheus3301/chatsync/internal/history"
	"github.com/matheus3301/chatsync/internal/identity"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/message"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/profile"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
	// ConfigPath overrides ~/.chatsync/config.toml.
	ConfigPath string
	// Exclusive takes the profile lock so only one interactive client runs.
	Exclusive bool
	Console   bool
	Debug     bool
}

// Module returns the fx module for the client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("chatsync",
		fx.Supply(p),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.Named("fx")}
			l.UseLogLevel(zap.DebugLevel)
			return l
		}),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideCredentials,
			provideBus,
			provideStateMachine,
			provideLock,
			provideAPI,
			provideLoader,
			provideManager,
			message.NewStore,
			provideTracker,
			provideDispatcher,
			provideRouter,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(logging.Options{
		Path:    profile.LogPath(p.Profile),
		Profile: p.Profile,
		Console: p.Console,
		Debug:   p.Debug,
	})
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(p.Profile, profile.EnvPath()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	logger.Info("config loaded",
		zap.String("path", path),
		zap.String("ws_url", cfg.Server.WSURL),
		zap.String("api_url", cfg.Server.APIURL),
	)
	return cfg, nil
}

func provideCredentials(p Params, cfg *config.Config, logger *zap.Logger) (conn.Credentials, error) {
	prof := cfg.Profile(p.Profile)
	if prof.Token == "" {
		return conn.Credentials{}, fmt.Errorf("no token for profile %q: set profiles.%s.token or %s",
			p.Profile, p.Profile, config.EnvToken)
	}
	id, err := identity.Resolve(prof.Token, prof.UserID)
	if err != nil {
		return conn.Credentials{}, fmt.Errorf("profile %q: %w", p.Profile, err)
	}
	if id.Expired(time.Now()) {
		logger.Warn("session token expired", zap.Time("expires_at", id.ExpiresAt))
	}
	logger.Info("identity resolved", zap.String("user_id", id.UserID))
	return conn.Credentials{Token: prof.Token, UserID: id.UserID}, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if !p.Exclusive {
		return nil, nil
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired", zap.String("path", l.Path()))
	return l, nil
}

func provideAPI(cfg *config.Config, creds conn.Credentials, logger *zap.Logger) *api.Client {
	return api.New(cfg.Server.APIURL, creds.Token, nil, logger)
}

func provideLoader(c *api.Client, cfg *config.Config, logger *zap.Logger) *history.Loader {
	return history.NewLoader(c, cfg.History.PageSize, logger)
}

func provideManager(cfg *config.Config, m *status.Machine, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(conn.Config{
		URL: cfg.Server.WSURL,
		Backoff: conn.Backoff{
			Base: cfg.Reconnect.BaseDelay.Duration,
			Max:  cfg.Reconnect.MaxDelay.Duration,
		},
	}, conn.WSDialer{}, conn.SystemClock{}, m, logger)
}

func provideTracker(creds conn.Credentials) *presence.Tracker {
	return presence.NewTracker(creds.UserID)
}

func provideDispatcher(s *message.Store, m *conn.Manager, b *bus.Bus, logger *zap.Logger) *outbox.Dispatcher {
	return outbox.NewDispatcher(s, m, b, logger)
}

func provideRouter(s *message.Store, t *presence.Tracker, b *bus.Bus, logger *zap.Logger) *intsync.Router {
	return intsync.NewRouter(s, t, b, logger)
}

type clientParams struct {
	fx.In

	Manager    *conn.Manager
	API        *api.Client
	Loader     *history.Loader
	Store      *message.Store
	Tracker    *presence.Tracker
	Dispatcher *outbox.Dispatcher
	Router     *intsync.Router
	Bus        *bus.Bus
	Logger     *zap.Logger
}

func provideClient(p clientParams) *chat.Client {
	return chat.New(chat.Deps{
		Conn:       p.Manager,
		History:    p.Loader,
		Directory:  p.API,
		Remover:    p.API,
		Store:      p.Store,
		Tracker:    p.Tracker,
		Dispatcher: p.Dispatcher,
		Router:     p.Router,
		Bus:        p.Bus,
		Logger:     p.Logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, client *chat.Client, creds conn.Credentials, lk *lock.Lock, logger *zap.Logger) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				if err := client.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("chat loop failed", zap.Error(err))
				}
			}()
			if err := client.Connect(creds); err != nil {
				cancel()
				<-client.Done()
				_ = lk.Release()
				return err
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
				select {
				case <-client.Done():
				case <-ctx.Done():
					logger.Warn("chat loop did not stop in time")
				}
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
