package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment overrides, applied after the file and any .env file.
const (
	EnvToken  = "CHATSYNC_TOKEN"
	EnvUserID = "CHATSYNC_USER_ID"
	EnvWSURL  = "CHATSYNC_WS_URL"
	EnvAPIURL = "CHATSYNC_API_URL"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string             `toml:"default_profile"`
	Server         Server             `toml:"server"`
	Reconnect      Reconnect          `toml:"reconnect"`
	History        History            `toml:"history"`
	Profiles       map[string]Profile `toml:"profiles"`
}

// Server holds the backend endpoints.
type Server struct {
	WSURL  string `toml:"ws_url"`
	APIURL string `toml:"api_url"`
}

// Reconnect holds the backoff bounds.
type Reconnect struct {
	BaseDelay Duration `toml:"base_delay"`
	MaxDelay  Duration `toml:"max_delay"`
}

// History holds pagination settings.
type History struct {
	PageSize int `toml:"page_size"`
}

// Profile holds the credentials of one account.
type Profile struct {
	Token  string `toml:"token"`
	UserID string `toml:"user_id,omitempty"`
}

// Duration is a time.Duration written as "1s", "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Server: Server{
			WSURL:  "wss://the-chat-backend.onrender.com/ws",
			APIURL: "https://the-chat-backend.onrender.com/api/user",
		},
		Reconnect: Reconnect{
			BaseDelay: Duration{time.Second},
			MaxDelay:  Duration{30 * time.Second},
		},
		History:  History{PageSize: 50},
		Profiles: map[string]Profile{},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// ApplyEnv loads envFiles into the process environment (missing files are
// skipped, variables already set win) and then applies the CHATSYNC_*
// overrides to the server section and to profile name.
func (c *Config) ApplyEnv(profile string, envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	if v := os.Getenv(EnvWSURL); v != "" {
		c.Server.WSURL = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.Server.APIURL = v
	}
	p := c.Profiles[profile]
	if v := os.Getenv(EnvToken); v != "" {
		p.Token = v
	}
	if v := os.Getenv(EnvUserID); v != "" {
		p.UserID = v
	}
	if p != (Profile{}) {
		if c.Profiles == nil {
			c.Profiles = map[string]Profile{}
		}
		c.Profiles[profile] = p
	}
	return nil
}

// Profile returns the credentials stored for name.
func (c *Config) Profile(name string) Profile {
	return c.Profiles[name]
}

// Validate checks the settings the client cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.WSURL == "" {
		errs = append(errs, errors.New("server.ws_url is empty"))
	}
	if c.Server.APIURL == "" {
		errs = append(errs, errors.New("server.api_url is empty"))
	}
	if c.Reconnect.BaseDelay.Duration <= 0 {
		errs = append(errs, errors.New("reconnect.base_delay must be positive"))
	}
	if c.Reconnect.MaxDelay.Duration < c.Reconnect.BaseDelay.Duration {
		errs = append(errs, errors.New("reconnect.max_delay must not be below base_delay"))
	}
	if c.History.PageSize <= 0 {
		errs = append(errs, errors.New("history.page_size must be positive"))
	}
	return errors.Join(errs...)
}
