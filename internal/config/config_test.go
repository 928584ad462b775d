package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Reconnect.MaxDelay = Duration{time.Minute}
	cfg.Profiles["work"] = Profile{Token: "tok", UserID: "u1"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Reconnect.MaxDelay.Duration != time.Minute {
		t.Errorf("MaxDelay = %v, want 1m", loaded.Reconnect.MaxDelay)
	}
	if p := loaded.Profile("work"); p.Token != "tok" || p.UserID != "u1" {
		t.Errorf("Profile(work) = %+v", p)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[reconnect]\nbase_delay = \"250ms\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Reconnect.BaseDelay.Duration != 250*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 250ms", cfg.Reconnect.BaseDelay)
	}
	if cfg.Reconnect.MaxDelay.Duration != 30*time.Second || cfg.History.PageSize != 50 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[reconnect]\nbase_delay = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for bad duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.DefaultProfile != "main" {
		t.Errorf("DefaultProfile = %q, want main", cfg.DefaultProfile)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestApplyEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := EnvToken + "=from-dotenv\n" + EnvAPIURL + "=https://dotenv.example.com/api\n"
	if err := os.WriteFile(envFile, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvWSURL, "ws://localhost:9000/ws")
	t.Setenv(EnvAPIURL, "http://localhost:9000/api")
	// godotenv writes through os.Setenv; register cleanup for the key it sets.
	t.Setenv(EnvToken, "")
	os.Unsetenv(EnvToken)
	t.Setenv(EnvUserID, "")

	cfg := Default()
	if err := cfg.ApplyEnv("main", envFile, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Server.WSURL != "ws://localhost:9000/ws" {
		t.Errorf("WSURL = %q", cfg.Server.WSURL)
	}
	if cfg.Server.APIURL != "http://localhost:9000/api" {
		t.Errorf("APIURL = %q, process env should beat .env", cfg.Server.APIURL)
	}
	if got := cfg.Profile("main").Token; got != "from-dotenv" {
		t.Errorf("token = %q, want from-dotenv", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.WSURL = ""
	cfg.Reconnect.MaxDelay = Duration{time.Millisecond}
	cfg.History.PageSize = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() error = nil")
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}
