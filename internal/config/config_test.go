package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Fatalf("listen = %q, want default", cfg.Listen)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat written config: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
db_path: /tmp/x.db
week_start: Sunday
feeds:
  - name: holidays
    url: https://example.com/h.ics
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/x.db" {
		t.Fatalf("db_path = %q", cfg.DBPath)
	}
	if cfg.WeekStart != "sunday" {
		t.Fatalf("week_start = %q, want sunday", cfg.WeekStart)
	}
	if cfg.HorizonDays != 90 {
		t.Fatalf("horizon_days = %d, want 90", cfg.HorizonDays)
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].ID != "holidays" || cfg.Feeds[0].Rigidity != "Rigid" {
		t.Fatalf("feeds = %+v", cfg.Feeds)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: 127.0.0.1:9000\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CALEN_LISTEN", "0.0.0.0:7000")
	t.Setenv("CALEN_DB_PATH", "/data/calen.db")
	t.Setenv("CALEN_SNAPSHOT_WIDTH", "800")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:7000" {
		t.Fatalf("listen = %q, want env override", cfg.Listen)
	}
	if cfg.DBPath != "/data/calen.db" {
		t.Fatalf("db_path = %q, want env override", cfg.DBPath)
	}
	if cfg.Snapshot.Width != 800 {
		t.Fatalf("snapshot width = %d, want 800", cfg.Snapshot.Width)
	}
}

func TestLoadRejectsHalfConfiguredAuth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("basic_auth:\n  username: me\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "basic_auth") {
		t.Fatalf("err = %v, want basic_auth error", err)
	}
}

func TestLoadRejectsBadFeedRigidity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "feeds:\n  - id: a\n    url: a.ics\n    rigidity: sometimes\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected rigidity error")
	}
}

func TestLoadRejectsBadSyncSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "sync: \"not a cron\"\nfeeds:\n  - id: a\n    url: a.ics\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "sync schedule") {
		t.Fatalf("err = %v, want sync schedule error", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Feeds = []FeedConfig{{ID: "work", URL: "file:///tmp/work.ics", Rigidity: "Dynamic"}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Feeds) != 1 || got.Feeds[0].Rigidity != "Dynamic" {
		t.Fatalf("feeds = %+v", got.Feeds)
	}
}
