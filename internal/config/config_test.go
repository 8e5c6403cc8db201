package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/tablesync/internal/errors"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, DefaultAddr)
	}
	if cfg.Store.Driver != DriverFile {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, DriverFile)
	}
	if cfg.BroadcastInterval() != 100*time.Millisecond {
		t.Errorf("BroadcastInterval() = %v, want 100ms", cfg.BroadcastInterval())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	content := `{
  "server": {
    "addr": ":9000",
    "persistDelay": "2s"
  },
  "store": {
    "driver": "sqlite"
  }
}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr = %q, want :9000", cfg.Server.Addr)
	}
	if cfg.PersistDelay() != 2*time.Second {
		t.Errorf("PersistDelay() = %v, want 2s", cfg.PersistDelay())
	}
	// Defaults fill the rest.
	if cfg.PersistMaxDelay() != 10*time.Second {
		t.Errorf("PersistMaxDelay() = %v, want 10s", cfg.PersistMaxDelay())
	}
	if cfg.Store.Path != filepath.Join(DefaultDataDir, "tablesync.db") {
		t.Errorf("Store.Path = %q, want the default database", cfg.Store.Path)
	}
	if got, want := cfg.StorePath(), filepath.Join(dir, DefaultDataDir, "tablesync.db"); got != want {
		t.Errorf("StorePath() = %q, want %q", got, want)
	}
	if cfg.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", cfg.Dir(), dir)
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(t.TempDir())
	if !errors.HasCode(err, errors.CodeConfigNotFound) {
		t.Errorf("expected %s, got %v", errors.CodeConfigNotFound, err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(t.TempDir())
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Server.TableKey != DefaultTableKey {
		t.Errorf("Server.TableKey = %q, want %q", cfg.Server.TableKey, DefaultTableKey)
	}
}

func TestLoadFile_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFile(path)
	if !errors.HasCode(err, errors.CodeConfigInvalid) {
		t.Errorf("expected %s, got %v", errors.CodeConfigInvalid, err)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg := New()
	cfg.Server.Addr = ":8123"
	cfg.Store.S3.SecretAccessKey = "hunter2"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if data[len(data)-1] != '\n' {
		t.Error("expected a trailing newline")
	}
	if strings.Contains(string(data), "hunter2") {
		t.Error("secrets must not be written to the file")
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if loaded.Server.Addr != ":8123" {
		t.Errorf("Server.Addr = %q, want :8123", loaded.Server.Addr)
	}
}

func TestSave_NoPath(t *testing.T) {
	if err := New().Save(); err == nil {
		t.Error("expected an error without a config path")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"bad table key", func(c *Config) { c.Server.TableKey = "a/b" }},
		{"bad duration", func(c *Config) { c.Server.BroadcastInterval = "soon" }},
		{"zero duration", func(c *Config) { c.Server.PersistDelay = "0s" }},
		{"max below delay", func(c *Config) { c.Server.PersistMaxDelay = "500ms" }},
		{"negative sessions", func(c *Config) { c.Server.MaxSessions = -1 }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }},
		{"sqlite without path", func(c *Config) { c.Store.Driver = DriverSQLite }},
		{"s3 without bucket", func(c *Config) { c.Store.Driver = DriverS3 }},
		{"unknown level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.modify(cfg)
			err := cfg.Validate()
			if !errors.HasCode(err, errors.CodeConfigInvalid) {
				t.Errorf("expected %s, got %v", errors.CodeConfigInvalid, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TABLESYNC_SERVER_ADDR", ":7000")
	t.Setenv("TABLESYNC_STORE_DRIVER", "s3")
	t.Setenv("TABLESYNC_S3_BUCKET", "tables")
	t.Setenv("TABLESYNC_S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("TABLESYNC_MAX_SESSIONS", "12")

	cfg := New()
	cfg.Log.Level = "debug"
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Server.Addr != ":7000" {
		t.Errorf("Server.Addr = %q, want :7000", cfg.Server.Addr)
	}
	if cfg.Server.MaxSessions != 12 {
		t.Errorf("Server.MaxSessions = %d, want 12", cfg.Server.MaxSessions)
	}
	if cfg.Store.S3.Bucket != "tables" || cfg.Store.S3.SecretAccessKey != "secret" {
		t.Errorf("Store.S3 = %+v, want bucket and secret from env", cfg.Store.S3)
	}
	// Unset variables keep the file values.
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Setenv("TABLESYNC_MAX_SESSIONS", "many")

	err := New().ApplyEnv()
	if !errors.HasCode(err, errors.CodeConfigEnv) {
		t.Errorf("expected %s, got %v", errors.CodeConfigEnv, err)
	}
}

func TestPaths(t *testing.T) {
	cfg := New()
	if cfg.Dir() != "" {
		t.Errorf("Dir() = %q, want empty", cfg.Dir())
	}

	cfg.configPath = filepath.Join("/srv/table", ConfigFileName)
	if got, want := cfg.StoreDir(), filepath.Join("/srv/table", DefaultDataDir); got != want {
		t.Errorf("StoreDir() = %q, want %q", got, want)
	}

	cfg.Store.Path = ":memory:"
	if cfg.StorePath() != ":memory:" {
		t.Errorf("StorePath() = %q, want :memory:", cfg.StorePath())
	}
	cfg.Store.Path = "/var/lib/tablesync.db"
	if cfg.StorePath() != "/var/lib/tablesync.db" {
		t.Errorf("StorePath() = %q, want the absolute path", cfg.StorePath())
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	if Exists(dir) {
		t.Error("Exists() = true for empty dir")
	}
	if err := New().SaveTo(filepath.Join(dir, ConfigFileName)); err != nil {
		t.Fatal(err)
	}
	if !Exists(dir) {
		t.Error("Exists() = false after SaveTo")
	}
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if err := New().SaveTo(filepath.Join(root, ConfigFileName)); err != nil {
		t.Fatal(err)
	}

	got, err := FindProjectRoot(nested)
	if err != nil {
		t.Fatalf("FindProjectRoot() error = %v", err)
	}
	want, _ := filepath.Abs(root)
	if got != want {
		t.Errorf("FindProjectRoot() = %q, want %q", got, want)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = DriverSQLite
	cfg.ApplyDefaults()

	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, DefaultAddr)
	}
	if cfg.Store.Path == "" {
		t.Error("expected a default sqlite path")
	}
	if cfg.Store.Dir != "" {
		t.Errorf("Store.Dir = %q, want empty for sqlite", cfg.Store.Dir)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want text", cfg.Log.Format)
	}
}
