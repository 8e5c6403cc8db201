package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/vango-dev/tablesync/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "tablesync.json"

	// DefaultAddr is the default server listen address.
	DefaultAddr = ":7777"

	// DefaultTableKey is the store key of the table.
	DefaultTableKey = "default"

	// DefaultDataDir is the directory of the file store.
	DefaultDataDir = "data"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverS3     = "s3"
)

// Config represents the complete tablesync.json configuration.
type Config struct {
	// Server contains sync server configuration.
	Server ServerConfig `json:"server,omitempty"`

	// Store selects where the canonical state is persisted.
	Store StoreConfig `json:"store,omitempty"`

	// Client contains configuration for the watch command.
	Client ClientConfig `json:"client,omitempty"`

	// Log contains logging configuration.
	Log LogConfig `json:"log,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains sync server settings. Durations are Go duration
// strings such as "100ms".
type ServerConfig struct {
	// Addr is the address to listen on.
	Addr string `json:"addr,omitempty" env:"TABLESYNC_SERVER_ADDR"`

	// TableKey is the store key of the table.
	TableKey string `json:"tableKey,omitempty" env:"TABLESYNC_TABLE_KEY"`

	// BroadcastInterval is the time between state broadcasts.
	BroadcastInterval string `json:"broadcastInterval,omitempty" env:"TABLESYNC_BROADCAST_INTERVAL"`

	// PersistDelay is how long the state must be unchanged before it is saved.
	PersistDelay string `json:"persistDelay,omitempty" env:"TABLESYNC_PERSIST_DELAY"`

	// PersistMaxDelay bounds how long a save can be pushed back.
	PersistMaxDelay string `json:"persistMaxDelay,omitempty" env:"TABLESYNC_PERSIST_MAX_DELAY"`

	// CompressThreshold is the frame size from which payloads are compressed.
	CompressThreshold int `json:"compressThreshold,omitempty" env:"TABLESYNC_COMPRESS_THRESHOLD"`

	// MaxSessions limits concurrent sessions. 0 means no limit.
	MaxSessions int `json:"maxSessions,omitempty" env:"TABLESYNC_MAX_SESSIONS"`

	// AllowAnyOrigin disables the same-origin check of WebSocket upgrades.
	AllowAnyOrigin bool `json:"allowAnyOrigin,omitempty" env:"TABLESYNC_ALLOW_ANY_ORIGIN"`
}

// StoreConfig selects and configures the snapshot store.
type StoreConfig struct {
	// Driver is one of "memory", "file", "sqlite" or "s3".
	Driver string `json:"driver,omitempty" env:"TABLESYNC_STORE_DRIVER"`

	// Dir is the directory of the file store.
	Dir string `json:"dir,omitempty" env:"TABLESYNC_STORE_DIR"`

	// Path is the database file of the sqlite store.
	Path string `json:"path,omitempty" env:"TABLESYNC_STORE_PATH"`

	// Table is the table name of the sqlite store.
	Table string `json:"table,omitempty" env:"TABLESYNC_STORE_TABLE"`

	// S3 configures the s3 store.
	S3 S3Config `json:"s3,omitempty"`
}

// S3Config configures the s3 store. Credentials are read from the
// environment only.
type S3Config struct {
	Bucket       string `json:"bucket,omitempty" env:"TABLESYNC_S3_BUCKET"`
	Prefix       string `json:"prefix,omitempty" env:"TABLESYNC_S3_PREFIX"`
	Region       string `json:"region,omitempty" env:"TABLESYNC_S3_REGION"`
	Endpoint     string `json:"endpoint,omitempty" env:"TABLESYNC_S3_ENDPOINT"`
	UsePathStyle bool   `json:"usePathStyle,omitempty" env:"TABLESYNC_S3_USE_PATH_STYLE"`

	AccessKeyID     string `json:"-" env:"TABLESYNC_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"-" env:"TABLESYNC_S3_SECRET_ACCESS_KEY"`
}

// ClientConfig contains settings for commands that connect to a server.
type ClientConfig struct {
	// ServerURL is the WebSocket URL of the server.
	ServerURL string `json:"serverUrl,omitempty" env:"TABLESYNC_SERVER_URL"`

	// PlayerID is announced to the server after connecting.
	PlayerID string `json:"playerId,omitempty" env:"TABLESYNC_PLAYER_ID"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of "debug", "info", "warn" or "error".
	Level string `json:"level,omitempty" env:"TABLESYNC_LOG_LEVEL"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty" env:"TABLESYNC_LOG_FORMAT"`
}

// New creates a new Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              DefaultAddr,
			TableKey:          DefaultTableKey,
			BroadcastInterval: "100ms",
			PersistDelay:      "1s",
			PersistMaxDelay:   "10s",
			CompressThreshold: 8 * 1024,
		},
		Store: StoreConfig{
			Driver: DriverFile,
			Dir:    DefaultDataDir,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the specified directory.
// It looks for tablesync.json in the directory.
func Load(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ConfigFileName)
	return LoadFile(configPath)
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigNotFound).
				WithDetail("No tablesync.json found in " + filepath.Dir(path)).
				WithSuggestion("Create tablesync.json or pass --config")
		}
		return nil, errors.New(errors.CodeConfigInvalid).Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(errors.CodeConfigInvalid).
			WithDetail("Failed to parse tablesync.json: " + err.Error()).
			WithSuggestion("Check that tablesync.json is valid JSON")
	}

	cfg.configPath = path
	cfg.ApplyDefaults()

	return cfg, nil
}

// LoadOrDefault is Load, falling back to the defaults when the directory
// has no tablesync.json.
func LoadOrDefault(dir string) (*Config, error) {
	cfg, err := Load(dir)
	if errors.HasCode(err, errors.CodeConfigNotFound) {
		return New(), nil
	}
	return cfg, err
}

// ApplyEnv overrides fields from TABLESYNC_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return errors.New(errors.CodeConfigEnv).Wrap(err)
	}
	c.ApplyDefaults()
	return nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New(errors.CodeConfigInvalid).Wrap(err)
	}

	// Add newline at end of file
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New(errors.CodeConfigInvalid).Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// ApplyDefaults fills in default values for empty fields. Call it again
// after changing fields by hand.
func (c *Config) ApplyDefaults() {
	defaults := New()

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.TableKey == "" {
		c.Server.TableKey = defaults.Server.TableKey
	}
	if c.Server.BroadcastInterval == "" {
		c.Server.BroadcastInterval = defaults.Server.BroadcastInterval
	}
	if c.Server.PersistDelay == "" {
		c.Server.PersistDelay = defaults.Server.PersistDelay
	}
	if c.Server.PersistMaxDelay == "" {
		c.Server.PersistMaxDelay = defaults.Server.PersistMaxDelay
	}

	// Store
	if c.Store.Driver == "" {
		c.Store.Driver = defaults.Store.Driver
	}
	if c.Store.Driver == DriverFile && c.Store.Dir == "" {
		c.Store.Dir = defaults.Store.Dir
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = filepath.Join(DefaultDataDir, "tablesync.db")
	}

	// Log
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

var tableKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return invalid("server.addr is empty", `{"server": {"addr": ":7777"}}`)
	}
	if !tableKeyPattern.MatchString(c.Server.TableKey) {
		return invalid(fmt.Sprintf("server.tableKey %q may only contain letters, digits, '.', '_' and '-'", c.Server.TableKey), `{"server": {"tableKey": "default"}}`)
	}
	for _, d := range []struct{ name, value string }{
		{"server.broadcastInterval", c.Server.BroadcastInterval},
		{"server.persistDelay", c.Server.PersistDelay},
		{"server.persistMaxDelay", c.Server.PersistMaxDelay},
	} {
		v, err := time.ParseDuration(d.value)
		if err != nil || v <= 0 {
			return invalid(fmt.Sprintf("%s %q is not a positive duration", d.name, d.value), `{"server": {"broadcastInterval": "100ms"}}`)
		}
	}
	if c.PersistMaxDelay() < c.PersistDelay() {
		return invalid("server.persistMaxDelay is shorter than server.persistDelay", `{"server": {"persistDelay": "1s", "persistMaxDelay": "10s"}}`)
	}
	if c.Server.CompressThreshold < 0 || c.Server.MaxSessions < 0 {
		return invalid("server.compressThreshold and server.maxSessions must not be negative", "")
	}

	switch c.Store.Driver {
	case DriverMemory, DriverFile:
	case DriverSQLite:
		if c.Store.Path == "" {
			return invalid("store.path is required for the sqlite driver", `{"store": {"driver": "sqlite", "path": "data/tablesync.db"}}`)
		}
	case DriverS3:
		if c.Store.S3.Bucket == "" {
			return invalid("store.s3.bucket is required for the s3 driver", `{"store": {"driver": "s3", "s3": {"bucket": "tables"}}}`)
		}
	default:
		return invalid(fmt.Sprintf("unknown store.driver %q", c.Store.Driver), `{"store": {"driver": "file"}}`)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("unknown log.level %q", c.Log.Level), `{"log": {"level": "info"}}`)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid(fmt.Sprintf("unknown log.format %q", c.Log.Format), `{"log": {"format": "text"}}`)
	}
	return nil
}

func invalid(detail, example string) error {
	err := errors.New(errors.CodeConfigInvalid).WithDetail(detail)
	if example != "" {
		err.WithExample(example)
	}
	return err
}

// BroadcastInterval returns server.broadcastInterval, or 0 if invalid.
func (c *Config) BroadcastInterval() time.Duration {
	return parseDuration(c.Server.BroadcastInterval)
}

// PersistDelay returns server.persistDelay, or 0 if invalid.
func (c *Config) PersistDelay() time.Duration {
	return parseDuration(c.Server.PersistDelay)
}

// PersistMaxDelay returns server.persistMaxDelay, or 0 if invalid.
func (c *Config) PersistMaxDelay() time.Duration {
	return parseDuration(c.Server.PersistMaxDelay)
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// StoreDir returns the absolute path of the file store directory.
func (c *Config) StoreDir() string {
	return c.resolve(c.Store.Dir)
}

// StorePath returns the absolute path of the sqlite database.
func (c *Config) StorePath() string {
	return c.resolve(c.Store.Path)
}

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || path == ":memory:" {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindProjectRoot walks up directories to find the directory containing
// tablesync.json.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New(errors.CodeConfigNotFound).
				WithDetail("No tablesync.json found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}
