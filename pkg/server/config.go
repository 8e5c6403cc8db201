package server

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SessionConfig holds configuration for individual sessions.
type SessionConfig struct {
	// ReadTimeout is the maximum time to wait for a message from the client.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between heartbeat pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 1MB.
	MaxMessageSize int64

	// SendQueue is the number of outgoing frames buffered per session. A
	// session whose queue overflows is closed.
	// Default: 64.
	SendQueue int
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    1 << 20,
		SendQueue:         64,
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ServerConfig holds configuration for the sync server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":7777").
	// Default: ":7777".
	Address string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// SessionConfig is the configuration for individual sessions.
	// Default: DefaultSessionConfig().
	SessionConfig *SessionConfig

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// MaxSessions is the maximum number of concurrent sessions.
	// 0 means no limit.
	MaxSessions int

	// BroadcastInterval is the time between state broadcasts.
	// Default: 100ms.
	BroadcastInterval time.Duration

	// CompressThreshold is the payload size from which state frames are
	// gzip compressed. 0 disables compression.
	// Default: 8KB.
	CompressThreshold int

	// PersistDelay is how long the state must be unchanged before it is
	// saved. Changes keep pushing the save back by at most PersistMaxDelay.
	// Default: 1 second.
	PersistDelay time.Duration

	// PersistMaxDelay bounds how long a save can be pushed back.
	// Default: 10 seconds.
	PersistMaxDelay time.Duration

	// DedupWindow is the number of recently applied update ids remembered to
	// recognize updates a client resends after reconnecting.
	// Default: 4096.
	DedupWindow int

	// TableKey is the store key of the table.
	// Default: "default".
	TableKey string

	// Version and BuildHash are sent to clients in ServerInfo.
	Version   string
	BuildHash string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":7777",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		SessionConfig:     DefaultSessionConfig(),
		ShutdownTimeout:   30 * time.Second,
		BroadcastInterval: 100 * time.Millisecond,
		CompressThreshold: 8 * 1024,
		PersistDelay:      time.Second,
		PersistMaxDelay:   10 * time.Second,
		DedupWindow:       4096,
		TableKey:          "default",
		Version:           "dev",
	}
}

// applyDefaults fills in unset fields from DefaultServerConfig.
func (c *ServerConfig) applyDefaults() {
	defaults := DefaultServerConfig()
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = defaults.CheckOrigin
	}
	if c.SessionConfig == nil {
		c.SessionConfig = defaults.SessionConfig
	}
	if c.SessionConfig.ReadTimeout == 0 {
		c.SessionConfig.ReadTimeout = defaults.SessionConfig.ReadTimeout
	}
	if c.SessionConfig.WriteTimeout == 0 {
		c.SessionConfig.WriteTimeout = defaults.SessionConfig.WriteTimeout
	}
	if c.SessionConfig.HeartbeatInterval == 0 {
		c.SessionConfig.HeartbeatInterval = defaults.SessionConfig.HeartbeatInterval
	}
	if c.SessionConfig.MaxMessageSize == 0 {
		c.SessionConfig.MaxMessageSize = defaults.SessionConfig.MaxMessageSize
	}
	if c.SessionConfig.SendQueue == 0 {
		c.SessionConfig.SendQueue = defaults.SessionConfig.SendQueue
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.BroadcastInterval == 0 {
		c.BroadcastInterval = defaults.BroadcastInterval
	}
	if c.PersistDelay == 0 {
		c.PersistDelay = defaults.PersistDelay
	}
	if c.PersistMaxDelay == 0 {
		c.PersistMaxDelay = defaults.PersistMaxDelay
	}
	if c.DedupWindow == 0 {
		c.DedupWindow = defaults.DedupWindow
	}
	if c.TableKey == "" {
		c.TableKey = defaults.TableKey
	}
	if c.Version == "" {
		c.Version = defaults.Version
	}
}

// Validate reports the first invalid setting.
func (c *ServerConfig) Validate() error {
	switch {
	case c.BroadcastInterval < 0:
		return fmt.Errorf("server: broadcast interval must not be negative")
	case c.PersistMaxDelay < c.PersistDelay:
		return fmt.Errorf("server: persist max delay %s is shorter than persist delay %s", c.PersistMaxDelay, c.PersistDelay)
	case c.DedupWindow < 0:
		return fmt.Errorf("server: dedup window must not be negative")
	case c.MaxSessions < 0:
		return fmt.Errorf("server: max sessions must not be negative")
	case c.CompressThreshold < 0:
		return fmt.Errorf("server: compress threshold must not be negative")
	}
	return nil
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header (e.g., non-browser clients)
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.SessionConfig != nil {
		clone.SessionConfig = c.SessionConfig.Clone()
	}
	return &clone
}

// WithAddress sets the server address and returns the config for chaining.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	c.Address = addr
	return c
}

// WithMaxSessions sets the maximum sessions and returns the config for chaining.
func (c *ServerConfig) WithMaxSessions(max int) *ServerConfig {
	c.MaxSessions = max
	return c
}
