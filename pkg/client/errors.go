package client

import "errors"

// Engine errors.
var (
	// ErrEngineStopped is returned by operations on a stopped engine.
	ErrEngineStopped = errors.New("client: engine stopped")

	// ErrDispatcherClosed is returned by Dispatch after Close.
	ErrDispatcherClosed = errors.New("client: dispatcher closed")

	// ErrNotConnected is returned when a message that cannot be queued is
	// sent without a connection.
	ErrNotConnected = errors.New("client: not connected")
)
