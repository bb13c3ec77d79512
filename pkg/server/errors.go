package server

import "errors"

// Sentinel errors for server operations.
var (
	// ErrInvalidConfig is returned by ValidateConfig and Run for unusable
	// configuration.
	ErrInvalidConfig = errors.New("server: invalid config")

	// ErrNotRunning is returned by Addr before the server is listening.
	ErrNotRunning = errors.New("server: not running")
)
