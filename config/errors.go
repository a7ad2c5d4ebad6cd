package config

import "errors"

var (
	// ErrInvalidConfig is returned for files that decode but cannot run.
	ErrInvalidConfig = errors.New("config: invalid config")
	// ErrUnknownKey is returned when a file sets a key no section defines.
	ErrUnknownKey = errors.New("config: unknown key")
)
