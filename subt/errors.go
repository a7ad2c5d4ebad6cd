package subt

import "errors"

var (
	// ErrInvalidBandwidth is returned for targets that are not finite,
	// negative or above MaxTargetBandwidth.
	ErrInvalidBandwidth = errors.New("subt: invalid bandwidth")

	// ErrInvalidConfig is returned by New for unusable configurations.
	ErrInvalidConfig = errors.New("subt: invalid config")

	// ErrClosed is returned when starting a closed extension.
	ErrClosed = errors.New("subt: closed")
)
