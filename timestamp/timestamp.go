// Package timestamp implements the 32-bit wrapping timestamps carried in
// handshake and payload packets.
package timestamp

import (
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
)

// TicksPerSecond is the resolution of a Time32.
const TicksPerSecond = 10_000_000

const tick = time.Second / TicksPerSecond

// Time32 counts 100ns ticks modulo 2^32 (about 429 seconds per wrap).
type Time32 uint32

// FromAbs truncates a monotonic clock reading to a Time32.
func FromAbs(t mclock.AbsTime) Time32 {
	return Time32(uint64(t) / uint64(tick))
}

// Now reads clock and returns the current Time32.
func Now(clock mclock.Clock) Time32 {
	return FromAbs(clock.Now())
}

// Before reports whether t is earlier than u, assuming the two are less than
// half a wrap apart. Exactly half a wrap apart, neither is before the other.
func (t Time32) Before(u Time32) bool {
	return int32(u-t) > 0
}

// Sub returns the forward distance from u to t, wrapping at 2^32 ticks.
func (t Time32) Sub(u Time32) time.Duration {
	return time.Duration(uint32(t-u)) * tick
}

// Add returns t shifted forward by d.
func (t Time32) Add(d time.Duration) Time32 {
	return t + Time32(d/tick)
}

// Ticks converts a duration to Time32 ticks.
func Ticks(d time.Duration) uint32 {
	return uint32(d / tick)
}
