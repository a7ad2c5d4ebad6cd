package timestamp_test

import (
	"testing"
	"time"

	"github.com/aethiopicuschan/p2ptp/timestamp"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestBefore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b timestamp.Time32
		want bool
	}{
		{"plain", 10, 20, true},
		{"equal", 5, 5, false},
		{"reverse", 20, 10, false},
		{"across wrap", 0xFFFFFFF0, 0x10, true},
		{"across wrap reverse", 0x10, 0xFFFFFFF0, false},
		{"reflex point", 0, 0x80000000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.Before(tt.b))
		})
	}
}

func TestBefore_Properties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		a := timestamp.Time32(rapid.Uint32().Draw(t, "a"))
		d := rapid.Uint32Range(1, 0x7FFFFFFF).Draw(t, "d")
		b := a + timestamp.Time32(d)

		if !a.Before(b) {
			t.Fatalf("%d should be before %d", a, b)
		}
		if b.Before(a) {
			t.Fatalf("%d should not be before %d", b, a)
		}
		if got := b.Sub(a); got != time.Duration(d)*100*time.Nanosecond {
			t.Fatalf("Sub = %v", got)
		}

		c := a + 0x80000000
		if a.Before(c) || c.Before(a) {
			t.Fatalf("reflex point must be unordered")
		}
	})
}

func TestFromAbs(t *testing.T) {
	t.Parallel()

	var clock mclock.Simulated
	start := timestamp.Now(&clock)
	clock.Run(1500 * time.Millisecond)
	now := timestamp.Now(&clock)

	assert.Equal(t, 1500*time.Millisecond, now.Sub(start))
	assert.Equal(t, uint32(15_000_000), timestamp.Ticks(1500*time.Millisecond))
	assert.Equal(t, now, start.Add(1500*time.Millisecond))
}
