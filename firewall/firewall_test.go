package firewall_test

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/aethiopicuschan/p2ptp/firewall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestFirewall_BlocksAfterBurst(t *testing.T) {
	t.Parallel()

	clock := &fakeTime{now: time.Unix(1000, 0)}
	fw, err := firewall.New(firewall.Config{Rate: 1, Burst: 3, BlockFor: 10 * time.Second, Now: clock.Now})
	require.NoError(t, err)

	bad := netip.MustParseAddrPort("192.0.2.10:4000")
	other := netip.MustParseAddrPort("192.0.2.11:4000")

	for i := 0; i < 3; i++ {
		fw.OnUnauthenticatedPacket(bad)
	}
	assert.False(t, fw.IsBlocked(bad))

	fw.OnUnauthenticatedPacket(bad)
	assert.True(t, fw.IsBlocked(bad))
	// Blocking is per address, not per port.
	assert.True(t, fw.IsBlocked(netip.MustParseAddrPort("192.0.2.10:5000")))
	assert.False(t, fw.IsBlocked(other))

	clock.Advance(11 * time.Second)
	assert.False(t, fw.IsBlocked(bad))
}

func TestFirewall_SustainedRateIsTolerated(t *testing.T) {
	t.Parallel()

	clock := &fakeTime{now: time.Unix(1000, 0)}
	fw, err := firewall.New(firewall.Config{Rate: 2, Burst: 2, Now: clock.Now})
	require.NoError(t, err)

	ep := netip.MustParseAddrPort("198.51.100.1:1")
	for i := 0; i < 20; i++ {
		fw.OnUnauthenticatedPacket(ep)
		clock.Advance(time.Second)
	}
	assert.False(t, fw.IsBlocked(ep))
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := firewall.New(firewall.Config{Burst: -1})
	assert.ErrorIs(t, err, firewall.ErrInvalidConfig)
}
