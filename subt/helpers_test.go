package subt

import (
	"math/rand/v2"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/aethiopicuschan/p2ptp/wire"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/require"
)

// fakeTransport records what a Stream sends and optionally delivers it to
// a peer Stream.
type fakeTransport struct {
	id wire.StreamID

	mu          sync.Mutex
	established bool
	idle        bool
	remoteUser  bool
	active      int
	payloads    [][]byte
	signals     [][]byte
	peer        *Stream
}

func (f *fakeTransport) ID() wire.StreamID { return f.id }

func (f *fakeTransport) Established() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.established
}

func (f *fakeTransport) IsIdle(time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle
}

func (f *fakeTransport) RemotePeerRoleIsUser() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteUser
}

func (f *fakeTransport) MarkActive() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active++
}

func (f *fakeTransport) Send(pkt []byte) error {
	f.mu.Lock()
	f.payloads = append(f.payloads, slices.Clone(pkt))
	peer := f.peer
	f.mu.Unlock()
	if peer != nil {
		peer.OnReceivedPayload(slices.Clone(pkt))
	}
	return nil
}

func (f *fakeTransport) SendSignaling(extensionID string, body []byte) error {
	f.mu.Lock()
	f.signals = append(f.signals, slices.Clone(body))
	peer := f.peer
	f.mu.Unlock()
	if peer != nil && extensionID == ExtensionID {
		peer.OnReceivedSignaling(slices.Clone(body))
	}
	return nil
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTransport) sent() (payloads, signals int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads), len(f.signals)
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = nil
	f.signals = nil
}

func newTestExtension(t *testing.T, clock *mclock.Simulated, cfg Config) *Extension {
	t.Helper()
	cfg.Clock = clock
	cfg.Random = rand.New(rand.NewPCG(7, 11))
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

// runTicks advances the clock by one sender period per tick.
func runTicks(clock *mclock.Simulated, n int, exts ...*Extension) {
	for i := 0; i < n; i++ {
		clock.Run(10 * time.Millisecond)
		for _, e := range exts {
			e.tick()
		}
	}
}

func ptr[T any](v T) *T { return &v }
