package peerstore_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/aethiopicuschan/p2ptp/node"
	"github.com/aethiopicuschan/p2ptp/peerstore"
	"github.com/aethiopicuschan/p2ptp/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openMemory(t *testing.T, cfg peerstore.Config) *peerstore.Store {
	t.Helper()
	cfg.InMemory = true
	cfg.Logger = zaptest.NewLogger(t)
	s, err := peerstore.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func cached(b byte, ep string) node.CachedPeer {
	var id wire.PeerID
	id[0] = b
	return node.CachedPeer{PeerID: id, Endpoint: netip.MustParseAddrPort(ep)}
}

func TestStore_RememberRecall(t *testing.T) {
	t.Parallel()

	s := openMemory(t, peerstore.Config{})

	got, err := s.Recall()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.Remember(cached(1, "10.0.0.1:4000")))
	require.NoError(t, s.Remember(cached(2, "[2001:db8::2]:4001")))
	// a second sighting overwrites the endpoint
	require.NoError(t, s.Remember(cached(1, "10.0.0.9:4000")))

	got, err = s.Recall()
	require.NoError(t, err)
	assert.ElementsMatch(t, []node.CachedPeer{
		cached(1, "10.0.0.9:4000"),
		cached(2, "[2001:db8::2]:4001"),
	}, got)

	require.NoError(t, s.Forget(cached(2, "[2001:db8::2]:4001").PeerID))
	got, err = s.Recall()
	require.NoError(t, err)
	assert.Equal(t, []node.CachedPeer{cached(1, "10.0.0.9:4000")}, got)
}

func TestStore_MaxRecall(t *testing.T) {
	t.Parallel()

	s := openMemory(t, peerstore.Config{MaxRecall: 3})
	for i := byte(1); i <= 10; i++ {
		require.NoError(t, s.Remember(cached(i, "10.0.0.1:4000")))
	}
	got, err := s.Recall()
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestStore_Expiry(t *testing.T) {
	t.Parallel()

	s := openMemory(t, peerstore.Config{TTL: time.Second})
	require.NoError(t, s.Remember(cached(1, "10.0.0.1:4000")))

	assert.Eventually(t, func() bool {
		got, err := s.Recall()
		return err == nil && len(got) == 0
	}, 5*time.Second, 100*time.Millisecond)
}

func TestStore_Persists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := peerstore.Open(peerstore.Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Remember(cached(7, "10.0.0.7:4000")))
	require.NoError(t, s.Close())

	s, err = peerstore.Open(peerstore.Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Recall()
	require.NoError(t, err)
	assert.Equal(t, []node.CachedPeer{cached(7, "10.0.0.7:4000")}, got)
}
