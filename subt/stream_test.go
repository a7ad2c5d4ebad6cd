package subt

import (
	"testing"
	"time"

	"github.com/aethiopicuschan/p2ptp/wire"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_SendsSchedule(t *testing.T) {
	t.Parallel()

	clock := new(mclock.Simulated)
	e := newTestExtension(t, clock, Config{RoleAsUser: true, BandwidthTarget: ptr(1_000_000.0)})
	ft := &fakeTransport{id: 77, established: true}
	s := e.attach(ft)
	assert.Equal(t, 1_000_000.0, s.TargetBandwidth())

	runTicks(clock, 100, e)

	require.Len(t, ft.payloads, 101)
	var prev uint16
	for i, pkt := range ft.payloads {
		assert.Len(t, pkt, MaxPacketSize)
		h, err := wire.ParsePayloadHeader(pkt)
		require.NoError(t, err)
		assert.Equal(t, DefaultPayloadTag, h.Tag)
		assert.Equal(t, wire.StreamID(77), h.StreamID)
		assert.Zero(t, h.ReflectedTime32)
		if i > 0 {
			assert.Equal(t, prev+1, h.Seq)
		}
		prev = h.Seq
	}

	_, signals := ft.sent()
	assert.GreaterOrEqual(t, signals, 8)
	assert.LessOrEqual(t, signals, 10)
	report, err := wire.ParseStatusReport(ft.signals[0])
	require.NoError(t, err)
	assert.False(t, report.WantMoreBandwidth)
	assert.False(t, report.SharedPassive)
	assert.Equal(t, float32(1_000_000), report.RecentTxBandwidth)
}

func TestStream_TxSuppressed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cfg    Config
		remote func(f *fakeTransport)
	}{
		{
			name:   "not established",
			cfg:    Config{RoleAsUser: true},
			remote: func(f *fakeTransport) { f.established = false },
		},
		{
			name:   "neither side is a user",
			cfg:    Config{BandwidthTarget: ptr(500_000.0)},
			remote: func(f *fakeTransport) { f.remoteUser = false },
		},
		{
			name:   "no target",
			cfg:    Config{},
			remote: func(f *fakeTransport) { f.remoteUser = true },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clock := new(mclock.Simulated)
			e := newTestExtension(t, clock, tt.cfg)
			ft := &fakeTransport{id: 1, established: true}
			ft.set(tt.remote)
			e.attach(ft)

			runTicks(clock, 200, e)
			payloads, signals := ft.sent()
			assert.Zero(t, payloads)
			assert.Zero(t, signals)
		})
	}
}

func TestStream_IdleStopsTransmission(t *testing.T) {
	t.Parallel()

	clock := new(mclock.Simulated)
	e := newTestExtension(t, clock, Config{RoleAsUser: true})
	ft := &fakeTransport{id: 1, established: true}
	s := e.attach(ft)

	s.OnReceivedSignaling((&wire.StatusReport{RecentRxBandwidth: 1}).Marshal())
	runTicks(clock, 100, e)
	payloads, _ := ft.sent()
	require.NotZero(t, payloads)
	assert.NotNil(t, s.remote)

	ft.set(func(f *fakeTransport) { f.idle = true })
	runTicks(clock, 100, e)
	ft.reset()
	runTicks(clock, 100, e)
	payloads, signals := ft.sent()
	assert.Zero(t, payloads)
	assert.Zero(t, signals)
	assert.Nil(t, s.remote)
	assert.True(t, s.Snapshot().Idle)

	// Traffic resumes once the stream is active again.
	ft.set(func(f *fakeTransport) { f.idle = false })
	runTicks(clock, 100, e)
	runTicks(clock, 10, e)
	payloads, _ = ft.sent()
	assert.NotZero(t, payloads)
	assert.False(t, s.Snapshot().Idle)
}

func TestStream_ExchangeMeasurements(t *testing.T) {
	t.Parallel()

	clock := new(mclock.Simulated)
	ea := newTestExtension(t, clock, Config{RoleAsUser: true})
	eb := newTestExtension(t, clock, Config{RoleAsUser: true, BandwidthTarget: ptr(200_000.0)})
	fa := &fakeTransport{id: 5, established: true, remoteUser: true}
	fb := &fakeTransport{id: 5, established: true, remoteUser: true}
	a := ea.attach(fa)
	b := eb.attach(fb)
	fa.peer = b
	fb.peer = a

	runTicks(clock, 305, ea, eb)

	sa, sb := a.Snapshot(), b.Snapshot()
	assert.InEpsilon(t, InitialUserBandwidth, sb.RecentRxBandwidth, 0.25)
	assert.InEpsilon(t, 200_000, sa.RecentRxBandwidth, 0.2)
	assert.Zero(t, sa.RecentRxPacketLoss)
	assert.Zero(t, sb.RecentRxPacketLoss)
	assert.Positive(t, sa.RxBeforeJitterBuffer)

	// Each side learns what the other one receives.
	assert.InEpsilon(t, InitialUserBandwidth, sa.RemoteRxBandwidth, 0.25)
	assert.True(t, sb.RemoteWantsMore)
	assert.False(t, sa.RemoteWantsMore)

	assert.Positive(t, sa.RTT)
	assert.LessOrEqual(t, sa.RTT, time.Second)
	assert.Positive(t, sb.RTT)
	assert.LessOrEqual(t, sb.RTT, time.Second)
	assert.NotZero(t, fa.active)
}

func TestStream_SetTargetBandwidth(t *testing.T) {
	t.Parallel()

	clock := new(mclock.Simulated)
	e := newTestExtension(t, clock, Config{RoleAsUser: true})
	s := e.attach(&fakeTransport{id: 1})
	assert.Equal(t, float64(InitialUserBandwidth), s.TargetBandwidth())
	assert.Equal(t, float64(InitialUserBandwidth), s.Snapshot().RecentTxBandwidth)

	require.NoError(t, s.SetTargetBandwidth(2_000_000))
	assert.Equal(t, 2_000_000.0, s.TargetBandwidth())
	assert.Equal(t, 2_000_000.0, s.Snapshot().RecentTxBandwidth)

	require.ErrorIs(t, s.SetTargetBandwidth(-5), ErrInvalidBandwidth)
	assert.Equal(t, 2_000_000.0, s.TargetBandwidth())
}

func TestStream_IgnoresMalformedInput(t *testing.T) {
	t.Parallel()

	clock := new(mclock.Simulated)
	e := newTestExtension(t, clock, Config{RoleAsUser: true})
	ft := &fakeTransport{id: 1}
	s := e.attach(ft)

	s.OnReceivedPayload([]byte{byte(wire.PacketPayload), 1, 2})
	s.OnReceivedSignaling([]byte{9, 9})
	assert.Zero(t, ft.active)
	assert.Nil(t, s.remote)
}

func TestStream_OnDestroyed(t *testing.T) {
	t.Parallel()

	clock := new(mclock.Simulated)
	e := newTestExtension(t, clock, Config{RoleAsUser: true})
	ft := &fakeTransport{id: 1, established: true}
	s := e.attach(ft)
	require.Len(t, e.Streams(), 1)

	s.OnDestroyed()
	assert.Empty(t, e.Streams())
	s.onTick(Tier1s, 1)
	payloads, _ := ft.sent()
	assert.Zero(t, payloads)
}
