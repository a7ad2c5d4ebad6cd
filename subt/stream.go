package subt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aethiopicuschan/p2ptp/metrics"
	"github.com/aethiopicuschan/p2ptp/ratefilter"
	"github.com/aethiopicuschan/p2ptp/timestamp"
	"github.com/aethiopicuschan/p2ptp/wire"
	"go.uber.org/zap"
)

// transport is the part of a node stream the payload transport uses.
// *node.Stream implements it.
type transport interface {
	ID() wire.StreamID
	Established() bool
	IsIdle(maxIdle time.Duration) bool
	RemotePeerRoleIsUser() bool
	MarkActive()
	Send(pkt []byte) error
	SendSignaling(extensionID string, body []byte) error
}

// Stream is the payload transport of one node stream.
type Stream struct {
	ext *Extension
	t   transport
	log *zap.Logger

	// schedule is nil until a target bandwidth is set.
	schedule atomic.Pointer[Schedule]

	mu       sync.Mutex
	buf      []byte
	txSeq    uint16
	reflect  uint32
	recentTx *ratefilter.Filter
	// rxBeforeJB measures arrivals before any buffering, for diagnostics.
	rxBeforeJB *ratefilter.Filter
	rx         *rxMeasurement
	rtt        time.Duration
	idle       bool
	remote     *wire.StatusReport
	statusSent bool
	lastStatus timestamp.Time32
	destroyed  bool
}

func newStream(ext *Extension, t transport, initialSeq uint16, filler []byte) *Stream {
	s := &Stream{
		ext:        ext,
		t:          t,
		log:        ext.log.With(zap.Uint32("stream", uint32(t.ID()))),
		buf:        filler,
		txSeq:      initialSeq,
		recentTx:   ratefilter.New(txDecay, time.Second),
		rxBeforeJB: ratefilter.New(beforeJBDecay, time.Second),
		rx:         newRxMeasurement(),
	}
	switch {
	case ext.cfg.BandwidthTarget != nil:
		_ = s.SetTargetBandwidth(*ext.cfg.BandwidthTarget)
	case ext.cfg.RoleAsUser:
		_ = s.SetTargetBandwidth(InitialUserBandwidth)
	case ext.cfg.RoleAsSharedPassive:
		_ = s.SetTargetBandwidth(MinControlledBandwidth)
	}
	return s
}

// SetTargetBandwidth replaces the transmit target, in bits per second, and
// publishes a new schedule to the sender.
func (s *Stream) SetTargetBandwidth(bw float64) error {
	sched, err := NewSchedule(bw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.recentTx.SetOutputPerUnit(bw)
	s.mu.Unlock()
	s.schedule.Store(sched)
	return nil
}

// TargetBandwidth returns the current transmit target, or zero when none
// was set.
func (s *Stream) TargetBandwidth() float64 {
	if sched := s.schedule.Load(); sched != nil {
		return sched.Target
	}
	return 0
}

func (s *Stream) txEnabled() bool {
	return s.ext.cfg.RoleAsUser || s.t.RemotePeerRoleIsUser()
}

// onTick runs on the sender goroutine once per tier period that is due.
func (s *Stream) onTick(tier Tier, now timestamp.Time32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}

	switch tier {
	case Tier10ms:
		s.rxBeforeJB.Observe(now)
		s.rx.observe(now)
	case Tier1s:
		s.idle = s.t.IsIdle(s.ext.cfg.maxIdleTx())
		if s.idle {
			s.remote = nil
		}
	}

	if !s.txEnabled() || !s.t.Established() {
		return
	}
	sched := s.schedule.Load()
	if sched == nil {
		return
	}
	ts := sched.Tiers[tier]
	for i := 0; i < ts.Packets; i++ {
		s.sendPayload(ts.Bytes, now)
	}
}

// sendPayload writes one payload packet of n bytes. s.mu must be held.
func (s *Stream) sendPayload(n int, now timestamp.Time32) {
	s.recentTx.Observe(now)
	if s.idle {
		return
	}
	s.txSeq++
	(&wire.PayloadHeader{
		Tag:             s.ext.cfg.PayloadTag,
		StreamID:        s.t.ID(),
		Time32:          uint32(now),
		Seq:             s.txSeq,
		ReflectedTime32: s.reflect,
	}).Put(s.buf)
	if err := s.t.Send(s.buf[:n]); err != nil {
		s.log.Debug("failed to send payload", zap.Error(err))
		return
	}
	s.recentTx.Input(float64((n + PacketOverhead) * 8))
	metrics.PayloadPacketsSentTotal.Inc()
	metrics.PayloadBytesSentTotal.Add(float64(n))

	s.sendStatusIfNeeded(now)
}

// wantsMore reports whether the local side asks for more bandwidth. A
// user asks unless a fixed target is configured; a shared passive peer
// relays the last request it received. s.mu must be held.
func (s *Stream) wantsMore() bool {
	switch {
	case s.ext.cfg.RoleAsUser:
		return s.ext.cfg.BandwidthTarget == nil
	case s.ext.cfg.RoleAsSharedPassive:
		return s.remote != nil && s.remote.WantMoreBandwidth
	default:
		return false
	}
}

// sendStatusIfNeeded sends a status report at most every statusInterval.
// s.mu must be held.
func (s *Stream) sendStatusIfNeeded(now timestamp.Time32) {
	if s.statusSent && !s.lastStatus.Add(statusInterval).Before(now) {
		return
	}
	s.statusSent = true
	s.lastStatus = now

	report := &wire.StatusReport{
		RecentRxBandwidth:  float32(s.rx.bandwidth()),
		RecentRxPacketLoss: float32(s.rx.loss()),
		RecentTxBandwidth:  float32(s.recentTx.OutputPerUnit()),
		WantMoreBandwidth:  s.wantsMore(),
		SharedPassive:      s.ext.cfg.RoleAsSharedPassive,
	}
	if err := s.t.SendSignaling(ExtensionID, report.Marshal()); err != nil {
		s.log.Debug("failed to send status", zap.Error(err))
		return
	}
	metrics.StatusReportsTotal.WithLabelValues("sent").Inc()
}

// OnReceivedPayload implements node.StreamExtension.
func (s *Stream) OnReceivedPayload(pkt []byte) {
	h, err := wire.ParsePayloadHeader(pkt)
	if err != nil {
		return
	}
	s.t.MarkActive()
	now := timestamp.Now(s.ext.cfg.Clock)
	bits := (len(pkt) + PacketOverhead) * 8

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.rxBeforeJB.Input(float64(bits))
	s.rxBeforeJB.Observe(now)
	s.reflect = h.Time32
	if h.ReflectedTime32 != 0 {
		s.rtt = now.Sub(timestamp.Time32(h.ReflectedTime32))
	}
	s.rx.onPacket(bits, h.Seq, now)
	metrics.PayloadPacketsReceivedTotal.Inc()
}

// OnReceivedSignaling implements node.StreamExtension.
func (s *Stream) OnReceivedSignaling(body []byte) {
	report, err := wire.ParseStatusReport(body)
	if err != nil {
		s.log.Debug("malformed status report", zap.Error(err))
		return
	}
	s.t.MarkActive()
	metrics.StatusReportsTotal.WithLabelValues("received").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = report
	if rx := s.rxBeforeJB.OutputPerUnit(); report.RecentTxBandwidth > 0 && rx > 5*float64(report.RecentTxBandwidth) {
		s.log.Warn("receiving faster than the remote side transmits",
			zap.Float64("rx", rx),
			zap.Float32("remote_tx", report.RecentTxBandwidth),
		)
	}
}

// OnDestroyed implements node.StreamExtension.
func (s *Stream) OnDestroyed() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
	s.ext.remove(s)
}

// StreamStatus is a diagnostic view of a Stream.
type StreamStatus struct {
	TargetBandwidth      float64       `json:"target_bandwidth"`
	RecentTxBandwidth    float64       `json:"recent_tx_bandwidth"`
	RecentRxBandwidth    float64       `json:"recent_rx_bandwidth"`
	RxBeforeJitterBuffer float64       `json:"rx_before_jitter_buffer"`
	RecentRxPacketLoss   float64       `json:"recent_rx_packet_loss"`
	RTT                  time.Duration `json:"rtt"`
	Idle                 bool          `json:"idle"`

	RemoteRxBandwidth  float64 `json:"remote_rx_bandwidth"`
	RemoteRxPacketLoss float64 `json:"remote_rx_packet_loss"`
	RemoteTxBandwidth  float64 `json:"remote_tx_bandwidth"`
	RemoteWantsMore    bool    `json:"remote_wants_more"`
}

// Status implements node.StatusReporter.
func (s *Stream) Status() any {
	return s.Snapshot()
}

// Snapshot returns the current measurements.
func (s *Stream) Snapshot() StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := StreamStatus{
		TargetBandwidth:      s.TargetBandwidth(),
		RecentTxBandwidth:    s.recentTx.OutputPerUnit(),
		RecentRxBandwidth:    s.rx.bandwidth(),
		RxBeforeJitterBuffer: s.rxBeforeJB.OutputPerUnit(),
		RecentRxPacketLoss:   s.rx.loss(),
		RTT:                  s.rtt,
		Idle:                 s.idle,
	}
	if r := s.remote; r != nil {
		st.RemoteRxBandwidth = float64(r.RecentRxBandwidth)
		st.RemoteRxPacketLoss = float64(r.RecentRxPacketLoss)
		st.RemoteTxBandwidth = float64(r.RecentTxBandwidth)
		st.RemoteWantsMore = r.WantMoreBandwidth
	}
	return st
}
