package subt

import "go.uber.org/zap"

// OnTimer implements node.Extension. It runs the bandwidth controller once
// per second.
func (e *Extension) OnTimer() {
	now := e.cfg.Clock.Now()
	if now < e.nextAdjust {
		return
	}
	e.nextAdjust = now.Add(controlPeriod)
	for _, s := range e.Streams() {
		s.adjust()
	}
}

// adjust runs the bandwidth controller once.
func (s *Stream) adjust() {
	if !s.txEnabled() || !s.t.Established() {
		return
	}
	if fixed := s.ext.cfg.BandwidthTarget; fixed != nil {
		if s.TargetBandwidth() != *fixed {
			_ = s.SetTargetBandwidth(*fixed)
		}
		return
	}

	s.mu.Lock()
	if s.destroyed || s.idle || !s.wantsMore() || s.remote == nil {
		s.mu.Unlock()
		return
	}
	loss := float64(s.remote.RecentRxPacketLoss)
	s.mu.Unlock()

	target := s.TargetBandwidth()
	switch {
	case loss < lowLoss:
		target *= increaseFactor
	case loss > highLoss:
		target *= decreaseFactor
	}
	target = min(max(target, MinControlledBandwidth), MaxControlledBandwidth)
	if target == s.TargetBandwidth() {
		return
	}
	if err := s.SetTargetBandwidth(target); err != nil {
		s.log.Error("controller produced invalid target", zap.Float64("target", target), zap.Error(err))
	}
}
