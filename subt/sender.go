package subt

import (
	"time"

	"github.com/aethiopicuschan/p2ptp/timestamp"
)

// Start launches the sender loop.
func (e *Extension) Start() error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	e.startOnce.Do(func() {
		go e.loop()
	})
	return nil
}

// Close stops the sender loop.
func (e *Extension) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.stop)

		started := true
		e.startOnce.Do(func() { started = false })
		if started {
			<-e.done
		}
	})
	return nil
}

func (e *Extension) loop() {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick runs one sender period. Every tenth tick also serves the 100 ms
// tier and every hundredth the 1 s tier.
func (e *Extension) tick() {
	e.ticks++
	now := timestamp.Now(e.cfg.Clock)

	tiers := []Tier{Tier10ms}
	if e.ticks%10 == 0 {
		tiers = append(tiers, Tier100ms)
	}
	if e.ticks%100 == 0 {
		tiers = append(tiers, Tier1s)
	}
	for _, s := range e.Streams() {
		for _, tier := range tiers {
			s.onTick(tier, now)
		}
	}
}
