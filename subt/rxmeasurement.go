package subt

import (
	"time"

	"github.com/aethiopicuschan/p2ptp/ratefilter"
	"github.com/aethiopicuschan/p2ptp/timestamp"
)

// lateWindow is how far behind the highest sequence a late packet may
// arrive and still reclaim its loss.
const lateWindow = 64

// rxMeasurement estimates receive bandwidth and loss from payload
// sequence numbers. It is not safe for concurrent use.
type rxMeasurement struct {
	bits     *ratefilter.Filter
	lost     *ratefilter.Filter
	expected *ratefilter.Filter

	started bool
	highest uint16
	// missing has bit k set when sequence highest-1-k was counted lost.
	missing uint64
}

func newRxMeasurement() *rxMeasurement {
	return &rxMeasurement{
		bits:     ratefilter.New(rxDecay, time.Second),
		lost:     ratefilter.New(rxDecay, time.Second),
		expected: ratefilter.New(rxDecay, time.Second),
	}
}

// onPacket records a packet of the given wire size in bits.
func (r *rxMeasurement) onPacket(bits int, seq uint16, now timestamp.Time32) {
	r.bits.Input(float64(bits))

	if !r.started {
		r.started = true
		r.highest = seq
		r.expected.Input(1)
		r.observe(now)
		return
	}

	switch diff := int16(seq - r.highest); {
	case diff > 0:
		gaps := int(diff) - 1
		r.expected.Input(float64(diff))
		r.lost.Input(float64(gaps))
		r.shift(int(diff))
		r.highest = seq
	case diff < 0:
		k := int(-diff) - 1
		if k < lateWindow && r.missing&(1<<k) != 0 {
			r.missing &^= 1 << k
			r.lost.Input(-1)
		}
	}
	r.observe(now)
}

// shift advances the window by n sequences; the previous highest was
// received and everything between it and the new highest is missing.
func (r *rxMeasurement) shift(n int) {
	switch {
	case n > lateWindow:
		r.missing = ^uint64(0)
	case n == lateWindow:
		r.missing = 1<<(lateWindow-1) - 1
	default:
		r.missing = r.missing<<n | (1<<(n-1) - 1)
	}
}

// observe ticks the filters so they decay during silence.
func (r *rxMeasurement) observe(now timestamp.Time32) {
	r.bits.Observe(now)
	r.lost.Observe(now)
	r.expected.Observe(now)
}

// bandwidth returns the received bits per second.
func (r *rxMeasurement) bandwidth() float64 {
	return r.bits.OutputPerUnit()
}

// loss returns the ratio of lost to expected packets.
func (r *rxMeasurement) loss() float64 {
	expected := r.expected.OutputPerUnit()
	if expected <= 0 {
		return 0
	}
	return min(max(r.lost.OutputPerUnit()/expected, 0), 1)
}
