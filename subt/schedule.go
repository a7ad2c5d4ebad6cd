package subt

import (
	"fmt"
	"math"
	"time"

	"github.com/aethiopicuschan/p2ptp/wire"
)

// Tier is one of the sender's pacing periods.
type Tier int

const (
	Tier10ms Tier = iota
	Tier100ms
	Tier1s
	numTiers
)

// Period returns the length of the tier.
func (t Tier) Period() time.Duration {
	switch t {
	case Tier10ms:
		return 10 * time.Millisecond
	case Tier100ms:
		return 100 * time.Millisecond
	default:
		return time.Second
	}
}

func (t Tier) String() string {
	return t.Period().String()
}

// TierSchedule is the number and size of the packets sent every period.
type TierSchedule struct {
	Packets int
	// Bytes is the UDP payload size of each packet, header included.
	Bytes int
}

// Schedule spreads a target bandwidth over the three tiers. It is immutable
// once built.
type Schedule struct {
	Target float64
	Tiers  [numTiers]TierSchedule
}

func checkBandwidth(bw float64) error {
	if math.IsNaN(bw) || math.IsInf(bw, 0) || bw < 0 || bw > MaxTargetBandwidth {
		return fmt.Errorf("%w: %v", ErrInvalidBandwidth, bw)
	}
	return nil
}

// NewSchedule converts bw, in bits per second, into a schedule. Full sized
// packets go on the finest tier that needs at least five of them; smaller
// rates use a single packet on a coarser tier. The remainder of each tier
// is carried to the next one.
func NewSchedule(bw float64) (*Schedule, error) {
	if err := checkBandwidth(bw); err != nil {
		return nil, err
	}
	s := &Schedule{Target: bw}
	s.fill(Tier10ms, bw)
	return s, nil
}

func (s *Schedule) fill(t Tier, bw float64) {
	period := t.Period().Seconds()
	full := int(math.Floor(bw * period / (MaxPacketSize + PacketOverhead) / 8))
	bytes := int(math.Floor(bw*period/8 - PacketOverhead))

	if full < 5 && bytes <= MaxPacketSize {
		switch {
		case t == Tier1s:
			s.Tiers[t] = TierSchedule{Packets: 1, Bytes: max(bytes, wire.PayloadHeaderLen)}
		case bytes > wire.PayloadHeaderLen && bytes > MinPacketSize:
			s.Tiers[t] = TierSchedule{Packets: 1, Bytes: bytes}
		default:
			s.fill(t+1, bw)
		}
		return
	}

	s.Tiers[t] = TierSchedule{Packets: full, Bytes: MaxPacketSize}
	if t < Tier1s {
		remainder := bw - float64(full)*(MaxPacketSize+PacketOverhead)*8/period
		s.fill(t+1, max(remainder, 0))
	}
}

// Bandwidth returns the rate the schedule produces on the wire, in bits per
// second.
func (s *Schedule) Bandwidth() float64 {
	var bw float64
	for t := Tier10ms; t < numTiers; t++ {
		ts := s.Tiers[t]
		bw += float64(ts.Packets*(ts.Bytes+PacketOverhead)*8) / t.Period().Seconds()
	}
	return bw
}
