package wire

import "math"

const (
	// StatusSubtypeRemoteStatus marks a StatusReport body.
	StatusSubtypeRemoteStatus uint8 = 1

	statusReportLen = 1 + 4 + 4 + 4 + 1

	statusFlagWantMore = 0x01
	statusFlagPassive  = 0x02
)

// StatusReport is the periodic measurement report exchanged by the
// adaptive payload transport.
type StatusReport struct {
	// RecentRxBandwidth is the measured receive rate in bits per second.
	RecentRxBandwidth float32
	// RecentRxPacketLoss is a ratio in [0, 1].
	RecentRxPacketLoss float32
	// RecentTxBandwidth is the sender's own transmit rate in bits per second.
	RecentTxBandwidth float32

	WantMoreBandwidth bool
	SharedPassive     bool
}

// Marshal serializes the report.
func (s *StatusReport) Marshal() []byte {
	out := make([]byte, statusReportLen)
	out[0] = StatusSubtypeRemoteStatus
	putU32(out[1:], math.Float32bits(s.RecentRxBandwidth))
	putU32(out[5:], math.Float32bits(s.RecentRxPacketLoss))
	putU32(out[9:], math.Float32bits(s.RecentTxBandwidth))
	var flags byte
	if s.WantMoreBandwidth {
		flags |= statusFlagWantMore
	}
	if s.SharedPassive {
		flags |= statusFlagPassive
	}
	out[13] = flags
	return out
}

// ParseStatusReport decodes a report. Non-finite values are rejected.
func ParseStatusReport(b []byte) (*StatusReport, error) {
	if len(b) < statusReportLen || b[0] != StatusSubtypeRemoteStatus {
		return nil, ErrMalformedPacket
	}
	s := &StatusReport{
		RecentRxBandwidth:  math.Float32frombits(readU32(b[1:])),
		RecentRxPacketLoss: math.Float32frombits(readU32(b[5:])),
		RecentTxBandwidth:  math.Float32frombits(readU32(b[9:])),
	}
	for _, v := range []float32{s.RecentRxBandwidth, s.RecentRxPacketLoss, s.RecentTxBandwidth} {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, ErrMalformedPacket
		}
	}
	s.WantMoreBandwidth = b[13]&statusFlagWantMore != 0
	s.SharedPassive = b[13]&statusFlagPassive != 0
	return s, nil
}
