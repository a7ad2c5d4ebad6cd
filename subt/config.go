package subt

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"go.uber.org/zap"
)

// ExtensionID is announced in handshakes by peers running the transport.
const ExtensionID = "subt"

const (
	// DefaultPayloadTag marks payload packets of the transport.
	DefaultPayloadTag uint8 = 1

	// MaxPacketSize is the largest UDP payload sent, header included.
	MaxPacketSize = 1200
	// PacketOverhead is the size of the IP and UDP headers.
	PacketOverhead = 28
	// MinPacketSize is the smallest single packet worth sending on the
	// 10 ms and 100 ms tiers.
	MinPacketSize = 200

	// MaxTargetBandwidth bounds SetTargetBandwidth, in bits per second.
	MaxTargetBandwidth = 100_000_000
	// InitialUserBandwidth is the starting target of streams opened by a
	// user.
	InitialUserBandwidth = 1024 * 100
	// MinControlledBandwidth and MaxControlledBandwidth clamp the adaptive
	// controller.
	MinControlledBandwidth = 10_000
	MaxControlledBandwidth = 1024 * 1024 * 20

	statusInterval     = 100 * time.Millisecond
	rxDecay            = 700 * time.Millisecond
	txDecay            = 700 * time.Millisecond
	beforeJBDecay      = 500 * time.Millisecond
	controlPeriod      = time.Second
	idleGraceOverHello = 3 * time.Second

	increaseFactor = 1.05
	decreaseFactor = 0.7
	lowLoss        = 0.01
	highLoss       = 0.05
)

// Config configures the adaptive payload transport.
type Config struct {
	// BandwidthTarget fixes the transmit target in bits per second. When
	// nil, users probe for more bandwidth until loss rises.
	BandwidthTarget *float64

	// RoleAsUser and RoleAsSharedPassive must match the node's roles.
	RoleAsUser          bool
	RoleAsSharedPassive bool

	// HelloPeriod is the node's handshake period. A stream that stays silent
	// for HelloPeriod plus three seconds stops transmitting.
	HelloPeriod time.Duration

	PayloadTag uint8
	// TickPeriod paces the sender loop. Tiers of ten and a hundred ticks are
	// derived from it.
	TickPeriod time.Duration

	Logger *zap.Logger
	Clock  mclock.Clock
	Random *rand.Rand
}

func (c Config) withDefaults() Config {
	if c.HelloPeriod == 0 {
		c.HelloPeriod = time.Second
	}
	if c.PayloadTag == 0 {
		c.PayloadTag = DefaultPayloadTag
	}
	if c.TickPeriod == 0 {
		c.TickPeriod = 10 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = mclock.System{}
	}
	if c.Random == nil {
		c.Random = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return c
}

func (c Config) validate() error {
	if c.BandwidthTarget != nil {
		if err := checkBandwidth(*c.BandwidthTarget); err != nil {
			return fmt.Errorf("bandwidth target: %w", err)
		}
	}
	if c.HelloPeriod < 0 || c.TickPeriod < 0 {
		return fmt.Errorf("%w: negative period", ErrInvalidConfig)
	}
	return nil
}

// maxIdleTx is how long a stream may stay silent and keep transmitting.
func (c Config) maxIdleTx() time.Duration {
	return c.HelloPeriod + idleGraceOverHello
}
