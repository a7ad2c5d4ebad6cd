// Package subt implements the adaptive payload transport. Every stream
// sends paced filler packets at a target bandwidth and reports what it
// receives back to the sender, which adjusts its target.
package subt

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/aethiopicuschan/p2ptp/node"
	"github.com/ethereum/go-ethereum/common/mclock"
	"go.uber.org/zap"
)

// Extension attaches a Stream to every node stream and runs the sender
// loop shared by all of them.
type Extension struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	rnd     *rand.Rand
	streams map[*Stream]struct{}

	// nextAdjust is owned by the control worker.
	nextAdjust mclock.AbsTime

	// ticks is owned by the sender goroutine.
	ticks uint64

	startOnce sync.Once
	closeOnce sync.Once
	closed    bool
	stop      chan struct{}
	done      chan struct{}
}

var _ node.Extension = (*Extension)(nil)

// New returns an extension to register in node.Config.Extensions. Start
// launches its sender loop.
func New(cfg Config) (*Extension, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Extension{
		cfg:        cfg,
		log:        cfg.Logger.Named("subt"),
		rnd:        cfg.Random,
		streams:    make(map[*Stream]struct{}),
		nextAdjust: cfg.Clock.Now().Add(controlPeriod),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// ID implements node.Extension.
func (e *Extension) ID() string { return ExtensionID }

// PayloadTag implements node.Extension.
func (e *Extension) PayloadTag() uint8 { return e.cfg.PayloadTag }

// OnStreamCreated implements node.Extension.
func (e *Extension) OnStreamCreated(s *node.Stream) node.StreamExtension {
	return e.attach(s)
}

func (e *Extension) attach(t transport) *Stream {
	e.mu.Lock()
	defer e.mu.Unlock()

	filler := make([]byte, MaxPacketSize)
	for i := range filler {
		filler[i] = byte(e.rnd.Uint32())
	}
	s := newStream(e, t, uint16(e.rnd.Uint32()), filler)
	e.streams[s] = struct{}{}
	return s
}

func (e *Extension) remove(s *Stream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.streams, s)
}

// Streams returns the live streams.
func (e *Extension) Streams() []*Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Stream, 0, len(e.streams))
	for s := range e.streams {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Stream) int {
		return cmp.Compare(a.t.ID(), b.t.ID())
	})
	return out
}
