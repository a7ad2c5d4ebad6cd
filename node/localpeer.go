package node

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/aethiopicuschan/p2ptp/wire"
	"go.uber.org/zap"
)

// rebuildRetryInterval spaces attempts to rebind sockets after a
// reinitialization failed.
const rebuildRetryInterval = time.Second

// LocalPeer is the local endpoint of the overlay. It owns the sockets and
// replaces its Manager when the liveness watchdog fires.
type LocalPeer struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	manager *Manager
	closed  bool
	closing chan struct{}
	wg      sync.WaitGroup
}

// Listen binds the configured sockets and starts the control worker.
func Listen(cfg Config) (*LocalPeer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	lp := &LocalPeer{
		cfg:     cfg,
		log:     cfg.Logger.Named("localpeer").With(zap.Stringer("local", cfg.PeerID)),
		closing: make(chan struct{}),
	}
	m, err := lp.build()
	if err != nil {
		return nil, err
	}
	lp.manager = m
	m.Start()
	lp.log.Info("local peer started", zap.Any("addrs", lp.LocalAddrs()))
	return lp, nil
}

func (lp *LocalPeer) build() (*Manager, error) {
	conns := make([]PacketConn, 0, len(lp.cfg.ListenAddrs))
	for _, addr := range lp.cfg.ListenAddrs {
		conn, err := lp.cfg.Listen(addr)
		if err != nil {
			for _, c := range conns {
				_ = c.Close()
			}
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		conns = append(conns, conn)
	}
	if len(conns) == 0 {
		return nil, ErrNoSockets
	}

	var m *Manager
	m = newManager(lp.cfg, conns, func() {
		lp.mu.Lock()
		defer lp.mu.Unlock()
		if lp.closed {
			return
		}
		lp.wg.Add(1)
		go func() {
			defer lp.wg.Done()
			lp.reinitialize(m)
		}()
	})
	return m, nil
}

// reinitialize replaces old with a manager on fresh sockets.
func (lp *LocalPeer) reinitialize(old *Manager) {
	lp.mu.Lock()
	if lp.closed || lp.manager != old {
		lp.mu.Unlock()
		return
	}
	lp.mu.Unlock()

	if err := old.Close(); err != nil {
		lp.log.Warn("failed to close sockets", zap.Error(err))
	}

	for {
		m, err := lp.build()
		if err == nil {
			lp.mu.Lock()
			if lp.closed {
				lp.mu.Unlock()
				_ = m.Close()
				return
			}
			lp.manager = m
			lp.mu.Unlock()
			m.Start()
			lp.log.Info("reinitialized", zap.Any("addrs", lp.LocalAddrs()))
			return
		}
		lp.log.Warn("failed to rebuild sockets", zap.Error(err))
		select {
		case <-lp.closing:
			return
		case <-time.After(rebuildRetryInterval):
		}
	}
}

func (lp *LocalPeer) current() *Manager {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.manager
}

// PeerID returns the local identity. It survives reinitialization.
func (lp *LocalPeer) PeerID() wire.PeerID {
	return lp.cfg.PeerID
}

// LocalAddrs returns the addresses of the bound sockets.
func (lp *LocalPeer) LocalAddrs() []netip.AddrPort {
	m := lp.current()
	out := make([]netip.AddrPort, 0, len(m.sockets))
	for _, s := range m.sockets {
		out = append(out, s.LocalAddr())
	}
	return out
}

// Snapshot returns a point-in-time copy of the peer registry.
func (lp *LocalPeer) Snapshot() Snapshot {
	return lp.current().Snapshot()
}

// Close stops the local peer and closes its sockets.
func (lp *LocalPeer) Close() error {
	lp.mu.Lock()
	if lp.closed {
		lp.mu.Unlock()
		return ErrClosed
	}
	lp.closed = true
	close(lp.closing)
	lp.mu.Unlock()

	lp.wg.Wait()
	return lp.current().Close()
}
