// Package firewall tracks sources that send unauthenticated packets and
// temporarily blocks the ones that keep doing it.
package firewall

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/aethiopicuschan/p2ptp/metrics"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrInvalidConfig is returned by New for non-positive limits.
var ErrInvalidConfig = errors.New("firewall: invalid config")

// Config configures a Firewall.
type Config struct {
	// Rate is the sustained number of unauthenticated packets tolerated
	// per source address per second.
	Rate rate.Limit
	// Burst is the number of unauthenticated packets tolerated at once.
	Burst int
	// BlockFor is how long an offending source stays blocked.
	BlockFor time.Duration
	// MaxSources bounds the number of tracked addresses.
	MaxSources int

	Logger *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Rate == 0 {
		c.Rate = 5
	}
	if c.Burst == 0 {
		c.Burst = 20
	}
	if c.BlockFor == 0 {
		c.BlockFor = time.Minute
	}
	if c.MaxSources == 0 {
		c.MaxSources = 4096
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Firewall is safe for concurrent use.
type Firewall struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	limiters *lru.Cache // netip.Addr -> *rate.Limiter
	blocked  *lru.Cache // netip.Addr -> time.Time (until)
}

// New creates a Firewall.
func New(cfg Config) (*Firewall, error) {
	cfg = cfg.withDefaults()
	if cfg.Rate < 0 || cfg.Burst < 0 || cfg.BlockFor < 0 || cfg.MaxSources < 0 {
		return nil, ErrInvalidConfig
	}
	limiters, err := lru.New(cfg.MaxSources)
	if err != nil {
		return nil, err
	}
	blocked, err := lru.New(cfg.MaxSources)
	if err != nil {
		return nil, err
	}
	return &Firewall{
		cfg:      cfg,
		log:      cfg.Logger.Named("firewall"),
		limiters: limiters,
		blocked:  blocked,
	}, nil
}

// OnUnauthenticatedPacket records a protocol violation by the source of ep.
func (f *Firewall) OnUnauthenticatedPacket(ep netip.AddrPort) {
	addr := ep.Addr().Unmap()
	now := f.cfg.Now()
	metrics.UnauthenticatedPacketsTotal.Inc()

	f.mu.Lock()
	defer f.mu.Unlock()

	var lim *rate.Limiter
	if v, ok := f.limiters.Get(addr); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(f.cfg.Rate, f.cfg.Burst)
		f.limiters.Add(addr, lim)
	}
	if lim.AllowN(now, 1) {
		return
	}
	if _, already := f.blocked.Get(addr); !already {
		f.log.Info("blocking source", zap.Stringer("addr", addr), zap.Duration("for", f.cfg.BlockFor))
		metrics.FirewallBlocksTotal.Inc()
	}
	f.blocked.Add(addr, now.Add(f.cfg.BlockFor))
}

// IsBlocked reports whether packets from ep should be dropped.
func (f *Firewall) IsBlocked(ep netip.AddrPort) bool {
	addr := ep.Addr().Unmap()
	v, ok := f.blocked.Get(addr)
	if !ok {
		return false
	}
	if f.cfg.Now().Before(v.(time.Time)) {
		return true
	}
	f.blocked.Remove(addr)
	return false
}
