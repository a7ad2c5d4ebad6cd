package config

import (
	"net/netip"
	"time"

	"github.com/aethiopicuschan/p2ptp/firewall"
	"github.com/aethiopicuschan/p2ptp/node"
	"github.com/aethiopicuschan/p2ptp/peerstore"
	"github.com/aethiopicuschan/p2ptp/subt"
	"github.com/aethiopicuschan/p2ptp/wire"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

func (f *File) peerID() (wire.PeerID, error) {
	if f.Node.PeerID == "" {
		return wire.PeerID{}, nil
	}
	return wire.ParsePeerID(f.Node.PeerID)
}

// LogLevel parses the node log level. Empty means info.
func (f *File) LogLevel() (zapcore.Level, error) {
	if f.Node.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(f.Node.LogLevel)
}

// NodeConfig returns the node configuration. Extensions, the firewall and
// the peer cache are left for the caller to attach.
func (f *File) NodeConfig(log *zap.Logger) (node.Config, error) {
	id, err := f.peerID()
	if err != nil {
		return node.Config{}, err
	}
	coords := make([]netip.AddrPort, 0, len(f.Node.Coordinators))
	for _, c := range f.Node.Coordinators {
		ap, err := netip.ParseAddrPort(c)
		if err != nil {
			return node.Config{}, err
		}
		coords = append(coords, ap)
	}
	return node.Config{
		PeerID:              id,
		RoleAsCoordinator:   f.hasRole(RoleCoordinator),
		RoleAsSharedPassive: f.hasRole(RoleSharedPassive),
		RoleAsUser:          f.hasRole(RoleUser),
		Coordinators:        coords,
		ListenAddrs:         f.Node.Listen,

		TickPeriod:              time.Duration(f.Timing.Tick),
		HelloPeriod:             time.Duration(f.Timing.Hello),
		SharePeersPeriod:        time.Duration(f.Timing.SharePeers),
		SweepPeriod:             time.Duration(f.Timing.Sweep),
		MaxIdleToRemove:         time.Duration(f.Timing.MaxIdleToRemove),
		MaxIdleToShare:          time.Duration(f.Timing.MaxIdleToShare),
		ReinitializationTimeout: time.Duration(f.Timing.ReinitializationTimeout),

		CoordinatorMaxPeers:   f.Limits.CoordinatorMaxPeers,
		SharedPassiveMaxPeers: f.Limits.SharedPassiveMaxPeers,
		UserMaxPeers:          f.Limits.UserMaxPeers,
		MaxStreamsPerPeer:     f.Limits.MaxStreamsPerPeer,

		Logger: log,
	}, nil
}

// SUBTConfig returns the transport configuration, or false when the
// transport is disabled.
func (f *File) SUBTConfig(log *zap.Logger) (subt.Config, bool) {
	if !f.SUBT.Enabled {
		return subt.Config{}, false
	}
	cfg := subt.Config{
		RoleAsUser:          f.hasRole(RoleUser),
		RoleAsSharedPassive: f.hasRole(RoleSharedPassive),
		HelloPeriod:         time.Duration(f.Timing.Hello),
		PayloadTag:          f.SUBT.PayloadTag,
		TickPeriod:          time.Duration(f.SUBT.Tick),
		Logger:              log,
	}
	if f.SUBT.BandwidthTarget > 0 {
		bw := f.SUBT.BandwidthTarget
		cfg.BandwidthTarget = &bw
	}
	return cfg, true
}

// FirewallConfig returns the firewall configuration, or false when the
// firewall is disabled.
func (f *File) FirewallConfig(log *zap.Logger) (firewall.Config, bool) {
	if !f.Firewall.Enabled {
		return firewall.Config{}, false
	}
	return firewall.Config{
		Rate:       rate.Limit(f.Firewall.Rate),
		Burst:      f.Firewall.Burst,
		BlockFor:   time.Duration(f.Firewall.BlockFor),
		MaxSources: f.Firewall.MaxSources,
		Logger:     log,
	}, true
}

// PeerstoreConfig returns the peer cache configuration, or false when no
// path is set.
func (f *File) PeerstoreConfig(log *zap.Logger) (peerstore.Config, bool) {
	if f.Peerstore.Path == "" {
		return peerstore.Config{}, false
	}
	return peerstore.Config{
		Path:      f.Peerstore.Path,
		TTL:       time.Duration(f.Peerstore.TTL),
		MaxRecall: f.Peerstore.MaxRecall,
		Logger:    log,
	}, true
}
