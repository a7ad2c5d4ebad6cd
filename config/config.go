// Package config loads the TOML configuration of a node and converts it into
// the runtime configs of the node, the transport, the firewall, the peer
// cache and the status server.
package config

import (
	"fmt"
	"io"
	"net/netip"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
)

// Roles accepted in the node section.
const (
	RoleCoordinator   = "coordinator"
	RoleSharedPassive = "shared-passive"
	RoleUser          = "user"
)

// Duration is a time.Duration written as a Go duration string ("1.5s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// File is the decoded configuration file. Zero values mean "use the
// package default".
type File struct {
	Node      Node      `toml:"node"`
	Limits    Limits    `toml:"limits"`
	Timing    Timing    `toml:"timing"`
	SUBT      SUBT      `toml:"subt"`
	Firewall  Firewall  `toml:"firewall"`
	Status    Status    `toml:"status"`
	Peerstore Peerstore `toml:"peerstore"`
}

type Node struct {
	// PeerID is a hex identity. Empty generates one per process.
	PeerID       string   `toml:"peer_id"`
	Roles        []string `toml:"roles"`
	Coordinators []string `toml:"coordinators"`
	Listen       []string `toml:"listen"`
	LogLevel     string   `toml:"log_level"`
}

type Limits struct {
	CoordinatorMaxPeers   int `toml:"coordinator_max_peers"`
	SharedPassiveMaxPeers int `toml:"shared_passive_max_peers"`
	UserMaxPeers          int `toml:"user_max_peers"`
	MaxStreamsPerPeer     int `toml:"max_streams_per_peer"`
}

type Timing struct {
	Tick                    Duration `toml:"tick"`
	Hello                   Duration `toml:"hello"`
	SharePeers              Duration `toml:"share_peers"`
	Sweep                   Duration `toml:"sweep"`
	MaxIdleToRemove         Duration `toml:"max_idle_to_remove"`
	MaxIdleToShare          Duration `toml:"max_idle_to_share"`
	ReinitializationTimeout Duration `toml:"reinitialization_timeout"`
}

type SUBT struct {
	Enabled bool `toml:"enabled"`
	// BandwidthTarget fixes the transmit target in bit/s. Zero keeps the
	// adaptive controller.
	BandwidthTarget float64  `toml:"bandwidth_target"`
	PayloadTag      uint8    `toml:"payload_tag"`
	Tick            Duration `toml:"tick"`
}

type Firewall struct {
	Enabled    bool     `toml:"enabled"`
	Rate       float64  `toml:"rate"`
	Burst      int      `toml:"burst"`
	BlockFor   Duration `toml:"block_for"`
	MaxSources int      `toml:"max_sources"`
}

type Status struct {
	// Addr is the HTTP listen address. Empty disables the server.
	Addr string `toml:"addr"`
}

type Peerstore struct {
	// Path is the badger directory. Empty disables the peer cache.
	Path      string   `toml:"path"`
	TTL       Duration `toml:"ttl"`
	MaxRecall int      `toml:"max_recall"`
}

// Default returns the configuration used without a file: a user peer on an
// ephemeral port with the transport enabled.
func Default() *File {
	return &File{
		Node: Node{
			Roles:    []string{RoleUser},
			LogLevel: "info",
		},
		SUBT:     SUBT{Enabled: true},
		Firewall: Firewall{Enabled: true},
	}
}

// Load reads the file at path over Default.
func Load(path string) (*File, error) {
	f := Default()
	md, err := toml.DecodeFile(path, f)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Decode reads a configuration from r over Default.
func Decode(r io.Reader) (*File, error) {
	f := Default()
	md, err := toml.NewDecoder(r).Decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Encode writes f as TOML.
func (f *File) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(f)
}

func checkUndecoded(md toml.MetaData) error {
	if keys := md.Undecoded(); len(keys) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownKey, keys[0])
	}
	return nil
}

// Validate checks values that the runtime configs cannot reject on their
// own.
func (f *File) Validate() error {
	if len(f.Node.Roles) == 0 {
		return fmt.Errorf("%w: no role", ErrInvalidConfig)
	}
	for _, r := range f.Node.Roles {
		if !slices.Contains([]string{RoleCoordinator, RoleSharedPassive, RoleUser}, r) {
			return fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, r)
		}
	}
	for _, c := range f.Node.Coordinators {
		if _, err := netip.ParseAddrPort(c); err != nil {
			return fmt.Errorf("%w: coordinator %q: %v", ErrInvalidConfig, c, err)
		}
	}
	if f.SUBT.BandwidthTarget < 0 {
		return fmt.Errorf("%w: negative bandwidth target", ErrInvalidConfig)
	}
	if f.Firewall.Rate < 0 || f.Firewall.Burst < 0 || f.Firewall.MaxSources < 0 {
		return fmt.Errorf("%w: negative firewall limit", ErrInvalidConfig)
	}
	if f.Peerstore.TTL < 0 || f.Peerstore.MaxRecall < 0 {
		return fmt.Errorf("%w: negative peerstore limit", ErrInvalidConfig)
	}
	if _, err := f.LogLevel(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if f.Node.PeerID != "" {
		if _, err := f.peerID(); err != nil {
			return fmt.Errorf("%w: peer id: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

func (f *File) hasRole(role string) bool {
	return slices.Contains(f.Node.Roles, role)
}
