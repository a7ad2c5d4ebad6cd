// Package peerstore persists peers discovered through gossip so that a
// restarted node can dial them without waiting for a coordinator.
package peerstore

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/aethiopicuschan/p2ptp/node"
	"github.com/aethiopicuschan/p2ptp/wire"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

var keyPrefix = []byte("peer/")

// ErrInvalidRecord is returned for stored values that cannot be decoded.
var ErrInvalidRecord = errors.New("peerstore: invalid record")

// Config configures a Store.
type Config struct {
	// Path is the database directory. It is ignored when InMemory is set.
	Path     string
	InMemory bool
	// TTL is how long a peer is remembered after it was last seen.
	TTL time.Duration
	// MaxRecall bounds the number of peers returned by Recall.
	MaxRecall int
	Logger    *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
	if c.MaxRecall == 0 {
		c.MaxRecall = 64
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Store is a node.PeerCache backed by badger.
type Store struct {
	db  *badger.DB
	cfg Config
	log *zap.Logger
}

var _ node.PeerCache = (*Store)(nil)

// Open opens or creates the store.
func Open(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger.Named("peerstore")

	opts := badger.DefaultOptions(cfg.Path).WithLogger(badgerLogger{log.Sugar()})
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{log.Sugar()})
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("peerstore: open %q: %w", cfg.Path, err)
	}
	return &Store{db: db, cfg: cfg, log: log}, nil
}

func peerKey(id wire.PeerID) []byte {
	return append(append([]byte{}, keyPrefix...), id[:]...)
}

// Remember implements node.PeerCache. Remembering a peer again refreshes
// its TTL and endpoint.
func (s *Store) Remember(p node.CachedPeer) error {
	value, err := p.Endpoint.MarshalBinary()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(peerKey(p.PeerID), value).WithTTL(s.cfg.TTL))
	})
}

// Forget removes a peer.
func (s *Store) Forget(id wire.PeerID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(peerKey(id))
	})
}

// Recall implements node.PeerCache. Undecodable records are skipped.
func (s *Store) Recall() ([]node.CachedPeer, error) {
	var out []node.CachedPeer
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix) && len(out) < s.cfg.MaxRecall; it.Next() {
			item := it.Item()
			p, err := decode(item)
			if err != nil {
				s.log.Warn("skipping stored peer", zap.ByteString("key", item.KeyCopy(nil)), zap.Error(err))
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func decode(item *badger.Item) (node.CachedPeer, error) {
	var p node.CachedPeer
	key := item.Key()
	if len(key) != len(keyPrefix)+wire.PeerIDLen {
		return p, ErrInvalidRecord
	}
	copy(p.PeerID[:], key[len(keyPrefix):])
	err := item.Value(func(v []byte) error {
		var ep netip.AddrPort
		if err := ep.UnmarshalBinary(v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		p.Endpoint = ep
		return nil
	})
	return p, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's logs to zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}
