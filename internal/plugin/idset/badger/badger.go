// Package badger stores id sets in an embedded BadgerDB. Each member is its
// own key, so concurrent updates to distinct members never conflict.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/chirino/thread-service/internal/config"
	registryidset "github.com/chirino/thread-service/internal/registry/idset"
	"github.com/dgraph-io/badger/v4"
)

func init() {
	registryidset.Register(registryidset.Plugin{
		Name:   "badger",
		Loader: load,
	})
}

func load(ctx context.Context) (registryidset.Factory, error) {
	cfg := config.FromContext(ctx)
	opts := Options{}
	if cfg != nil {
		opts.Path = cfg.BadgerPath
		opts.SyncWrites = cfg.BadgerSyncWrites
		opts.Namespace = cfg.ResolvedSetNamespace()
	}
	return Open(opts)
}

// Options configures the Badger set backend. An empty Path opens an
// in-memory database.
type Options struct {
	Path       string
	SyncWrites bool
	Namespace  string
}

// Open creates the database directory if needed and opens it.
func Open(o Options) (*Factory, error) {
	var opts badger.Options
	if o.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(o.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger sets: create directory %s: %w", o.Path, err)
		}
		opts = badger.DefaultOptions(o.Path)
	}
	opts = opts.WithSyncWrites(o.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger sets: open: %w", err)
	}
	return &Factory{db: db, namespace: o.Namespace}, nil
}

// Factory hands out sets backed by a shared Badger database.
type Factory struct {
	db        *badger.DB
	namespace string
}

func (f *Factory) NewSet(_ context.Context, name string) (registryidset.Set, error) {
	prefix := name + "/"
	if f.namespace != "" {
		prefix = f.namespace + "/" + prefix
	}
	return &badgerSet{db: f.db, prefix: []byte(prefix)}, nil
}

// Close flushes and closes the database.
func (f *Factory) Close() error {
	return f.db.Close()
}

type badgerSet struct {
	db     *badger.DB
	prefix []byte
}

func (s *badgerSet) key(id int64) []byte {
	k := make([]byte, len(s.prefix)+8)
	copy(k, s.prefix)
	// Offset by the sign bit so big-endian byte order matches numeric order.
	binary.BigEndian.PutUint64(k[len(s.prefix):], uint64(id)^(1<<63))
	return k
}

func (s *badgerSet) decode(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k[len(s.prefix):]) ^ (1 << 63))
}

// maxConflictRetries bounds update's retries on transaction conflicts.
const maxConflictRetries = 16

// update retries on transaction conflicts, which only happen when two
// writers touch the same member.
func (s *badgerSet) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("badger sets: %s: gave up after %d conflicts: %w", s.prefix, maxConflictRetries, err)
}

func (s *badgerSet) Add(ctx context.Context, id int64) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(s.key(id), nil)
	})
}

func (s *badgerSet) Remove(ctx context.Context, id int64) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		k := s.key(id)
		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return registryidset.ErrNotMember
			}
			return err
		}
		return txn.Delete(k)
	})
}

func (s *badgerSet) Discard(ctx context.Context, id int64) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(s.key(id))
	})
}

// Clear deletes the set's member keys. Nested set names are left alone.
func (s *badgerSet) Clear(ctx context.Context) error {
	var keys [][]byte
	err := s.scan(func(k []byte) {
		keys = append(keys, slices.Clone(k))
	})
	if err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *badgerSet) Contains(_ context.Context, id int64) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (s *badgerSet) scan(fn func(k []byte)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			// Skip keys of sets whose names nest under this one.
			if k := it.Item().Key(); len(k) == len(s.prefix)+8 {
				fn(k)
			}
		}
		return nil
	})
}

func (s *badgerSet) Len(_ context.Context) (int, error) {
	n := 0
	err := s.scan(func([]byte) { n++ })
	return n, err
}

func (s *badgerSet) IDs(_ context.Context) ([]int64, error) {
	var ids []int64
	err := s.scan(func(k []byte) {
		ids = append(ids, s.decode(k))
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// badgerLogger routes Badger's internal logging through the service logger.
// Info chatter is demoted to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any)   { log.Errorf("badger: "+format, args...) }
func (badgerLogger) Warningf(format string, args ...any) { log.Warnf("badger: "+format, args...) }
func (badgerLogger) Infof(format string, args ...any)    { log.Debugf("badger: "+format, args...) }
func (badgerLogger) Debugf(format string, args ...any)   { log.Debugf("badger: "+format, args...) }

var (
	_ registryidset.Factory   = (*Factory)(nil)
	_ registryidset.Set       = (*badgerSet)(nil)
	_ registryidset.Discarder = (*badgerSet)(nil)
	_ registryidset.Clearer   = (*badgerSet)(nil)
	_ badger.Logger           = badgerLogger{}
)
