// Package snapshot stores serialized graphs on disk, keyed by the stamp of the graph.
package snapshot

import (
	"context"
	"encoding/binary"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"go.viam.com/fuse/logging"
	"go.viam.com/fuse/utils"
)

var keyPrefix = []byte("graph/")

// ErrNotFound is returned when no snapshot matches.
var ErrNotFound = errors.New("snapshot not found")

// Config configures a Store. An empty Path keeps everything in memory.
type Config struct {
	Path string
	// Retain is how many of the newest snapshots to keep. Zero keeps all of them.
	Retain int
	// GCInterval is how often the value log is garbage collected. Zero disables it.
	GCInterval time.Duration
}

// Entry describes one stored snapshot.
type Entry struct {
	Stamp time.Time
	Size  int
}

// Store is a badger database of serialized graphs.
type Store struct {
	db      *badger.DB
	retain  int
	logger  logging.Logger
	workers *utils.Workers
}

type badgerLogger struct {
	logger logging.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// Open opens or creates the store.
func Open(conf Config, logger logging.Logger) (*Store, error) {
	if conf.Retain < 0 {
		return nil, errors.New("retain must not be negative")
	}
	var opts badger.Options
	if conf.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(conf.Path, 0o750); err != nil {
			return nil, errors.Wrapf(err, "creating snapshot directory %q", conf.Path)
		}
		opts = badger.DefaultOptions(conf.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot store")
	}
	s := &Store{db: db, retain: conf.Retain, logger: logger}
	if conf.GCInterval > 0 && conf.Path != "" {
		s.workers = utils.NewWorkers(func(ctx context.Context) { s.collectGarbage(ctx, conf.GCInterval) })
	}
	return s, nil
}

func (s *Store) collectGarbage(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			s.logger.Warnw("snapshot garbage collection failed", "error", err)
		}
	}
}

func key(stamp time.Time) []byte {
	k := make([]byte, len(keyPrefix)+8)
	copy(k, keyPrefix)
	var nanos int64
	if !stamp.IsZero() {
		nanos = stamp.UnixNano()
	}
	// flipping the sign bit keeps negative stamps ordered before positive ones
	binary.BigEndian.PutUint64(k[len(keyPrefix):], uint64(nanos)^(1<<63))
	return k
}

// lastKey sorts after every snapshot key, for seeking reverse iterators.
func lastKey() []byte {
	return append(append([]byte(nil), keyPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
}

func stampFromKey(k []byte) time.Time {
	nanos := int64(binary.BigEndian.Uint64(k[len(keyPrefix):]) ^ (1 << 63))
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Put stores a snapshot, replacing any stored at the same stamp, and drops the oldest ones
// beyond the retention limit.
func (s *Store) Put(stamp time.Time, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(stamp), append([]byte(nil), data...))
	})
	if err != nil {
		return errors.Wrap(err, "storing snapshot")
	}
	if s.retain == 0 {
		return nil
	}
	return s.prune()
}

func (s *Store) prune() error {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		kept := 0
		for it.Seek(lastKey()); it.ValidForPrefix(keyPrefix); it.Next() {
			kept++
			if kept > s.retain {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil || len(stale) == 0 {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the snapshot stored at exactly stamp.
func (s *Store) Get(stamp time.Time) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(stamp))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

// Latest returns the newest snapshot and its stamp.
func (s *Store) Latest() (time.Time, []byte, error) {
	var (
		stamp time.Time
		data  []byte
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(lastKey())
		if !it.ValidForPrefix(keyPrefix) {
			return ErrNotFound
		}
		stamp = stampFromKey(it.Item().Key())
		var err error
		data, err = it.Item().ValueCopy(nil)
		return err
	})
	return stamp, data, err
}

// List returns every stored snapshot, oldest first.
func (s *Store) List() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			entries = append(entries, Entry{
				Stamp: stampFromKey(it.Item().Key()),
				Size:  int(it.Item().ValueSize()),
			})
		}
		return nil
	})
	return entries, err
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.workers != nil {
		s.workers.Stop()
	}
	return s.db.Close()
}
