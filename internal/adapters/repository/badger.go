package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

const (
	backendBadger = "badger"

	// maxConflictRetries bounds optimistic transaction retries in Update.
	maxConflictRetries = 64
	gcDiscardRatio     = 0.5
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path string
	// InMemory runs without disk persistence.
	InMemory bool
	// SyncWrites enables synchronous writes.
	SyncWrites bool
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
	// Logger receives badger's internal log lines. Nil silences them.
	Logger logger.Logger
}

// BadgerStore is a Store backed by an embedded badger database.
// Badger has no tag support, so it does not implement TagStore.
type BadgerStore struct {
	db  *badger.DB
	log logger.Logger

	closeOnce sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// badgerLogger adapts logger.Logger to badger's Logger interface.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}

// OpenBadger opens a badger database and wraps it as a Store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(&badgerLogger{log: log})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db, log: log, stopChan: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.startGC(cfg.GCInterval)
	}
	return s, nil
}

func (s *BadgerStore) unavailable(op string, err error) error {
	metrics.RecordStoreError(backendBadger, op)
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: badger %s: %w", ErrUnavailable, op, err)
}

// Get implements Store.Get.
func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = it.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.unavailable("get", err)
	}
	return out, nil
}

func entry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

// Set implements Store.Set.
func (s *BadgerStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry(key, value, ttl))
	})
	if err != nil {
		return s.unavailable("set", err)
	}
	return nil
}

// Delete implements Store.Delete.
func (s *BadgerStore) Delete(_ context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete([]byte(k)); err != nil {
			return s.unavailable("delete", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return s.unavailable("delete", err)
	}
	return nil
}

// Update implements Store.Update with an optimistic transaction, retried on conflict.
func (s *BadgerStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if key == "" {
		return ErrInvalidKey
	}
	var fnErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		fnErr = nil
		err := s.db.Update(func(txn *badger.Txn) error {
			var current []byte
			exists := true
			it, err := txn.Get([]byte(key))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				exists = false
			case err != nil:
				return err
			default:
				if current, err = it.ValueCopy(nil); err != nil {
					return err
				}
			}

			next, ttl, err := fn(current, exists)
			if err != nil {
				fnErr = err
				return err
			}
			if next == nil {
				return nil
			}
			return txn.SetEntry(entry(key, next, ttl))
		})
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, badger.ErrConflict) {
			time.Sleep(time.Duration(attempt+1) * 50 * time.Microsecond)
			continue
		}
		if err != nil {
			return s.unavailable("update", err)
		}
		return nil
	}
	return s.unavailable("update", badger.ErrConflict)
}

// Keys implements Store.Keys using a key-only prefix scan.
func (s *BadgerStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			out = append(out, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, s.unavailable("keys", err)
	}
	return out, nil
}

// Capabilities implements Store.Capabilities.
func (s *BadgerStore) Capabilities() Capabilities {
	return Capabilities{Backend: backendBadger, NativeTags: false}
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *BadgerStore) startGC(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				err := s.db.RunValueLogGC(gcDiscardRatio)
				if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
					s.log.Warn(context.Background(), "badger value log GC error", logger.Error(err))
				}
			}
		}
	}()
}
