// Package badger provides an embedded BadgerDB-backed experiment store.
//
// Experiments live under exp/<name> as JSON records carrying the ordinal of
// their first save; the sequence counter lives under meta/sequence and is
// advanced in an optimistic transaction that is retried on conflict.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"alchemy/internal/infra/persistence/memory"
	"alchemy/pkg/domain"
)

// Compile-time contract assertion ensuring badger.Store adheres to the domain persistence interface.
var _ domain.ExperimentStore = (*Store)(nil)

const (
	experimentPrefix = "exp/"
	sequenceKey      = "meta/sequence"
	maxConflictRetry = 64
)

// Config controls how the database is opened.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string
	// InMemory keeps all data in memory. Intended for tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives badger's internal log output. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns durable defaults for the given path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// record is the stored value. Ordinal is the sequence issued by the first save
// and fixes the base order of Find.
type record struct {
	Ordinal    int64             `json:"ordinal"`
	Experiment domain.Experiment `json:"experiment"`
}

// Store persists experiments in BadgerDB. Base order for Find is the order of
// first save.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// NewStore opens the database described by cfg.
func NewStore(cfg Config) (*Store, error) {
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
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// SetNowFunc replaces the time source used to stamp Created.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Save upserts the experiment together with a freshly issued sequence.
func (s *Store) Save(ctx context.Context, experiment domain.Experiment) (domain.Experiment, error) {
	if experiment.Name == "" {
		return domain.Experiment{}, domain.ValidationError{Reason: "name required"}
	}
	var stored domain.Experiment
	err := s.update(ctx, func(txn *badger.Txn) error {
		stored = experiment.Clone()
		seq, err := advance(txn)
		if err != nil {
			return err
		}
		stored.Sequence = seq
		existing, ok, err := get(txn, stored.Name)
		if err != nil {
			return err
		}
		rec := record{Ordinal: seq}
		if ok {
			rec.Ordinal = existing.Ordinal
		}
		if stored.Created.IsZero() {
			if ok {
				stored.Created = existing.Experiment.Created
			} else {
				stored.Created = s.now()
			}
		}
		rec.Experiment = stored
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode experiment %s: %w", stored.Name, err)
		}
		return txn.Set(experimentKey(stored.Name), payload)
	})
	if err != nil {
		return domain.Experiment{}, err
	}
	return stored, nil
}

// Load reads the named experiment.
func (s *Store) Load(ctx context.Context, name string) (domain.Experiment, bool, error) {
	var (
		rec record
		ok  bool
	)
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		rec, ok, err = get(txn, name)
		return err
	})
	return rec.Experiment, ok, err
}

// Delete removes the named experiment if present.
func (s *Store) Delete(ctx context.Context, name string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(experimentKey(name))
	})
}

// Find reads every record, restores first-save order and applies the shared
// query executor.
func (s *Store) Find(ctx context.Context, query domain.Query) ([]domain.Experiment, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	var records []record
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := []byte(experimentPrefix)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode experiment %s: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Ordinal < records[j].Ordinal })
	all := make([]domain.Experiment, len(records))
	for i, rec := range records {
		all[i] = rec.Experiment
	}
	return memory.Execute(query, all)
}

// NextSequenceNumber advances the counter.
func (s *Store) NextSequenceNumber(ctx context.Context) (int64, error) {
	var seq int64
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		seq, err = advance(txn)
		return err
	})
	return seq, err
}

// CurrentSequenceNumber reads the counter.
func (s *Store) CurrentSequenceNumber(ctx context.Context) (int64, bool, error) {
	var seq int64
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		seq, err = current(txn)
		return err
	})
	return seq, seq > 0, err
}

// SequenceNumber reads the sequence of the named experiment.
func (s *Store) SequenceNumber(ctx context.Context, name string) (int64, bool, error) {
	e, ok, err := s.Load(ctx, name)
	if err != nil || !ok {
		return 0, ok, err
	}
	return e.Sequence, true, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// update runs fn in a read-write transaction, retrying when a concurrent
// transaction committed a conflicting write first.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}
		txn := s.db.NewTransaction(true)
		err := fn(txn)
		if err == nil {
			err = txn.Commit()
		}
		txn.Discard()
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetry {
			continue
		}
		return err
	}
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.View(fn)
}

func experimentKey(name string) []byte {
	return []byte(experimentPrefix + name)
}

func get(txn *badger.Txn, name string) (record, bool, error) {
	item, err := txn.Get(experimentKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, fmt.Errorf("load experiment %s: %w", name, err)
	}
	var rec record
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
		return record{}, false, fmt.Errorf("decode experiment %s: %w", name, err)
	}
	return rec, true, nil
}

func current(txn *badger.Txn) (int64, error) {
	item, err := txn.Get([]byte(sequenceKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}
	var seq int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt sequence value of %d bytes", len(val))
		}
		seq = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return seq, err
}

func advance(txn *badger.Txn) (int64, error) {
	seq, err := current(txn)
	if err != nil {
		return 0, err
	}
	seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	if err := txn.Set([]byte(sequenceKey), buf[:]); err != nil {
		return 0, fmt.Errorf("write sequence: %w", err)
	}
	return seq, nil
}
