// Package memory provides an in-memory implementation of the experiment store
// used for tests and ephemeral environments. It also hosts the query executor
// shared by the durable stores.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"alchemy/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.ExperimentStore = (*Store)(nil)

// Store keeps experiments in a map keyed by name plus the insertion order of
// first save. Values are copied on the way in and out.
type Store struct {
	mu          sync.RWMutex
	experiments map[string]domain.Experiment
	order       []string
	seq         atomic.Int64
	now         func() time.Time
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		experiments: make(map[string]domain.Experiment),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc replaces the time source. Intended for tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

// Save upserts by name. The stored sequence is always issued here; any value
// carried by the argument is ignored.
func (s *Store) Save(ctx context.Context, experiment domain.Experiment) (domain.Experiment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Experiment{}, err
	}
	if experiment.Name == "" {
		return domain.Experiment{}, domain.ValidationError{Reason: "name required"}
	}
	stored := experiment.Clone()

	// Issuing under the write lock keeps stored sequences monotonic per name.
	s.mu.Lock()
	defer s.mu.Unlock()
	stored.Sequence = s.seq.Add(1)
	if stored.Created.IsZero() {
		if existing, ok := s.experiments[stored.Name]; ok {
			stored.Created = existing.Created
		} else {
			stored.Created = s.now()
		}
	}
	if _, ok := s.experiments[stored.Name]; !ok {
		s.order = append(s.order, stored.Name)
	}
	s.experiments[stored.Name] = stored
	return stored.Clone(), nil
}

// Load returns a copy of the named experiment.
func (s *Store) Load(ctx context.Context, name string) (domain.Experiment, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Experiment{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.experiments[name]
	if !ok {
		return domain.Experiment{}, false, nil
	}
	return e.Clone(), true, nil
}

// Delete removes the named experiment if present.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[name]; !ok {
		return nil
	}
	delete(s.experiments, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Find executes the query over the experiments in insertion order.
func (s *Store) Find(ctx context.Context, query domain.Query) ([]domain.Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	rows := make([]domain.Experiment, 0, len(s.order))
	for _, name := range s.order {
		rows = append(rows, s.experiments[name])
	}
	// Execute copies every returned row, so the stored values never escape.
	out, err := Execute(query, rows)
	s.mu.RUnlock()
	return out, err
}

// NextSequenceNumber issues the next sequence number.
func (s *Store) NextSequenceNumber(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.seq.Add(1), nil
}

// CurrentSequenceNumber returns the last issued number.
func (s *Store) CurrentSequenceNumber(ctx context.Context) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	v := s.seq.Load()
	return v, v > 0, nil
}

// SequenceNumber returns the sequence of the named experiment.
func (s *Store) SequenceNumber(ctx context.Context, name string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.experiments[name]
	if !ok {
		return 0, false, nil
	}
	return e.Sequence, true, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }
