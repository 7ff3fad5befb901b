package cache

import (
	"sort"

	"alchemy/pkg/domain"
)

// Snapshot is an immutable view of the active experiments together with the
// highest sequence number the cache has observed. Published snapshots are
// never modified; updates derive a new snapshot.
type Snapshot struct {
	experiments map[string]domain.Experiment
	names       []string
	sequence    int64
}

var emptySnapshot = newSnapshot(nil, 0)

// newSnapshot takes ownership of experiments.
func newSnapshot(experiments map[string]domain.Experiment, sequence int64) *Snapshot {
	if experiments == nil {
		experiments = map[string]domain.Experiment{}
	}
	names := make([]string, 0, len(experiments))
	for name := range experiments {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Snapshot{experiments: experiments, names: names, sequence: sequence}
}

// Get returns a copy of the named active experiment.
func (s *Snapshot) Get(name string) (domain.Experiment, bool) {
	e, ok := s.experiments[name]
	if !ok {
		return domain.Experiment{}, false
	}
	return e.Clone(), true
}

// All returns copies of every experiment, ordered by name.
func (s *Snapshot) All() []domain.Experiment {
	out := make([]domain.Experiment, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.experiments[name].Clone())
	}
	return out
}

// Range calls fn for each experiment in name order until fn returns false.
// The experiment shares memory with the snapshot and must not be modified.
func (s *Snapshot) Range(fn func(domain.Experiment) bool) {
	for _, name := range s.names {
		if !fn(s.experiments[name]) {
			return
		}
	}
}

// Len returns the number of experiments.
func (s *Snapshot) Len() int { return len(s.experiments) }

// Sequence returns the high-water sequence number.
func (s *Snapshot) Sequence() int64 { return s.sequence }

// with derives a snapshot with e upserted.
func (s *Snapshot) with(e domain.Experiment) *Snapshot {
	next := s.copyMap(len(s.experiments) + 1)
	next[e.Name] = e
	return newSnapshot(next, max(s.sequence, e.Sequence))
}

// without derives a snapshot with name removed. The high-water is kept.
func (s *Snapshot) without(name string) *Snapshot {
	if _, ok := s.experiments[name]; !ok {
		return s
	}
	next := s.copyMap(len(s.experiments))
	delete(next, name)
	return newSnapshot(next, s.sequence)
}

// raise returns a snapshot sharing s's entries with the high-water raised to
// at least seq.
func (s *Snapshot) raise(seq int64) *Snapshot {
	if seq <= s.sequence {
		return s
	}
	return &Snapshot{experiments: s.experiments, names: s.names, sequence: seq}
}

func (s *Snapshot) copyMap(size int) map[string]domain.Experiment {
	out := make(map[string]domain.Experiment, size)
	for k, v := range s.experiments {
		out[k] = v
	}
	return out
}
