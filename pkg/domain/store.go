package domain

import "context"

// ExperimentStore is the persistence contract every backend satisfies. It does
// not cache; the experiments cache sits on top of it and relies on the
// sequence clock below to detect staleness.
type ExperimentStore interface {
	// Save creates or updates the experiment by name. It assigns a new
	// sequence number from NextSequenceNumber before persisting, stamps
	// Created when zero and returns the persisted copy.
	Save(ctx context.Context, experiment Experiment) (Experiment, error)

	// Load returns the named experiment and whether it exists.
	Load(ctx context.Context, name string) (Experiment, bool, error)

	// Delete removes the named experiment. Deleting a missing experiment is not
	// an error.
	Delete(ctx context.Context, name string) error

	// Find returns copies of the experiments matching the query. Offset counts
	// raw rows before filters, limit counts matches.
	Find(ctx context.Context, query Query) ([]Experiment, error)

	// NextSequenceNumber issues a number strictly greater than every number
	// issued before by this store.
	NextSequenceNumber(ctx context.Context) (int64, error)

	// CurrentSequenceNumber returns the last issued number, or false when none
	// has been issued yet.
	CurrentSequenceNumber(ctx context.Context) (int64, bool, error)

	// SequenceNumber returns the sequence of the named experiment, or false if
	// it does not exist.
	SequenceNumber(ctx context.Context, name string) (int64, bool, error)

	Close() error
}

// Saver persists an experiment. The experiments facade implements it so that
// saves made through a Builder are pushed into the cache.
type Saver interface {
	Save(ctx context.Context, experiment Experiment) (Experiment, error)
}
