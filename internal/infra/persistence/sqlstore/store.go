// Package sqlstore implements the experiment store over database/sql. The
// sqlite and postgres packages supply a Dialect and own driver registration.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"alchemy/internal/infra/persistence/memory"
	"alchemy/pkg/domain"
)

// Compile-time contract assertion ensuring sqlstore.Store adheres to the domain persistence interface.
var _ domain.ExperimentStore = (*Store)(nil)

// sequenceRow is the id of the single counter row.
const sequenceRow = 1

// Dialect captures the statements that differ between engines.
type Dialect struct {
	// Name is used in error messages.
	Name string
	// Schema holds the DDL applied on open, in order.
	Schema []string
	// Numbered selects $1-style placeholders instead of ?.
	Numbered bool
	// OrderColumn defines the base order of Find.
	OrderColumn string
}

// Store persists each experiment as a JSON payload row and issues sequence
// numbers from a single-row counter table inside the database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New applies the dialect schema and returns a store over db. The store owns
// db and closes it on Close.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply %s schema: %w", dialect.Name, err)
		}
	}
	s := &Store{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
	if _, err := db.ExecContext(ctx, s.bind(`INSERT INTO alchemy_sequence(id, value) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`), sequenceRow, 0); err != nil {
		return nil, fmt.Errorf("seed %s sequence: %w", dialect.Name, err)
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// SetNowFunc replaces the time source used to stamp Created.
func (s *Store) SetNowFunc(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Save upserts the experiment and its freshly issued sequence in one transaction.
func (s *Store) Save(ctx context.Context, experiment domain.Experiment) (_ domain.Experiment, retErr error) {
	if experiment.Name == "" {
		return domain.Experiment{}, domain.ValidationError{Reason: "name required"}
	}
	stored := experiment.Clone()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("begin %s: %w", s.dialect.Name, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	seq, err := s.next(ctx, tx)
	if err != nil {
		return domain.Experiment{}, err
	}
	stored.Sequence = seq
	if stored.Created.IsZero() {
		existing, ok, err := s.load(ctx, tx, stored.Name)
		if err != nil {
			return domain.Experiment{}, err
		}
		if ok {
			stored.Created = existing.Created
		} else {
			stored.Created = s.now()
		}
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("encode experiment %s: %w", stored.Name, err)
	}
	if _, err := tx.ExecContext(ctx, s.bind(`INSERT INTO experiments(name, sequence, payload) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET sequence = excluded.sequence, payload = excluded.payload`),
		stored.Name, stored.Sequence, string(payload)); err != nil {
		return domain.Experiment{}, fmt.Errorf("upsert experiment %s: %w", stored.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Experiment{}, fmt.Errorf("commit %s: %w", s.dialect.Name, err)
	}
	return stored, nil
}

// Load reads the named experiment.
func (s *Store) Load(ctx context.Context, name string) (domain.Experiment, bool, error) {
	return s.load(ctx, s.db, name)
}

// Delete removes the named experiment if present.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM experiments WHERE name = ?`), name); err != nil {
		return fmt.Errorf("delete experiment %s: %w", name, err)
	}
	return nil
}

// Find reads every row in base order and applies the shared query executor.
func (s *Store) Find(ctx context.Context, query domain.Query) ([]domain.Experiment, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT sequence, payload FROM experiments ORDER BY `+s.dialect.OrderColumn)
	if err != nil {
		return nil, fmt.Errorf("select experiments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var all []domain.Experiment
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		e, err := decode(payload, seq)
		if err != nil {
			return nil, err
		}
		all = append(all, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experiments: %w", err)
	}
	return memory.Execute(query, all)
}

// NextSequenceNumber increments the counter row and returns the new value.
func (s *Store) NextSequenceNumber(ctx context.Context) (int64, error) {
	return s.next(ctx, s.db)
}

// CurrentSequenceNumber reads the counter row.
func (s *Store) CurrentSequenceNumber(ctx context.Context) (int64, bool, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT value FROM alchemy_sequence WHERE id = ?`), sequenceRow).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read sequence: %w", err)
	}
	return v, v > 0, nil
}

// SequenceNumber reads the sequence column of the named experiment.
func (s *Store) SequenceNumber(ctx context.Context, name string) (int64, bool, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT sequence FROM experiments WHERE name = ?`), name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read sequence of %s: %w", name, err)
	}
	return v, true, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) next(ctx context.Context, q querier) (int64, error) {
	var v int64
	if err := q.QueryRowContext(ctx, s.bind(`UPDATE alchemy_sequence SET value = value + 1 WHERE id = ? RETURNING value`), sequenceRow).Scan(&v); err != nil {
		return 0, fmt.Errorf("issue sequence: %w", err)
	}
	return v, nil
}

func (s *Store) load(ctx context.Context, q querier, name string) (domain.Experiment, bool, error) {
	var (
		seq     int64
		payload []byte
	)
	err := q.QueryRowContext(ctx, s.bind(`SELECT sequence, payload FROM experiments WHERE name = ?`), name).Scan(&seq, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Experiment{}, false, nil
	}
	if err != nil {
		return domain.Experiment{}, false, fmt.Errorf("load experiment %s: %w", name, err)
	}
	e, err := decode(payload, seq)
	if err != nil {
		return domain.Experiment{}, false, err
	}
	return e, true, nil
}

func decode(payload []byte, seq int64) (domain.Experiment, error) {
	var e domain.Experiment
	if err := json.Unmarshal(payload, &e); err != nil {
		return domain.Experiment{}, fmt.Errorf("decode experiment: %w", err)
	}
	e.Sequence = seq
	return e, nil
}

// bind rewrites ? placeholders for dialects with numbered parameters.
func (s *Store) bind(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
