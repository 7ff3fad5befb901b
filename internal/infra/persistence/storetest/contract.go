// Package storetest provides the behavioural contract every experiment store
// implementation is exercised against.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"alchemy/pkg/domain"
)

// Opener returns a fresh, empty store. The contract closes it when done.
type Opener func(t *testing.T) domain.ExperimentStore

// Run executes the store contract against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, domain.ExperimentStore)
	}{
		{"SaveAssignsSequence", testSaveAssignsSequence},
		{"LoadReturnsCopies", testLoadReturnsCopies},
		{"DeleteIsIdempotent", testDeleteIsIdempotent},
		{"OffsetCountsRawRows", testOffsetCountsRawRows},
		{"ActiveSortsFirstAscending", testActiveSortsFirstAscending},
		{"FiltersAndOrderings", testFiltersAndOrderings},
		{"RejectsMalformedQuery", testRejectsMalformedQuery},
		{"ConcurrentSequenceIssuance", testConcurrentSequenceIssuance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := open(t)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store)
		})
	}
}

// Seed saves experiments in order and fails the test on error.
func Seed(t *testing.T, store domain.ExperimentStore, experiments ...domain.Experiment) []domain.Experiment {
	t.Helper()
	out := make([]domain.Experiment, 0, len(experiments))
	for _, e := range experiments {
		saved, err := store.Save(context.Background(), e)
		if err != nil {
			t.Fatalf("save %s: %v", e.Name, err)
		}
		out = append(out, saved)
	}
	return out
}

// Names extracts experiment names in order.
func Names(experiments []domain.Experiment) []string {
	out := make([]string, 0, len(experiments))
	for _, e := range experiments {
		out = append(out, e.Name)
	}
	return out
}

func equalNames(got []domain.Experiment, want ...string) bool {
	names := Names(got)
	if len(names) != len(want) {
		return false
	}
	for i := range names {
		if names[i] != want[i] {
			return false
		}
	}
	return true
}

func find(t *testing.T, store domain.ExperimentStore, q domain.Query) []domain.Experiment {
	t.Helper()
	out, err := store.Find(context.Background(), q)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	return out
}

func testSaveAssignsSequence(t *testing.T, store domain.ExperimentStore) {
	ctx := context.Background()
	if _, ok, err := store.CurrentSequenceNumber(ctx); err != nil || ok {
		t.Fatalf("expected no sequence issued yet, ok=%v err=%v", ok, err)
	}
	first, err := store.Save(ctx, domain.Experiment{Name: "a", Sequence: 999})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.Sequence == 999 || first.Sequence <= 0 {
		t.Fatalf("expected store-issued sequence, got %d", first.Sequence)
	}
	if first.Created.IsZero() {
		t.Fatalf("expected created timestamp")
	}
	second, err := store.Save(ctx, domain.Experiment{Name: "a", Description: "again", Created: first.Created})
	if err != nil {
		t.Fatalf("resave: %v", err)
	}
	if second.Sequence <= first.Sequence {
		t.Fatalf("expected increasing sequence, got %d then %d", first.Sequence, second.Sequence)
	}
	cur, ok, err := store.CurrentSequenceNumber(ctx)
	if err != nil || !ok || cur < second.Sequence {
		t.Fatalf("current sequence %d ok=%v err=%v", cur, ok, err)
	}
	seq, ok, err := store.SequenceNumber(ctx, "a")
	if err != nil || !ok || seq != second.Sequence {
		t.Fatalf("sequence for a: %d ok=%v err=%v", seq, ok, err)
	}
	if _, ok, err := store.SequenceNumber(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing sequence, ok=%v err=%v", ok, err)
	}
	next, err := store.NextSequenceNumber(ctx)
	if err != nil || next <= cur {
		t.Fatalf("next sequence %d after %d err=%v", next, cur, err)
	}
	if _, err := store.Save(ctx, domain.Experiment{}); err == nil {
		t.Fatalf("expected error saving unnamed experiment")
	}
}

func testLoadReturnsCopies(t *testing.T, store domain.ExperimentStore) {
	ctx := context.Background()
	Seed(t, store, domain.Experiment{
		Name:       "copy",
		Active:     true,
		Treatments: []domain.Treatment{{Name: "control"}},
		Overrides:  []domain.Override{{Name: "qa", Treatment: "control", Criteria: domain.Criteria{"name": "qa"}}},
	})
	got, ok, err := store.Load(ctx, "copy")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	got.Treatments[0].Name = "mutated"
	got.Overrides[0].Criteria["name"] = "mutated"
	again, _, _ := store.Load(ctx, "copy")
	if again.Treatments[0].Name != "control" || again.Overrides[0].Criteria["name"] != "qa" {
		t.Fatalf("load returned an alias into store state")
	}
	found := find(t, store, domain.AllExperiments)
	found[0].Treatments[0].Name = "mutated"
	again, _, _ = store.Load(ctx, "copy")
	if again.Treatments[0].Name != "control" {
		t.Fatalf("find returned an alias into store state")
	}
	if _, ok, err := store.Load(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing, ok=%v err=%v", ok, err)
	}
}

func testDeleteIsIdempotent(t *testing.T, store domain.ExperimentStore) {
	ctx := context.Background()
	Seed(t, store, domain.Experiment{Name: "a"}, domain.Experiment{Name: "b"})
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if _, ok, _ := store.Load(ctx, "a"); ok {
		t.Fatalf("expected a deleted")
	}
	if got := find(t, store, domain.AllExperiments); !equalNames(got, "b") {
		t.Fatalf("unexpected remaining: %v", Names(got))
	}
}

func testOffsetCountsRawRows(t *testing.T, store domain.ExperimentStore) {
	Seed(t, store,
		domain.Experiment{Name: "A", Active: true},
		domain.Experiment{Name: "B", Active: false},
		domain.Experiment{Name: "C", Active: true},
	)
	q := domain.NewQuery().Offset(1).Limit(1).Filter(domain.FilterActive, true).MustBuild()
	if got := find(t, store, q); !equalNames(got, "C") {
		t.Fatalf("expected [C], got %v", Names(got))
	}
	// re-saving keeps the base position
	Seed(t, store, domain.Experiment{Name: "A", Active: true, Description: "resaved"})
	if got := find(t, store, domain.AllExperiments); !equalNames(got, "A", "B", "C") {
		t.Fatalf("expected base order kept, got %v", Names(got))
	}
	if got := find(t, store, domain.NewQuery().Offset(10).MustBuild()); len(got) != 0 {
		t.Fatalf("expected empty result past the end, got %v", Names(got))
	}
}

func testActiveSortsFirstAscending(t *testing.T, store domain.ExperimentStore) {
	Seed(t, store, domain.Experiment{Name: "X", Active: false}, domain.Experiment{Name: "Y", Active: true})
	q := domain.NewQuery().OrderBy(domain.SortActive, domain.Ascending).MustBuild()
	if got := find(t, store, q); !equalNames(got, "Y", "X") {
		t.Fatalf("expected [Y X], got %v", Names(got))
	}
	q = domain.NewQuery().OrderBy(domain.SortActive, domain.Descending).MustBuild()
	if got := find(t, store, q); !equalNames(got, "X", "Y") {
		t.Fatalf("expected [X Y], got %v", Names(got))
	}
}

func testFiltersAndOrderings(t *testing.T, store domain.ExperimentStore) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	Seed(t, store,
		domain.Experiment{Name: "checkout_button", Description: "Button Color", IdentityType: "user", Active: true, Created: base.Add(2 * time.Hour)},
		domain.Experiment{Name: "onboarding", Description: "new flow", IdentityType: "device", Created: base.Add(time.Hour)},
		domain.Experiment{Name: "CHECKOUT_copy", Description: "copy test", IdentityType: "user", Active: true, Created: base},
	)
	q := domain.NewQuery().Filter(domain.FilterName, "checkout").MustBuild()
	if got := find(t, store, q); !equalNames(got, "checkout_button", "CHECKOUT_copy") {
		t.Fatalf("case-insensitive substring: %v", Names(got))
	}
	q = domain.NewQuery().Filter(domain.FilterDescription, "COLOR").Filter(domain.FilterIdentityType, "us").MustBuild()
	if got := find(t, store, q); !equalNames(got, "checkout_button") {
		t.Fatalf("combined filters: %v", Names(got))
	}
	q = domain.NewQuery().OrderBy(domain.SortCreated, domain.Ascending).MustBuild()
	if got := find(t, store, q); !equalNames(got, "CHECKOUT_copy", "onboarding", "checkout_button") {
		t.Fatalf("created order: %v", Names(got))
	}
	q = domain.NewQuery().
		OrderBy(domain.SortIdentityType, domain.Descending).
		OrderBy(domain.SortName, domain.Ascending).
		MustBuild()
	if got := find(t, store, q); !equalNames(got, "CHECKOUT_copy", "checkout_button", "onboarding") {
		t.Fatalf("multi-key order: %v", Names(got))
	}
	q = domain.NewQuery().Limit(2).MustBuild()
	if got := find(t, store, q); !equalNames(got, "checkout_button", "onboarding") {
		t.Fatalf("limit keeps base order: %v", Names(got))
	}
}

func testRejectsMalformedQuery(t *testing.T, store domain.ExperimentStore) {
	bad := domain.NewQuery().OrderBy(domain.SortField("bogus"), domain.Ascending)
	if _, err := bad.Build(); err == nil {
		t.Fatalf("expected build error")
	}
	if _, err := domain.NewQuery().Limit(0).Build(); err == nil {
		t.Fatalf("expected limit error")
	}
	_, err := store.Find(context.Background(), domain.AllExperiments)
	if err != nil {
		t.Fatalf("zero query must be valid: %v", err)
	}
	var qe *domain.QueryError
	_, err = domain.NewQuery().Offset(-1).Build()
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryError, got %v", err)
	}
}

func testConcurrentSequenceIssuance(t *testing.T, store domain.ExperimentStore) {
	const workers, per = 4, 10
	ctx := context.Background()
	var (
		mu   sync.Mutex
		seen = map[int64]struct{}{}
		wg   sync.WaitGroup
	)
	errs := make(chan error, workers*per)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				n, err := store.NextSequenceNumber(ctx)
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				seen[n] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("next sequence: %v", err)
	}
	if len(seen) != workers*per {
		t.Fatalf("expected %d distinct sequence numbers, got %d", workers*per, len(seen))
	}
}
