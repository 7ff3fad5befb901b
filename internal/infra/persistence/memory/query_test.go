package memory

import (
	"testing"

	"alchemy/pkg/domain"
)

func TestExecuteWrongTypedFilterNeverMatches(t *testing.T) {
	rows := []domain.Experiment{{Name: "a", Active: true}}
	// Query.Validate accepts known fields; value types are only checked by the builder.
	q := domain.NewQuery().MustBuild()
	got, err := Execute(q, rows)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected unfiltered row, got %v err=%v", got, err)
	}
	if matches(domain.Filter{Field: domain.FilterActive, Value: "true"}, rows[0]) {
		t.Fatalf("string value must not match the active field")
	}
	if matches(domain.Filter{Field: domain.FilterName, Value: 1}, rows[0]) {
		t.Fatalf("int value must not match the name field")
	}
}

func TestExecuteWithoutOrderingsKeepsCollectionOrder(t *testing.T) {
	rows := []domain.Experiment{{Name: "z"}, {Name: "a"}, {Name: "m"}}
	got, err := Execute(domain.AllExperiments, rows)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got[0].Name != "z" || got[1].Name != "a" || got[2].Name != "m" {
		t.Fatalf("unexpected order: %v", got)
	}
	got[0].Name = "changed"
	if rows[0].Name != "z" {
		t.Fatalf("execute must copy rows")
	}
}

func TestExecuteStableSort(t *testing.T) {
	rows := []domain.Experiment{
		{Name: "first", Active: true},
		{Name: "second", Active: false},
		{Name: "third", Active: true},
	}
	q := domain.NewQuery().OrderBy(domain.SortActive, domain.Ascending).MustBuild()
	got, err := Execute(q, rows)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got[0].Name != "first" || got[1].Name != "third" || got[2].Name != "second" {
		t.Fatalf("expected stable active-first order, got %v", got)
	}
}
