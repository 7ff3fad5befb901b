package domain

import (
	"context"
	"errors"
	"testing"
)

type recordingSaver struct {
	saved []Experiment
	err   error
	seq   int64
}

func (r *recordingSaver) Save(_ context.Context, e Experiment) (Experiment, error) {
	if r.err != nil {
		return Experiment{}, r.err
	}
	r.seq++
	e.Sequence = r.seq
	r.saved = append(r.saved, e.Clone())
	return e, nil
}

type attrIdentity map[string]string

func (a attrIdentity) Type() string                  { return "test" }
func (a attrIdentity) Attributes() map[string]string { return a }
func (a attrIdentity) Hash(uint64) uint64            { return 0 }

func TestBuilderSaveAssignsStoreSequence(t *testing.T) {
	saver := &recordingSaver{}
	exp, err := NewBuilder(saver, "pie_vs_cake").
		Description("dessert").
		IdentityType("user").
		Activate().
		AddTreatment("control", "").
		AddTreatment("pie", "").
		AddTreatment("cake", "").
		Allocate("control", 10).
		Allocate("pie", 10).
		Allocate("cake", 10).
		AddOverride("qa_pie", "pie", Criteria{"name": "qa"}).
		Save(context.Background())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if exp.Sequence != 1 {
		t.Fatalf("expected sequence from saver, got %d", exp.Sequence)
	}
	if len(saver.saved) != 1 || saver.saved[0].AllocatedWeight() != 30 {
		t.Fatalf("unexpected saved state: %+v", saver.saved)
	}
}

func TestBuilderValidation(t *testing.T) {
	cases := map[string]*Builder{
		"empty name":           NewBuilder(nil, ""),
		"empty treatment name": NewBuilder(nil, "e").AddTreatment("", ""),
		"unknown allocation":   NewBuilder(nil, "e").Allocate("missing", 10),
		"non-positive weight":  NewBuilder(nil, "e").AddTreatment("a", "").Allocate("a", 0),
		"over allocated":       NewBuilder(nil, "e").AddTreatment("a", "").AddTreatment("b", "").Allocate("a", 60).Allocate("b", 41),
		"unknown override":     NewBuilder(nil, "e").AddOverride("o", "missing", Criteria{"k": "v"}),
		"override no criteria": NewBuilder(nil, "e").AddTreatment("a", "").AddOverride("o", "a", nil),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := b.Build()
			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestValidateRejectsDuplicates(t *testing.T) {
	dupTreatment := Experiment{Name: "e", Treatments: []Treatment{{Name: "a"}, {Name: "a"}}}
	if err := dupTreatment.Validate(); err == nil {
		t.Fatalf("expected duplicate treatment error")
	}
	dupOverride := Experiment{
		Name:       "e",
		Treatments: []Treatment{{Name: "a"}},
		Overrides: []Override{
			{Name: "o", Treatment: "a", Criteria: Criteria{"k": "v"}},
			{Name: "o", Treatment: "a", Criteria: Criteria{"k": "w"}},
		},
	}
	if err := dupOverride.Validate(); err == nil {
		t.Fatalf("expected duplicate override error")
	}
}

func TestBuilderRemoveTreatmentDropsReferences(t *testing.T) {
	exp, err := NewBuilder(nil, "e").
		AddTreatment("a", "").
		AddTreatment("b", "").
		Allocate("a", 50).
		Allocate("b", 50).
		AddOverride("force_a", "a", Criteria{"id": "1"}).
		RemoveTreatment("a").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(exp.Treatments) != 1 || len(exp.Allocations) != 1 || len(exp.Overrides) != 0 {
		t.Fatalf("references to removed treatment survived: %+v", exp)
	}
}

func TestBuilderAllocateGrowsExistingRange(t *testing.T) {
	exp, err := NewBuilder(nil, "e").AddTreatment("a", "").Allocate("a", 10).Allocate("a", 15).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(exp.Allocations) != 1 || exp.Allocations[0].Weight != 25 {
		t.Fatalf("expected a single 25 bucket allocation, got %+v", exp.Allocations)
	}
}

func TestBuilderSaveWrapsSaverError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewBuilder(&recordingSaver{err: boom}, "e").Save(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped saver error, got %v", err)
	}
	if _, err := NewBuilder(nil, "e").Save(context.Background()); err == nil {
		t.Fatalf("expected error without saver")
	}
}

func TestEditDoesNotAliasSource(t *testing.T) {
	src := Experiment{Name: "e", Treatments: []Treatment{{Name: "a"}}, Overrides: []Override{{Name: "o", Treatment: "a", Criteria: Criteria{"k": "v"}}}}
	exp, err := Edit(nil, src).AddTreatment("b", "").AddOverride("o", "a", Criteria{"k": "w"}).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(src.Treatments) != 1 || src.Overrides[0].Criteria["k"] != "v" {
		t.Fatalf("edit mutated source experiment: %+v", src)
	}
	if len(exp.Treatments) != 2 {
		t.Fatalf("expected edited treatments, got %+v", exp.Treatments)
	}
}

func TestCriteriaMatches(t *testing.T) {
	c := Criteria{"name": "qa", "region": "eu"}
	if !c.Matches(attrIdentity{"name": "qa", "region": "eu", "extra": "x"}) {
		t.Fatalf("expected match")
	}
	if c.Matches(attrIdentity{"name": "qa"}) {
		t.Fatalf("missing attribute must not match")
	}
	if c.Matches(attrIdentity{"name": "QA", "region": "eu"}) {
		t.Fatalf("criteria are case sensitive")
	}
	if (Criteria{}).Matches(attrIdentity{"name": "qa"}) {
		t.Fatalf("empty criteria must not match")
	}
	if c.Matches(nil) {
		t.Fatalf("nil identity must not match")
	}
}
