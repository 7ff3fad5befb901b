package domain

import (
	"context"
	"errors"
	"fmt"
)

// Builder assembles an experiment and saves it through a Saver. The sequence
// number is never settable here; it is issued by the store on Save.
type Builder struct {
	saver Saver
	exp   Experiment
}

// NewBuilder starts a new, inactive experiment with the given name.
func NewBuilder(saver Saver, name string) *Builder {
	return &Builder{saver: saver, exp: Experiment{Name: name}}
}

// Edit starts a builder from an existing experiment. The experiment is copied.
func Edit(saver Saver, experiment Experiment) *Builder {
	return &Builder{saver: saver, exp: experiment.Clone()}
}

// Description sets the description.
func (b *Builder) Description(description string) *Builder {
	b.exp.Description = description
	return b
}

// IdentityType restricts the experiment to identities of the given type. An
// empty type applies the experiment to every identity type.
func (b *Builder) IdentityType(identityType string) *Builder {
	b.exp.IdentityType = identityType
	return b
}

// Activate marks the experiment active.
func (b *Builder) Activate() *Builder {
	b.exp.Active = true
	return b
}

// Deactivate marks the experiment inactive.
func (b *Builder) Deactivate() *Builder {
	b.exp.Active = false
	return b
}

// AddTreatment appends a treatment, or updates the description of an existing
// one with the same name.
func (b *Builder) AddTreatment(name, description string) *Builder {
	for i, t := range b.exp.Treatments {
		if t.Name == name {
			b.exp.Treatments[i].Description = description
			return b
		}
	}
	b.exp.Treatments = append(b.exp.Treatments, Treatment{Name: name, Description: description})
	return b
}

// RemoveTreatment removes a treatment along with every allocation and override
// that references it.
func (b *Builder) RemoveTreatment(name string) *Builder {
	treatments := b.exp.Treatments[:0]
	for _, t := range b.exp.Treatments {
		if t.Name != name {
			treatments = append(treatments, t)
		}
	}
	b.exp.Treatments = treatments
	b.Deallocate(name)
	overrides := b.exp.Overrides[:0]
	for _, o := range b.exp.Overrides {
		if o.Treatment != name {
			overrides = append(overrides, o)
		}
	}
	b.exp.Overrides = overrides
	return b
}

// Allocate appends weight buckets for the treatment. Allocating an already
// allocated treatment grows its existing range in place.
func (b *Builder) Allocate(treatment string, weight int) *Builder {
	for i, a := range b.exp.Allocations {
		if a.Treatment == treatment {
			b.exp.Allocations[i].Weight += weight
			return b
		}
	}
	b.exp.Allocations = append(b.exp.Allocations, Allocation{Treatment: treatment, Weight: weight})
	return b
}

// Deallocate drops every allocation of the treatment.
func (b *Builder) Deallocate(treatment string) *Builder {
	allocations := b.exp.Allocations[:0]
	for _, a := range b.exp.Allocations {
		if a.Treatment != treatment {
			allocations = append(allocations, a)
		}
	}
	b.exp.Allocations = allocations
	return b
}

// ClearAllocations removes all allocations.
func (b *Builder) ClearAllocations() *Builder {
	b.exp.Allocations = nil
	return b
}

// AddOverride appends an override, replacing one with the same name.
func (b *Builder) AddOverride(name, treatment string, criteria Criteria) *Builder {
	o := Override{Name: name, Treatment: treatment, Criteria: criteria.Clone()}
	for i, existing := range b.exp.Overrides {
		if existing.Name == name {
			b.exp.Overrides[i] = o
			return b
		}
	}
	b.exp.Overrides = append(b.exp.Overrides, o)
	return b
}

// RemoveOverride removes the named override.
func (b *Builder) RemoveOverride(name string) *Builder {
	overrides := b.exp.Overrides[:0]
	for _, o := range b.exp.Overrides {
		if o.Name != name {
			overrides = append(overrides, o)
		}
	}
	b.exp.Overrides = overrides
	return b
}

// Build validates and returns a copy of the experiment without saving it.
func (b *Builder) Build() (Experiment, error) {
	if err := b.exp.Validate(); err != nil {
		return Experiment{}, err
	}
	return b.exp.Clone(), nil
}

// Save validates the experiment and persists it through the saver.
func (b *Builder) Save(ctx context.Context) (Experiment, error) {
	if b.saver == nil {
		return Experiment{}, errors.New("builder has no saver")
	}
	exp, err := b.Build()
	if err != nil {
		return Experiment{}, err
	}
	saved, err := b.saver.Save(ctx, exp)
	if err != nil {
		return Experiment{}, fmt.Errorf("save experiment %s: %w", exp.Name, err)
	}
	b.exp = saved.Clone()
	return saved, nil
}
