package domain

import (
	"fmt"
	"time"
)

// BucketSpace is the number of buckets identities are hashed into. Allocation
// weights are expressed in buckets, so a weight of 25 covers a quarter of all
// identities. Changing it reshuffles every existing assignment.
const BucketSpace = 100

// Treatment is a named variant within an experiment.
type Treatment struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Allocation assigns Weight buckets to the referenced treatment. Allocations
// are laid out contiguously in declaration order.
type Allocation struct {
	Treatment string `json:"treatment"`
	Weight    int    `json:"weight"`
}

// Override forces identities matching Criteria into Treatment, bypassing
// bucketing.
type Override struct {
	Name      string   `json:"name"`
	Treatment string   `json:"treatment"`
	Criteria  Criteria `json:"criteria"`
}

// Experiment is the unit of configuration stored by an ExperimentStore.
// Sequence and Created are owned by the store: Save overwrites Sequence with a
// freshly issued number and stamps Created when it is zero.
type Experiment struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Active       bool         `json:"active"`
	IdentityType string       `json:"identity_type,omitempty"`
	Created      time.Time    `json:"created"`
	Sequence     int64        `json:"sequence"`
	Treatments   []Treatment  `json:"treatments,omitempty"`
	Allocations  []Allocation `json:"allocations,omitempty"`
	Overrides    []Override   `json:"overrides,omitempty"`
}

// Treatment returns the treatment with the given name.
func (e Experiment) Treatment(name string) (Treatment, bool) {
	for _, t := range e.Treatments {
		if t.Name == name {
			return t, true
		}
	}
	return Treatment{}, false
}

// Override returns the override with the given name.
func (e Experiment) Override(name string) (Override, bool) {
	for _, o := range e.Overrides {
		if o.Name == name {
			return o, true
		}
	}
	return Override{}, false
}

// AllocatedWeight sums the weights of every allocation.
func (e Experiment) AllocatedWeight() int {
	total := 0
	for _, a := range e.Allocations {
		total += a.Weight
	}
	return total
}

// Clone returns a deep copy that shares no slices or maps with e.
func (e Experiment) Clone() Experiment {
	cp := e
	if e.Treatments != nil {
		cp.Treatments = append([]Treatment(nil), e.Treatments...)
	}
	if e.Allocations != nil {
		cp.Allocations = append([]Allocation(nil), e.Allocations...)
	}
	if e.Overrides != nil {
		cp.Overrides = make([]Override, len(e.Overrides))
		for i, o := range e.Overrides {
			o.Criteria = o.Criteria.Clone()
			cp.Overrides[i] = o
		}
	}
	return cp
}

// Validate checks the structural invariants of the experiment.
func (e Experiment) Validate() error {
	if e.Name == "" {
		return ValidationError{Reason: "name is required"}
	}
	treatments := make(map[string]struct{}, len(e.Treatments))
	for _, t := range e.Treatments {
		if t.Name == "" {
			return ValidationError{Experiment: e.Name, Reason: "treatment name is required"}
		}
		if _, dup := treatments[t.Name]; dup {
			return ValidationError{Experiment: e.Name, Reason: fmt.Sprintf("duplicate treatment %s", t.Name)}
		}
		treatments[t.Name] = struct{}{}
	}
	total := 0
	for _, a := range e.Allocations {
		if _, ok := treatments[a.Treatment]; !ok {
			return ValidationError{Experiment: e.Name, Reason: fmt.Sprintf("allocation references unknown treatment %s", a.Treatment)}
		}
		if a.Weight <= 0 {
			return ValidationError{Experiment: e.Name, Reason: fmt.Sprintf("allocation for %s must have a positive weight", a.Treatment)}
		}
		total += a.Weight
	}
	if total > BucketSpace {
		return ValidationError{Experiment: e.Name, Reason: fmt.Sprintf("allocated weight %d exceeds %d buckets", total, BucketSpace)}
	}
	overrides := make(map[string]struct{}, len(e.Overrides))
	for _, o := range e.Overrides {
		if o.Name == "" {
			return ValidationError{Experiment: e.Name, Reason: "override name is required"}
		}
		if _, dup := overrides[o.Name]; dup {
			return ValidationError{Experiment: e.Name, Reason: fmt.Sprintf("duplicate override %s", o.Name)}
		}
		overrides[o.Name] = struct{}{}
		if _, ok := treatments[o.Treatment]; !ok {
			return ValidationError{Experiment: e.Name, Reason: fmt.Sprintf("override %s references unknown treatment %s", o.Name, o.Treatment)}
		}
		if len(o.Criteria) == 0 {
			return ValidationError{Experiment: e.Name, Reason: fmt.Sprintf("override %s has no criteria", o.Name)}
		}
	}
	return nil
}
