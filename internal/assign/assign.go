// Package assign resolves which treatment of an experiment applies to an
// identity. Resolution is a pure function of its inputs.
package assign

import (
	"github.com/cespare/xxhash/v2"

	"alchemy/pkg/domain"
)

// Seed derives the per-experiment hash seed from the experiment name, so the
// same identity lands in independent buckets across experiments.
func Seed(e domain.Experiment) uint64 {
	return xxhash.Sum64String(e.Name)
}

// Bucket returns the bucket in [0, domain.BucketSpace) the identity hashes to
// for the experiment.
func Bucket(e domain.Experiment, id domain.Identity) uint64 {
	return id.Hash(Seed(e)) % domain.BucketSpace
}

// Resolve returns the treatment for the identity, or false when the identity
// receives no treatment. Overrides are evaluated in order and take precedence
// over bucketing. An override whose treatment no longer exists yields no
// treatment rather than falling through to bucketing.
func Resolve(e domain.Experiment, id domain.Identity) (domain.Treatment, bool) {
	if id == nil {
		return domain.Treatment{}, false
	}
	if e.IdentityType != "" && e.IdentityType != id.Type() {
		return domain.Treatment{}, false
	}
	for _, o := range e.Overrides {
		if o.Criteria.Matches(id) {
			return e.Treatment(o.Treatment)
		}
	}
	if len(e.Allocations) == 0 {
		return domain.Treatment{}, false
	}
	return Allocated(e, Bucket(e, id))
}

// Allocated maps a bucket onto the allocation ranges of the experiment.
// Ranges are contiguous in allocation order; buckets past the allocated total
// receive no treatment.
func Allocated(e domain.Experiment, bucket uint64) (domain.Treatment, bool) {
	var upper uint64
	for _, a := range e.Allocations {
		if a.Weight <= 0 {
			continue
		}
		upper += uint64(a.Weight)
		if bucket < upper {
			return e.Treatment(a.Treatment)
		}
	}
	return domain.Treatment{}, false
}
