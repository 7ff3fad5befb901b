package domain

// Identity is an entity (user, device, ...) being assigned to treatments.
// Hash must be deterministic: equal Type and Attributes produce the same value
// for the same seed, across processes and restarts.
type Identity interface {
	Type() string
	Attributes() map[string]string
	Hash(seed uint64) uint64
}

// Criteria is a set of attribute equalities an identity must satisfy. Every
// key must be present on the identity with exactly the given value.
type Criteria map[string]string

// Matches reports whether the identity satisfies every criterion. Empty
// criteria never match.
func (c Criteria) Matches(id Identity) bool {
	if len(c) == 0 || id == nil {
		return false
	}
	attrs := id.Attributes()
	for k, want := range c {
		got, ok := attrs[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Clone copies the criteria map.
func (c Criteria) Clone() Criteria {
	if c == nil {
		return nil
	}
	cp := make(Criteria, len(c))
	for k, v := range c {
		cp[k] = v
	}
	return cp
}
