package identity

import (
	"fmt"
	"sort"
	"sync"

	"alchemy/pkg/domain"
)

// Constructor builds an identity of a registered type from its attributes.
type Constructor func(attrs map[string]string) (domain.Identity, error)

// Registry maps identity type tags to constructors. It is safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Constructor
	// generic allows unregistered types to be built as Attributes.
	generic bool
}

// NewRegistry returns an empty registry. When allowGeneric is true, unknown
// types are accepted and built as Attributes identities.
func NewRegistry(allowGeneric bool) *Registry {
	return &Registry{types: make(map[string]Constructor), generic: allowGeneric}
}

// DefaultRegistry registers the user and device types and rejects unknown
// types.
func DefaultRegistry() *Registry {
	r := NewRegistry(false)
	r.MustRegister(TypeUser, func(attrs map[string]string) (domain.Identity, error) {
		name := attrs["name"]
		if name == "" {
			return nil, fmt.Errorf("user identity requires name")
		}
		return User{Name: name}, nil
	})
	r.MustRegister(TypeDevice, func(attrs map[string]string) (domain.Identity, error) {
		id := attrs["id"]
		if id == "" {
			return nil, fmt.Errorf("device identity requires id")
		}
		return Device{ID: id}, nil
	})
	return r
}

// Register adds a constructor for the type tag.
func (r *Registry) Register(kind string, ctor Constructor) error {
	if kind == "" {
		return fmt.Errorf("identity type required")
	}
	if ctor == nil {
		return fmt.Errorf("identity type %s: constructor required", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[kind]; ok {
		return fmt.Errorf("identity type %s already registered", kind)
	}
	r.types[kind] = ctor
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(kind string, ctor Constructor) {
	if err := r.Register(kind, ctor); err != nil {
		panic(err)
	}
}

// New builds an identity of the given type.
func (r *Registry) New(kind string, attrs map[string]string) (domain.Identity, error) {
	r.mu.RLock()
	ctor, ok := r.types[kind]
	generic := r.generic
	r.mu.RUnlock()
	if ok {
		return ctor(attrs)
	}
	if generic && kind != "" {
		return Attributes{Kind: kind, Values: copyAttrs(attrs)}, nil
	}
	return nil, fmt.Errorf("unknown identity type %q", kind)
}

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for k := range r.types {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func copyAttrs(attrs map[string]string) map[string]string {
	cp := make(map[string]string, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	return cp
}
