// Package identity provides the built-in identity types and the registry used
// to construct identities from transport payloads.
package identity

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"alchemy/pkg/domain"
)

const (
	TypeUser   = "user"
	TypeDevice = "device"
)

// Compile-time contract assertions.
var (
	_ domain.Identity = User{}
	_ domain.Identity = Device{}
	_ domain.Identity = Attributes{}
)

// User is an identity keyed by user name.
type User struct {
	Name string
}

func (u User) Type() string { return TypeUser }

func (u User) Attributes() map[string]string { return map[string]string{"name": u.Name} }

func (u User) Hash(seed uint64) uint64 { return HashAttributes(seed, TypeUser, u.Attributes()) }

// Device is an identity keyed by device id.
type Device struct {
	ID string
}

func (d Device) Type() string { return TypeDevice }

func (d Device) Attributes() map[string]string { return map[string]string{"id": d.ID} }

func (d Device) Hash(seed uint64) uint64 { return HashAttributes(seed, TypeDevice, d.Attributes()) }

// Attributes is a generic identity for types without a dedicated Go type.
type Attributes struct {
	Kind   string
	Values map[string]string
}

func (a Attributes) Type() string { return a.Kind }

func (a Attributes) Attributes() map[string]string {
	cp := make(map[string]string, len(a.Values))
	for k, v := range a.Values {
		cp[k] = v
	}
	return cp
}

func (a Attributes) Hash(seed uint64) uint64 { return HashAttributes(seed, a.Kind, a.Values) }

// HashAttributes hashes the type tag and attribute pairs, in key order, with
// a seeded xxhash64. Keys and values are length-prefixed so ("ab","c") and
// ("a","bc") never collide structurally. The output is stable across
// processes and part of the assignment compatibility surface.
func HashAttributes(seed uint64, kind string, attrs map[string]string) uint64 {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.NewWithSeed(seed)
	writeField(d, kind)
	for _, k := range keys {
		writeField(d, k)
		writeField(d, attrs[k])
	}
	return d.Sum64()
}

func writeField(d *xxhash.Digest, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	_, _ = d.Write(n[:])
	_, _ = d.WriteString(s)
}
