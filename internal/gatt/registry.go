package gatt

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"
)

// Kind tells what sort of attribute a registry entry describes.
type Kind uint8

const (
	KindService Kind = iota + 1
	KindCharacteristic
	KindDescriptor
)

func (k Kind) String() string {
	switch k {
	case KindService:
		return "Service"
	case KindCharacteristic:
		return "Characteristic"
	case KindDescriptor:
		return "Descriptor"
	default:
		return "Attribute"
	}
}

// CharacteristicFactory builds a specialized characteristic around the
// generic one created at discovery.
type CharacteristicFactory func(base *BLECharacteristic) Characteristic

// ServiceFactory builds a specialized service around the generic one.
type ServiceFactory func(base *BLEService) Service

// Entry maps one UUID to its display name and, optionally, a factory.
type Entry struct {
	UUID UUID
	Kind Kind
	Name string
	// Identifier is the snake_case lookup key. Derived from Name when empty;
	// may gain a "_0x<id>" suffix when two UUIDs share a name.
	Identifier string

	NewCharacteristic CharacteristicFactory
	NewService        ServiceFactory
}

// DisplayName is the name with its kind appended, e.g. "Heart Rate Service".
func (e *Entry) DisplayName() string {
	suffix := e.Kind.String()
	if strings.HasSuffix(e.Name, suffix) {
		return e.Name
	}
	return e.Name + " " + suffix
}

// ErrRegistryFrozen is returned by Register after Freeze.
var ErrRegistryFrozen = errors.New("registry is frozen")

// Registry maps canonical UUIDs to entries. It is populated by explicit
// Register calls during start-up, then frozen and shared read-only by every
// session.
type Registry struct {
	entries  map[UUID]*Entry
	idents   map[string]UUID
	collided map[string]bool
	frozen   bool
}

// NewRegistry returns an empty, mutable registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[UUID]*Entry),
		idents:   make(map[string]UUID),
		collided: make(map[string]bool),
	}
}

// Identifier turns a display name into a snake_case identifier.
func Identifier(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func suffixed(ident string, u UUID) string {
	return fmt.Sprintf("%s_0x%x", ident, u.ShortID())
}

// Register adds or merges an entry. Registering the same UUID again with the
// same factory is a no-op; a name-only entry may be upgraded with a factory.
// Two different factories for one UUID is an error.
func (r *Registry) Register(e Entry) error {
	if r.frozen {
		return ErrRegistryFrozen
	}
	if e.UUID.IsZero() {
		return fmt.Errorf("register %q: empty uuid", e.Name)
	}
	if e.Kind == 0 {
		switch {
		case e.NewService != nil:
			e.Kind = KindService
		default:
			e.Kind = KindCharacteristic
		}
	}
	if e.NewService != nil && e.Kind != KindService {
		return fmt.Errorf("register %s: service factory on a %s entry", e.UUID, e.Kind)
	}
	if e.NewCharacteristic != nil && e.Kind != KindCharacteristic {
		return fmt.Errorf("register %s: characteristic factory on a %s entry", e.UUID, e.Kind)
	}

	if existing, ok := r.entries[e.UUID]; ok {
		return r.merge(existing, &e)
	}

	if e.Name == "" {
		e.Name = e.UUID.Short()
	}
	ident := e.Identifier
	if ident == "" {
		ident = Identifier(e.Name)
	}
	entry := e
	entry.Identifier = r.claim(ident, e.UUID)
	r.entries[e.UUID] = &entry
	return nil
}

func (r *Registry) merge(existing, e *Entry) error {
	if existing.Kind != e.Kind {
		return fmt.Errorf("register %s: already registered as %s, not %s", e.UUID, existing.Kind, e.Kind)
	}
	if err := mergeFactory(&existing.NewCharacteristic, e.NewCharacteristic, e.UUID); err != nil {
		return err
	}
	if err := mergeFactory(&existing.NewService, e.NewService, e.UUID); err != nil {
		return err
	}
	if e.Name != "" && e.Name != existing.Name && (e.NewCharacteristic != nil || e.NewService != nil) {
		// A profile's own name wins over an assigned-numbers name.
		existing.Name = e.Name
	}
	return nil
}

func mergeFactory[F any](dst *F, src F, u UUID) error {
	sv := reflect.ValueOf(src)
	if sv.IsNil() {
		return nil
	}
	dv := reflect.ValueOf(*dst)
	if !dv.IsNil() && dv.Pointer() != sv.Pointer() {
		return fmt.Errorf("register %s: conflicting factories", u)
	}
	*dst = src
	return nil
}

// claim reserves ident for u, renaming the current holder on a collision so
// both entries stay reachable.
func (r *Registry) claim(ident string, u UUID) string {
	if r.collided[ident] {
		s := suffixed(ident, u)
		r.idents[s] = u
		return s
	}
	holder, taken := r.idents[ident]
	if !taken || holder == u {
		r.idents[ident] = u
		return ident
	}

	delete(r.idents, ident)
	r.collided[ident] = true
	moved := suffixed(ident, holder)
	r.entries[holder].Identifier = moved
	r.idents[moved] = holder

	s := suffixed(ident, u)
	r.idents[s] = u
	return s
}

// Lookup returns the entry for u or a NotFoundError.
func (r *Registry) Lookup(u UUID) (*Entry, error) {
	if e, ok := r.entries[u]; ok {
		return e, nil
	}
	return nil, &NotFoundError{Resource: "registry entry", UUIDs: []string{u.String()}}
}

// LookupIdentifier resolves a snake_case identifier.
func (r *Registry) LookupIdentifier(ident string) (*Entry, error) {
	if u, ok := r.idents[ident]; ok {
		return r.entries[u], nil
	}
	return nil, &NotFoundError{Resource: "registry entry", UUIDs: []string{ident}}
}

// Resolve accepts a UUID in any spelling or an identifier.
func (r *Registry) Resolve(key string) (UUID, error) {
	if e, err := r.LookupIdentifier(key); err == nil {
		return e.UUID, nil
	}
	u, err := Canonicalize(key)
	if err != nil {
		return UUID{}, &NotFoundError{Resource: "registry entry", UUIDs: []string{key}}
	}
	return u, nil
}

// Entries returns a snapshot sorted by identifier.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Len returns the number of registered UUIDs.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Frozen reports whether Freeze has succeeded.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// Freeze checks the registry invariants and makes it read-only.
func (r *Registry) Freeze() error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.frozen = true
	return nil
}

// Validate checks that identifiers and UUIDs map one-to-one and that every
// collided identifier was disambiguated.
func (r *Registry) Validate() error {
	var errs []error
	if len(r.idents) != len(r.entries) {
		errs = append(errs, fmt.Errorf("%d identifiers for %d entries", len(r.idents), len(r.entries)))
	}
	for ident, u := range r.idents {
		e, ok := r.entries[u]
		if !ok {
			errs = append(errs, fmt.Errorf("identifier %q points at unregistered %s", ident, u))
			continue
		}
		if e.Identifier != ident {
			errs = append(errs, fmt.Errorf("identifier %q points at %s which is named %q", ident, u, e.Identifier))
		}
		if r.collided[ident] {
			errs = append(errs, fmt.Errorf("identifier %q is ambiguous", ident))
		}
	}
	return errors.Join(errs...)
}
