package tactics

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
)

// #region errors

var (
	ErrDuplicate    = errors.New("duplicate dmaker")
	ErrUnknownType  = errors.New("unknown dmaker type")
	ErrUnknownName  = errors.New("unknown dmaker name")
	ErrInvalidClone = errors.New("invalid clone request")
	ErrKindMismatch = errors.New("dmaker kind does not match registry space")
)

// #endregion errors

// #region types

// Entry is one named, weighted dmaker instance.
type Entry struct {
	Name   string
	Maker  Maker
	Weight float64
	Valid  bool
}

type bucket struct {
	entries    map[string]*Entry
	order      []string
	total      float64
	validTotal float64
	clone      bool
}

func newBucket(clone bool) *bucket {
	return &bucket{entries: make(map[string]*Entry), clone: clone}
}

func (b *bucket) add(e *Entry) {
	b.entries[e.Name] = e
	b.order = append(b.order, e.Name)
	b.total += e.Weight
	if e.Valid {
		b.validTotal += e.Weight
	}
}

// Registry catalogues dmakers per (space, type name). One mutex serializes mutation;
// callers must not mutate the registry while a chain resolution is in flight.
type Registry struct {
	mu       sync.Mutex
	name     string
	buckets  map[Space]map[string]*bucket
	clones   map[Space][]string
	cloneSeq map[string]int
	rng      *rand.Rand
}

// Option configures a Registry.
type Option func(*Registry)

// WithRand makes weighted picks reproducible.
func WithRand(r *rand.Rand) Option {
	return func(reg *Registry) { reg.rng = r }
}

// #endregion types

// #region constructor

// NewRegistry returns an empty registry.
func NewRegistry(name string, opts ...Option) *Registry {
	r := &Registry{
		name: name,
		buckets: map[Space]map[string]*bucket{
			SpaceGenerator: {},
			SpaceDisruptor: {},
		},
		clones:   make(map[Space][]string),
		cloneSeq: make(map[string]int),
	}
	for _, o := range opts {
		o(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return r
}

// Name returns the registry label used in logs.
func (r *Registry) Name() string { return r.name }

// #endregion constructor

// #region register

// Register adds m under (space, typeName) as name.
func (r *Registry) Register(space Space, typeName, name string, m Maker, weight float64, valid bool) error {
	if m.Kind().Space() != space {
		return fmt.Errorf("%w: %s %q in %s space", ErrKindMismatch, m.Kind(), typeName, space)
	}
	if weight < 0 {
		return fmt.Errorf("negative weight %v for %s/%s", weight, typeName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[space][typeName]
	if !ok {
		b = newBucket(false)
		r.buckets[space][typeName] = b
	}
	if _, dup := b.entries[name]; dup {
		return fmt.Errorf("%w: %q already registered under %s", ErrDuplicate, name, typeName)
	}
	b.add(&Entry{Name: name, Maker: m, Weight: weight, Valid: valid})
	return nil
}

// #endregion register

// #region lookup

// Has reports whether typeName exists in space.
func (r *Registry) Has(space Space, typeName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.buckets[space][typeName]
	return ok
}

// Get returns the instance registered as name.
func (r *Registry) Get(space Space, typeName, name string) (Maker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[space][typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrUnknownType, space, typeName)
	}
	e, ok := b.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q under %s", ErrUnknownName, name, typeName)
	}
	return e.Maker, nil
}

// PickRandom draws one instance of typeName weighted by registered weight.
// With validOnly only valid entries compete. Float summation ties fall through
// to the last candidate scanned.
func (r *Registry) PickRandom(space Space, typeName string, validOnly bool) (Maker, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[space][typeName]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s %q", ErrUnknownType, space, typeName)
	}
	e := r.pick(b, validOnly)
	if e == nil {
		return nil, "", fmt.Errorf("%w: no candidate under %s", ErrUnknownName, typeName)
	}
	return e.Maker, e.Name, nil
}

func (r *Registry) pick(b *bucket, validOnly bool) *Entry {
	total := b.total
	if validOnly {
		total = b.validTotal
	}
	draw := r.rng.Float64() * total
	var cum float64
	var last *Entry
	for _, name := range b.order {
		e := b.entries[name]
		if validOnly && !e.Valid {
			continue
		}
		last = e
		cum += e.Weight
		if draw < cum {
			return e
		}
	}
	return last
}

// Types lists the type names of space, sorted.
func (r *Registry) Types(space Space) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.buckets[space]))
	for t := range r.buckets[space] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Names lists the instance names of typeName in registration order.
func (r *Registry) Names(space Space, typeName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[space][typeName]
	if !ok {
		return nil
	}
	return append([]string(nil), b.order...)
}

// #endregion lookup

// #region weights

// SetWeight changes the weight of one entry and keeps the bucket totals in sync.
func (r *Registry) SetWeight(space Space, typeName, name string, weight float64) error {
	if weight < 0 {
		return fmt.Errorf("negative weight %v for %s/%s", weight, typeName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, e, err := r.entry(space, typeName, name)
	if err != nil {
		return err
	}
	b.total += weight - e.Weight
	if e.Valid {
		b.validTotal += weight - e.Weight
	}
	e.Weight = weight
	return nil
}

// SetValid flips the validity flag of one entry.
func (r *Registry) SetValid(space Space, typeName, name string, valid bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, e, err := r.entry(space, typeName, name)
	if err != nil {
		return err
	}
	if e.Valid == valid {
		return nil
	}
	if valid {
		b.validTotal += e.Weight
	} else {
		b.validTotal -= e.Weight
	}
	e.Valid = valid
	return nil
}

// TotalWeight returns the tracked total of typeName.
func (r *Registry) TotalWeight(space Space, typeName string, validOnly bool) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[space][typeName]
	if !ok {
		return 0
	}
	if validOnly {
		return b.validTotal
	}
	return b.total
}

// Weights returns the per-name weights of typeName.
func (r *Registry) Weights(space Space, typeName string) map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[space][typeName]
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(b.entries))
	for n, e := range b.entries {
		out[n] = e.Weight
	}
	return out
}

func (r *Registry) entry(space Space, typeName, name string) (*bucket, *Entry, error) {
	b, ok := r.buckets[space][typeName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s %q", ErrUnknownType, space, typeName)
	}
	e, ok := b.entries[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q under %s", ErrUnknownName, name, typeName)
	}
	return b, e, nil
}

// #endregion weights

// #region clone

// Clone duplicates one instance of typeName into a new bucket. An empty newTypeName
// becomes typeName#<n>; an empty name clones a weighted pick. Returns the new type
// name and the name of the source instance.
func (r *Registry) Clone(space Space, typeName, newTypeName, name string) (string, string, error) {
	if newTypeName == typeName {
		return "", "", fmt.Errorf("%w: clone of %s onto itself", ErrInvalidClone, typeName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.buckets[space][typeName]
	if !ok {
		return "", "", fmt.Errorf("%w: %s %q", ErrUnknownType, space, typeName)
	}
	var e *Entry
	if name == "" {
		e = r.pick(src, true)
		if e == nil {
			e = r.pick(src, false)
		}
	} else {
		e = src.entries[name]
	}
	if e == nil {
		return "", "", fmt.Errorf("%w: %q under %s", ErrUnknownName, name, typeName)
	}

	if newTypeName == "" {
		for {
			r.cloneSeq[typeName]++
			newTypeName = fmt.Sprintf("%s#%d", typeName, r.cloneSeq[typeName])
			if _, taken := r.buckets[space][newTypeName]; !taken {
				break
			}
		}
	} else if _, taken := r.buckets[space][newTypeName]; taken {
		return "", "", fmt.Errorf("%w: %s already exists", ErrInvalidClone, newTypeName)
	}

	b := newBucket(true)
	b.add(&Entry{Name: e.Name, Maker: e.Maker.Clone(), Weight: e.Weight, Valid: e.Valid})
	r.buckets[space][newTypeName] = b
	r.clones[space] = append(r.clones[space], newTypeName)
	log.Printf("[TACTICS] %s: cloned %s/%s as %s", r.name, typeName, e.Name, newTypeName)
	return newTypeName, e.Name, nil
}

// ClearClones removes every clone of space created since the last clear.
func (r *Registry) ClearClones(space Space) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.clones[space] {
		if b, ok := r.buckets[space][t]; ok && b.clone {
			cleanupBucket(b)
			delete(r.buckets[space], t)
			n++
		}
	}
	r.clones[space] = nil
	return n
}

// RemoveType removes one clone bucket. Originally registered types cannot be removed.
func (r *Registry) RemoveType(space Space, typeName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[space][typeName]
	if !ok {
		return fmt.Errorf("%w: %s %q", ErrUnknownType, space, typeName)
	}
	if !b.clone {
		return fmt.Errorf("%w: %s is not a clone", ErrInvalidClone, typeName)
	}
	cleanupBucket(b)
	delete(r.buckets[space], typeName)
	kept := r.clones[space][:0]
	for _, t := range r.clones[space] {
		if t != typeName {
			kept = append(kept, t)
		}
	}
	r.clones[space] = kept
	return nil
}

// IsClone reports whether typeName was created by Clone.
func (r *Registry) IsClone(space Space, typeName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[space][typeName]
	return ok && b.clone
}

// Teardown removes every clone and cleans up every remaining instance.
func (r *Registry) Teardown() {
	r.ClearClones(SpaceGenerator)
	r.ClearClones(SpaceDisruptor)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, types := range r.buckets {
		for _, b := range types {
			cleanupBucket(b)
		}
	}
}

func cleanupBucket(b *bucket) {
	for _, e := range b.entries {
		Cleanup(e.Maker)
	}
}

// #endregion clone

// #region clone-pattern

// SplitCloneType splits a clone-request type name "base#suffix". ok is false for plain names.
func SplitCloneType(typeName string) (string, bool) {
	i := strings.LastIndex(typeName, "#")
	if i <= 0 || i == len(typeName)-1 {
		return "", false
	}
	return typeName[:i], true
}

// #endregion clone-pattern
