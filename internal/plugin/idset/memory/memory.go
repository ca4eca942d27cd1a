package memory

import (
	"context"
	"slices"
	"sync"

	registryidset "github.com/chirino/thread-service/internal/registry/idset"
)

func init() {
	registryidset.Register(registryidset.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registryidset.Factory, error) {
			return NewFactory(), nil
		},
	})
}

// Factory hands out process-local sets. Sets with the same name are shared.
type Factory struct {
	mu   sync.Mutex
	sets map[string]*Set
}

// NewFactory returns an empty in-memory set factory.
func NewFactory() *Factory {
	return &Factory{sets: map[string]*Set{}}
}

func (f *Factory) NewSet(_ context.Context, name string) (registryidset.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sets[name]
	if !ok {
		s = NewSet()
		s.factory, s.name = f, name
		f.sets[name] = s
	}
	return s, nil
}

// Len returns how many named sets the factory holds.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sets)
}

func (f *Factory) drop(name string, s *Set) {
	f.mu.Lock()
	if f.sets[name] == s {
		delete(f.sets, name)
	}
	f.mu.Unlock()
}

// Set is a mutex-guarded id set. The lock serializes mutations of a single
// set, which is enough for concurrent inserts and discards to converge.
type Set struct {
	mu      sync.RWMutex
	members map[int64]struct{}

	factory *Factory
	name    string
}

// NewSet returns an empty, unnamed set.
func NewSet() *Set {
	return &Set{members: map[int64]struct{}{}}
}

func (s *Set) Add(_ context.Context, id int64) error {
	s.mu.Lock()
	s.members[id] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Set) Remove(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[id]; !ok {
		return registryidset.ErrNotMember
	}
	delete(s.members, id)
	return nil
}

func (s *Set) Discard(_ context.Context, id int64) error {
	s.mu.Lock()
	delete(s.members, id)
	s.mu.Unlock()
	return nil
}

// Clear empties the set and forgets its name, so the next NewSet with the
// same name starts over.
func (s *Set) Clear(_ context.Context) error {
	s.mu.Lock()
	clear(s.members)
	s.mu.Unlock()
	if s.factory != nil {
		s.factory.drop(s.name, s)
	}
	return nil
}

func (s *Set) Contains(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	_, ok := s.members[id]
	s.mu.RUnlock()
	return ok, nil
}

func (s *Set) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members), nil
}

func (s *Set) IDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids, nil
}

var (
	_ registryidset.Set       = (*Set)(nil)
	_ registryidset.Discarder = (*Set)(nil)
	_ registryidset.Clearer   = (*Set)(nil)
	_ registryidset.Factory   = (*Factory)(nil)
)
