// Package memory is a process-local identity registry. Ids are assigned from
// a monotonic counter and never reused.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	registryidset "github.com/chirino/thread-service/internal/registry/idset"
	"github.com/chirino/thread-service/internal/registry/intids"
)

func init() {
	intids.Register(intids.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (intids.Registry, error) {
			sets := registryidset.FactoryFromContext(ctx)
			if sets == nil {
				return nil, fmt.Errorf("memory intids: no set factory in context")
			}
			return New(sets), nil
		},
	})
}

// Registry maps pointers to ids and back.
type Registry struct {
	sets registryidset.Factory

	mu    sync.RWMutex
	next  int64
	byObj map[any]int64
	byID  map[int64]any

	subsMu sync.RWMutex
	subs   []intids.Subscriber
}

// New returns an empty registry whose sets come from sets.
func New(sets registryidset.Factory) *Registry {
	return &Registry{
		sets:  sets,
		byObj: map[any]int64{},
		byID:  map[int64]any{},
	}
}

func (r *Registry) Register(ctx context.Context, obj any) (int64, error) {
	if err := intids.CheckPointer(obj); err != nil {
		return 0, err
	}
	r.mu.Lock()
	if id, ok := r.byObj[obj]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.next++
	id := r.next
	r.byObj[obj] = id
	r.byID[id] = obj
	r.mu.Unlock()

	log.Debug("intid registered", "id", id, "type", fmt.Sprintf("%T", obj))
	ev := intids.Event{Object: obj, ID: id}
	for _, s := range r.subscribers() {
		s.IntIDAdded(ctx, ev)
	}
	return id, nil
}

func (r *Registry) Unregister(ctx context.Context, obj any) error {
	id, err := r.GetID(obj)
	if err != nil {
		return err
	}

	ev := intids.Event{Object: obj, ID: id}
	for _, s := range r.subscribers() {
		s.IntIDRemoved(ctx, ev)
	}

	r.mu.Lock()
	delete(r.byObj, obj)
	delete(r.byID, id)
	r.mu.Unlock()
	log.Debug("intid unregistered", "id", id)
	return nil
}

func (r *Registry) GetID(obj any) (int64, error) {
	if err := intids.CheckPointer(obj); err != nil {
		return 0, err
	}
	id, ok := r.QueryID(obj)
	if !ok {
		return 0, &intids.NotRegisteredError{Object: obj}
	}
	return id, nil
}

func (r *Registry) QueryID(obj any) (int64, bool) {
	if intids.CheckPointer(obj) != nil {
		return 0, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byObj[obj]
	return id, ok
}

func (r *Registry) GetObject(id int64) (any, error) {
	obj, ok := r.QueryObject(id)
	if !ok {
		return nil, &intids.ObjectMissingError{ID: id}
	}
	return obj, nil
}

func (r *Registry) QueryObject(id int64) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.byID[id]
	return obj, ok
}

func (r *Registry) NewSet(ctx context.Context, name string) (registryidset.Set, error) {
	return r.sets.NewSet(ctx, name)
}

func (r *Registry) Subscribe(s intids.Subscriber) {
	r.subsMu.Lock()
	r.subs = append(r.subs, s)
	r.subsMu.Unlock()
}

func (r *Registry) subscribers() []intids.Subscriber {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	return slices.Clone(r.subs)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) All() []intids.Event {
	r.mu.RLock()
	out := make([]intids.Event, 0, len(r.byID))
	for id, obj := range r.byID {
		out = append(out, intids.Event{Object: obj, ID: id})
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b intids.Event) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

var _ intids.Registry = (*Registry)(nil)
