// Package wref provides weak references: non-owning handles that remember
// the identity registry id of an object and look it up again on demand.
// A reference never keeps its target alive, and resolving one whose target
// was unregistered yields nil.
package wref

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/thread-service/internal/oid"
	"github.com/chirino/thread-service/internal/registry/intids"
	"github.com/chirino/thread-service/internal/telemetry"
	"github.com/dgraph-io/ristretto/v2"
)

// Ref resolves to its live target, or nil once the target is gone.
type Ref interface {
	Resolve() any
}

// CachingRef is a Ref that can serve resolutions from a short-lived cache.
type CachingRef interface {
	Ref
	ResolveCached(allowCached bool) any
}

// MissingRef is a Ref that can describe a deleted target. MissingID returns
// false when the reference never pointed at a registered object.
type MissingRef interface {
	MissingID() (string, bool)
}

// Resolve calls ResolveCached when r supports it and Resolve otherwise.
func Resolve(r Ref, allowCached bool) any {
	if r == nil {
		return nil
	}
	if c, ok := r.(CachingRef); ok {
		return c.ResolveCached(allowCached)
	}
	return r.Resolve()
}

// IsNil reports whether v is nil or a typed nil pointer, map, slice,
// channel, func or interface.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Wrapper creates references.
type Wrapper interface {
	Wrap(obj any) Ref
}

// CacheOptions controls the resolution cache. A disabled cache makes
// ResolveCached behave like Resolve.
type CacheOptions struct {
	Enabled  bool
	TTL      time.Duration
	MaxItems int64
}

// Factory wraps objects registered in an identity registry. It subscribes
// nothing by itself; callers hand it to Registry.Subscribe so cached entries
// are evicted when their objects are unregistered.
type Factory struct {
	ids   intids.Registry
	cache *ristretto.Cache[int64, any]
	ttl   time.Duration
}

// NewFactory builds a reference factory over ids.
func NewFactory(ids intids.Registry, opts CacheOptions) (*Factory, error) {
	f := &Factory{ids: ids, ttl: opts.TTL}
	if !opts.Enabled {
		return f, nil
	}
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[int64, any]{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("wref: create cache: %w", err)
	}
	f.cache = cache
	return f, nil
}

// Wrap returns a reference to obj, or nil for a nil obj. Objects that are not
// registered produce a reference that never resolves and has no missing
// placeholder.
func (f *Factory) Wrap(obj any) Ref {
	if IsNil(obj) {
		return nil
	}
	id, ok := f.ids.QueryID(obj)
	if !ok {
		log.Debug("wrapping unregistered object", "type", fmt.Sprintf("%T", obj))
		return &ref{f: f}
	}
	return &ref{f: f, id: id}
}

// IntIDAdded implements intids.Subscriber.
func (f *Factory) IntIDAdded(context.Context, intids.Event) {}

// IntIDRemoved drops the cached resolution for the departing id. Waiting
// flushes buffered sets so none can re-insert the entry afterwards.
func (f *Factory) IntIDRemoved(_ context.Context, ev intids.Event) {
	if f.cache != nil {
		f.cache.Del(ev.ID)
		f.cache.Wait()
	}
}

// Close stops the cache's background goroutines.
func (f *Factory) Close() {
	if f.cache != nil {
		f.cache.Close()
	}
}

func (f *Factory) lookup(id int64, allowCached bool) any {
	if allowCached && f.cache != nil {
		if obj, ok := f.cache.Get(id); ok {
			// An entry cached while the object was being unregistered
			// outlives IntIDRemoved's eviction.
			if current, registered := f.ids.QueryID(obj); registered && current == id {
				if telemetry.RefCacheHitsTotal != nil {
					telemetry.RefCacheHitsTotal.Inc()
				}
				return obj
			}
			f.cache.Del(id)
		}
		if telemetry.RefCacheMissesTotal != nil {
			telemetry.RefCacheMissesTotal.Inc()
		}
	}
	obj, ok := f.ids.QueryObject(id)
	if !ok {
		return nil
	}
	if allowCached && f.cache != nil {
		f.cache.SetWithTTL(id, obj, 1, f.ttl)
	}
	return obj
}

// ref holds only the target's id. A zero id marks a reference to an object
// that was never registered.
type ref struct {
	f  *Factory
	id int64
}

func (r *ref) Resolve() any {
	return r.ResolveCached(false)
}

func (r *ref) ResolveCached(allowCached bool) any {
	if r.id == 0 {
		return nil
	}
	return r.f.lookup(r.id, allowCached)
}

func (r *ref) MissingID() (string, bool) {
	if r.id == 0 {
		return "", false
	}
	return oid.Missing(r.id), true
}

// ID returns the target's registry id.
func (r *ref) ID() (int64, bool) {
	return r.id, r.id != 0
}

func (r *ref) String() string {
	if r.id == 0 {
		return "wref(unregistered)"
	}
	return fmt.Sprintf("wref(%d)", r.id)
}

var (
	_ CachingRef        = (*ref)(nil)
	_ MissingRef        = (*ref)(nil)
	_ Wrapper           = (*Factory)(nil)
	_ intids.Subscriber = (*Factory)(nil)
)
