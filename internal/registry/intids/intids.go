// Package intids declares the identity registry: the catalog that gives every
// live object a stable integer id and announces when objects enter or leave
// it.
package intids

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	registryidset "github.com/chirino/thread-service/internal/registry/idset"
)

// ErrNotPointer is returned when registering a value that is not a non-nil
// pointer. Identity is pointer identity.
var ErrNotPointer = errors.New("intids: object must be a non-nil pointer")

// NotRegisteredError reports an object that has no id.
type NotRegisteredError struct {
	Object any
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("intids: %T is not registered", e.Object)
}

// ObjectMissingError reports an id that no longer maps to a live object.
type ObjectMissingError struct {
	ID int64
}

func (e *ObjectMissingError) Error() string {
	return fmt.Sprintf("intids: no object with id %d", e.ID)
}

// Event is delivered to subscribers when an object gains or loses its id.
type Event struct {
	Object any
	ID     int64
}

// Subscriber receives lifecycle events synchronously from the dispatching
// goroutine. IntIDRemoved runs while the object is still registered.
type Subscriber interface {
	IntIDAdded(ctx context.Context, ev Event)
	IntIDRemoved(ctx context.Context, ev Event)
}

// Registry assigns ids to objects and dispatches lifecycle events.
type Registry interface {
	// Register assigns an id to obj and notifies subscribers. Registering an
	// object twice returns its existing id without a second event.
	Register(ctx context.Context, obj any) (int64, error)
	// Unregister notifies subscribers and then forgets obj.
	Unregister(ctx context.Context, obj any) error

	GetID(obj any) (int64, error)
	QueryID(obj any) (int64, bool)
	GetObject(id int64) (any, error)
	QueryObject(id int64) (any, bool)

	// NewSet returns a conflict-tolerant id set suitable for concurrent
	// maintenance.
	NewSet(ctx context.Context, name string) (registryidset.Set, error)

	Subscribe(s Subscriber)
	Len() int
	// All lists registered objects in id order.
	All() []Event
}

// CheckPointer returns ErrNotPointer unless obj is a non-nil pointer.
func CheckPointer(obj any) error {
	if obj == nil {
		return ErrNotPointer
	}
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return ErrNotPointer
	}
	return nil
}

type registryKey struct{}

// WithContext returns a new context carrying the given Registry.
func WithContext(ctx context.Context, r Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, r)
}

// FromContext retrieves the Registry from the context.
// Returns nil if none was set.
func FromContext(ctx context.Context) Registry {
	r, _ := ctx.Value(registryKey{}).(Registry)
	return r
}

// Loader creates a registry from config. Set factories are taken from the
// context.
type Loader func(ctx context.Context) (Registry, error)

// Plugin represents an identity registry plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an identity registry plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered identity registry names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named identity registry.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown intids registry %q; valid: %v", name, Names())
}
