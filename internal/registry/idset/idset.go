package idset

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotMember is returned by Set.Remove when the id is not in the set.
var ErrNotMember = errors.New("id is not a member of the set")

// Set is a conflict-tolerant set of integer ids. Implementations must let
// concurrent Add and Remove calls for distinct members commute: no update may
// be lost when independent callers mutate the same logical set without a
// shared lock.
type Set interface {
	Add(ctx context.Context, id int64) error
	// Remove deletes id, returning ErrNotMember if it was absent.
	Remove(ctx context.Context, id int64) error
	Contains(ctx context.Context, id int64) (bool, error)
	Len(ctx context.Context) (int, error)
	// IDs returns the members in ascending order.
	IDs(ctx context.Context) ([]int64, error)
}

// Discarder is implemented by sets that can remove a member without
// reporting whether it was present.
type Discarder interface {
	Discard(ctx context.Context, id int64) error
}

// Discard removes id from s. Absence is not an error: sets that only offer
// Remove have their ErrNotMember swallowed.
func Discard(ctx context.Context, s Set, id int64) error {
	if d, ok := s.(Discarder); ok {
		return d.Discard(ctx, id)
	}
	if err := s.Remove(ctx, id); err != nil && !errors.Is(err, ErrNotMember) {
		return err
	}
	return nil
}

// Clearer is implemented by sets that can drop every member at once and
// release the storage held for the set's name.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Clear empties s. Sets without Clearer are emptied member by member.
func Clear(ctx context.Context, s Set) error {
	if c, ok := s.(Clearer); ok {
		return c.Clear(ctx)
	}
	ids, err := s.IDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := Discard(ctx, s, id); err != nil {
			return err
		}
	}
	return nil
}

// Factory creates named sets. Two calls with the same name address the same
// logical set for persistent backends.
type Factory interface {
	NewSet(ctx context.Context, name string) (Set, error)
}

type factoryKey struct{}

// WithFactoryContext returns a new context carrying the given Factory.
func WithFactoryContext(ctx context.Context, f Factory) context.Context {
	return context.WithValue(ctx, factoryKey{}, f)
}

// FactoryFromContext retrieves the Factory from the context.
// Returns nil if none was set.
func FactoryFromContext(ctx context.Context) Factory {
	f, _ := ctx.Value(factoryKey{}).(Factory)
	return f
}

// Loader creates a set factory from config.
type Loader func(ctx context.Context) (Factory, error)

// Plugin represents a set backend plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a set backend plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered set backend names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named set backend.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown set backend %q; valid: %v", name, Names())
}
