package threadable

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/charmbracelet/log"
	registryidset "github.com/chirino/thread-service/internal/registry/idset"
	"github.com/chirino/thread-service/internal/registry/intids"
	"github.com/chirino/thread-service/internal/telemetry"
)

// Maintainer keeps reply and referent sets in step with the identity
// registry. It runs inline with event delivery and never reports failures
// to the dispatcher: problems are logged at debug level and counted.
//
// Ancestors are resolved from their current in-reply-to link at every step.
// If a parent is reassigned after its children were indexed, the removal
// walk follows the new chain and the old ancestors keep stale ids. Those ids
// stop resolving once the child is gone, so reads are unaffected.
type Maintainer struct {
	ids intids.Registry
}

// NewMaintainer returns a maintainer bound to ids. Subscribe it with
// ids.Subscribe to receive events.
func NewMaintainer(ids intids.Registry) *Maintainer {
	return &Maintainer{ids: ids}
}

// IntIDAdded implements intids.Subscriber.
func (m *Maintainer) IntIDAdded(ctx context.Context, ev intids.Event) {
	m.run(ctx, "added", ev.Object, ev.ID, m.add)
}

// IntIDRemoved implements intids.Subscriber.
func (m *Maintainer) IntIDRemoved(ctx context.Context, ev intids.Event) {
	m.run(ctx, "removed", ev.Object, ev.ID, m.discard)
}

// Added records obj in its parent's replies and every ancestor's referents.
func (m *Maintainer) Added(ctx context.Context, obj any) {
	if id, ok := m.idOf(obj); ok {
		m.run(ctx, "added", obj, id, m.add)
	}
}

// Removed discards obj from the sets Added populated.
func (m *Maintainer) Removed(ctx context.Context, obj any) {
	if id, ok := m.idOf(obj); ok {
		m.run(ctx, "removed", obj, id, m.discard)
	}
}

// Index is Added for an object whose id is already known. Reindexing an
// existing tree is idempotent.
func (m *Maintainer) Index(ctx context.Context, obj any, id int64) {
	m.run(ctx, "index", obj, id, m.add)
}

func (m *Maintainer) idOf(obj any) (int64, bool) {
	if m.ids == nil {
		telemetry.CountMaintenance("lookup", "skipped")
		return 0, false
	}
	id, ok := m.ids.QueryID(obj)
	if !ok {
		log.Debug("thread maintenance skipped: object has no id", "type", fmt.Sprintf("%T", obj))
		telemetry.CountMaintenance("lookup", "skipped")
	}
	return id, ok
}

type step func(ctx context.Context, s registryidset.Set, id int64) error

func (m *Maintainer) add(ctx context.Context, s registryidset.Set, id int64) error {
	return s.Add(ctx, id)
}

func (m *Maintainer) discard(ctx context.Context, s registryidset.Set, id int64) error {
	return registryidset.Discard(ctx, s, id)
}

func (m *Maintainer) run(ctx context.Context, event string, obj any, id int64, apply step) {
	child, ok := obj.(Threadable)
	if !ok {
		telemetry.CountMaintenance(event, "skipped")
		return
	}
	parent, ok := child.InReplyTo(true).(Threadable)
	if !ok {
		telemetry.CountMaintenance(event, "skipped")
		return
	}

	// Adding allocates sets on first use; discarding from a set that was
	// never allocated has nothing to do.
	create := event != "removed"
	var errs []error

	if replies, err := parent.ReplySet(ctx, create); err != nil {
		errs = append(errs, fmt.Errorf("reply set: %w", err))
	} else if replies != nil {
		if err := apply(ctx, replies, id); err != nil {
			errs = append(errs, fmt.Errorf("reply set: %w", err))
		}
	}

	seen := map[any]struct{}{}
	mark(seen, obj)
	for ancestor := parent; ancestor != nil; {
		if !mark(seen, ancestor) {
			log.Debug("thread maintenance stopped at a cycle", "id", id)
			break
		}
		referents, err := ancestor.ReferentSet(ctx, create)
		if err == nil && referents != nil {
			err = apply(ctx, referents, id)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("referent set: %w", err))
		}
		next, ok := ancestor.InReplyTo(true).(Threadable)
		if !ok {
			break
		}
		ancestor = next
	}

	if err := errors.Join(errs...); err != nil {
		log.Debug("thread maintenance failed", "event", event, "id", id, "err", err)
		telemetry.CountMaintenance(event, "error")
		return
	}
	telemetry.CountMaintenance(event, "ok")
}

// mark adds v to seen and reports whether it was new. Values that cannot be
// map keys are always treated as new.
func mark(seen map[any]struct{}, v any) bool {
	if !reflect.TypeOf(v).Comparable() {
		return true
	}
	if _, dup := seen[v]; dup {
		return false
	}
	seen[v] = struct{}{}
	return true
}

var _ intids.Subscriber = (*Maintainer)(nil)
