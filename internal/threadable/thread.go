// Package threadable gives objects an email-style thread position: one weak
// in-reply-to link, a list of weak reference hints, and two id sets that the
// Maintainer keeps up to date as objects are registered and unregistered.
package threadable

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	registryidset "github.com/chirino/thread-service/internal/registry/idset"
	"github.com/chirino/thread-service/internal/registry/intids"
	"github.com/chirino/thread-service/internal/wref"
	"github.com/google/uuid"
)

// Threadable is the capability the Maintainer walks. *Thread implements it,
// and so does any struct that embeds a *Thread.
type Threadable interface {
	// InReplyTo resolves the parent link, or returns nil when the link is
	// unset or its target is gone.
	InReplyTo(useCache bool) any
	SetInReplyTo(parent any)
	InReplyToRef() wref.Ref
	// IsOrWasChildInThread is true once a parent or any reference hint was
	// recorded, even if the targets have since been deleted.
	IsOrWasChildInThread() bool

	AddReference(obj any)
	ClearReferences()
	References() []any
	ResolveReferences(useCache bool) []any
	ReferenceRefs() []wref.Ref

	Replies(ctx context.Context) (*intids.Resolving, error)
	Referents(ctx context.Context) (*intids.Resolving, error)
	MostRecentReply(ctx context.Context) (any, error)

	// ReplySet and ReferentSet return nil until the first member is added.
	// With create set, the set is allocated on first use.
	ReplySet(ctx context.Context, create bool) (registryidset.Set, error)
	ReferentSet(ctx context.Context, create bool) (registryidset.Set, error)
}

// Created is implemented by objects that know when they were created.
// Replies without it sort as the oldest.
type Created interface {
	CreatedTime() time.Time
}

// Env supplies the identity registry and reference factory a Thread needs.
type Env struct {
	IDs  intids.Registry
	Refs wref.Wrapper
}

// Thread holds the thread state. The zero value is not usable; use New.
type Thread struct {
	env Env
	key string

	mu         sync.Mutex
	inReplyTo  wref.Ref
	references []wref.Ref
	replies    registryidset.Set
	referents  registryidset.Set
}

// New returns an unlinked thread with a fresh key.
func New(env Env) *Thread {
	return NewWithKey(env, uuid.NewString())
}

// NewWithKey returns an unlinked thread whose id sets are named after key.
// Persistent set backends use the key to find existing members.
func NewWithKey(env Env, key string) *Thread {
	return &Thread{env: env, key: key}
}

// ThreadKey names this thread's id sets.
func (t *Thread) ThreadKey() string {
	return t.key
}

func (t *Thread) wrap(obj any) wref.Ref {
	if wref.IsNil(obj) || t.env.Refs == nil {
		return nil
	}
	return t.env.Refs.Wrap(obj)
}

func (t *Thread) InReplyTo(useCache bool) any {
	t.mu.Lock()
	r := t.inReplyTo
	t.mu.Unlock()
	if r == nil {
		return nil
	}
	return wref.Resolve(r, useCache)
}

func (t *Thread) SetInReplyTo(parent any) {
	r := t.wrap(parent)
	t.mu.Lock()
	t.inReplyTo = r
	t.mu.Unlock()
}

func (t *Thread) InReplyToRef() wref.Ref {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inReplyTo
}

func (t *Thread) IsOrWasChildInThread() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inReplyTo != nil || len(t.references) > 0
}

func (t *Thread) AddReference(obj any) {
	r := t.wrap(obj)
	if r == nil {
		return
	}
	t.mu.Lock()
	t.references = append(t.references, r)
	t.mu.Unlock()
}

func (t *Thread) ClearReferences() {
	t.mu.Lock()
	if t.references != nil {
		clear(t.references)
		t.references = t.references[:0]
	}
	t.mu.Unlock()
}

func (t *Thread) ReferenceRefs() []wref.Ref {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.references)
}

func (t *Thread) References() []any {
	return t.ResolveReferences(false)
}

func (t *Thread) ResolveReferences(useCache bool) []any {
	refs := t.ReferenceRefs()
	out := make([]any, 0, len(refs))
	for _, r := range refs {
		if obj := wref.Resolve(r, useCache); obj != nil {
			out = append(out, obj)
		}
	}
	return out
}

func (t *Thread) ReplySet(ctx context.Context, create bool) (registryidset.Set, error) {
	return t.set(ctx, &t.replies, "replies", create)
}

func (t *Thread) ReferentSet(ctx context.Context, create bool) (registryidset.Set, error) {
	return t.set(ctx, &t.referents, "referents", create)
}

// set allocates under the thread's lock so concurrent maintenance passes
// share one set instance.
func (t *Thread) set(ctx context.Context, slot *registryidset.Set, kind string, create bool) (registryidset.Set, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if *slot != nil || !create {
		return *slot, nil
	}
	if t.env.IDs == nil {
		return nil, nil
	}
	s, err := t.env.IDs.NewSet(ctx, t.key+"/"+kind)
	if err != nil {
		return nil, err
	}
	*slot = s
	return s, nil
}

// ReleaseSets empties the reply and referent sets and detaches them from
// the thread. Called once the thread's object has been unregistered; a later
// maintenance pass allocates fresh sets.
func (t *Thread) ReleaseSets(ctx context.Context) error {
	t.mu.Lock()
	sets := []registryidset.Set{t.replies, t.referents}
	t.replies, t.referents = nil, nil
	t.mu.Unlock()

	var errs []error
	for _, s := range sets {
		if s == nil {
			continue
		}
		if err := registryidset.Clear(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Thread) resolving(ctx context.Context, s registryidset.Set) (*intids.Resolving, error) {
	if s == nil {
		return intids.NewResolving(t.env.IDs, nil), nil
	}
	ids, err := s.IDs(ctx)
	if err != nil {
		return nil, err
	}
	return intids.NewResolving(t.env.IDs, ids), nil
}

func (t *Thread) Replies(ctx context.Context) (*intids.Resolving, error) {
	s, _ := t.ReplySet(ctx, false)
	return t.resolving(ctx, s)
}

func (t *Thread) Referents(ctx context.Context) (*intids.Resolving, error) {
	s, _ := t.ReferentSet(ctx, false)
	return t.resolving(ctx, s)
}

func (t *Thread) MostRecentReply(ctx context.Context) (any, error) {
	replies, err := t.Replies(ctx)
	if err != nil {
		return nil, err
	}
	var (
		best     any
		bestTime time.Time
	)
	for _, obj := range replies.All() {
		var created time.Time
		if c, ok := obj.(Created); ok {
			created = c.CreatedTime()
		}
		if best == nil || created.After(bestTime) {
			best, bestTime = obj, created
		}
	}
	return best, nil
}

var _ Threadable = (*Thread)(nil)
