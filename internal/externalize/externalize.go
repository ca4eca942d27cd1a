// Package externalize converts thread state to and from the transfer map
// used by callers: key "inReplyTo" holds nil or an id string, key
// "references" holds a list of the same.
package externalize

import (
	"fmt"
	"time"

	"github.com/chirino/thread-service/internal/oid"
	"github.com/chirino/thread-service/internal/registry/intids"
	"github.com/chirino/thread-service/internal/threadable"
	"github.com/chirino/thread-service/internal/wref"
)

const (
	KeyInReplyTo  = "inReplyTo"
	KeyReferences = "references"
)

// ResolutionError means a live linked object has no external id.
type ResolutionError struct {
	Object any
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unable to create external reference for %T", e.Object)
}

// UnknownOIDError means an imported id does not name a known object.
type UnknownOIDError struct {
	OID string
	Err error
}

func (e *UnknownOIDError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unknown object id %q: %v", e.OID, e.Err)
	}
	return fmt.Sprintf("unknown object id %q", e.OID)
}

func (e *UnknownOIDError) Unwrap() error { return e.Err }

// InvalidValueError means an imported key held a value of the wrong shape.
type InvalidValueError struct {
	Key   string
	Value any
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s value of type %T", e.Key, e.Value)
}

// LastModifier is implemented by objects that carry a persistence time.
// A non-zero time closes thread linkage to further imports.
type LastModifier interface {
	LastModified() time.Time
}

// ThreadWriteGate lets an object suppress the thread keys on export.
type ThreadWriteGate interface {
	CanWriteThreads() bool
}

// MissingReferencePolicy lets an object choose whether deleted targets are
// exported as missing placeholders or as nil.
type MissingReferencePolicy interface {
	WriteMissingReferences() bool
}

// OIDResolver maps objects to external ids and back. FromOID reports
// missing for a well-formed placeholder of a deleted object.
type OIDResolver interface {
	ToOID(obj any) (string, bool)
	FromOID(s string) (obj any, missing bool, err error)
}

// IntIDOIDs derives external ids from identity registry ids.
type IntIDOIDs struct {
	IDs intids.Registry
}

func (r IntIDOIDs) ToOID(obj any) (string, bool) {
	id, ok := r.IDs.QueryID(obj)
	if !ok {
		return "", false
	}
	return oid.Format(id), true
}

func (r IntIDOIDs) FromOID(s string) (any, bool, error) {
	id, missing, err := oid.Parse(s)
	if err != nil {
		return nil, false, &UnknownOIDError{OID: s, Err: err}
	}
	if missing {
		return nil, true, nil
	}
	obj, ok := r.IDs.QueryObject(id)
	if !ok {
		return nil, false, &UnknownOIDError{OID: s}
	}
	return obj, false, nil
}

// Bridge reads and writes the thread keys of a transfer map.
type Bridge struct {
	oids         OIDResolver
	writeMissing bool
}

// New returns a bridge. writeMissing is the default for objects that do not
// implement MissingReferencePolicy.
func New(oids OIDResolver, writeMissing bool) *Bridge {
	return &Bridge{oids: oids, writeMissing: writeMissing}
}

// ToExternal writes inReplyTo and references into ext.
func (b *Bridge) ToExternal(t threadable.Threadable, ext map[string]any) error {
	if g, ok := t.(ThreadWriteGate); ok && !g.CanWriteThreads() {
		return nil
	}
	writeMissing := b.writeMissing
	if p, ok := t.(MissingReferencePolicy); ok {
		writeMissing = p.WriteMissingReferences()
	}

	parent, err := b.ref(t.InReplyTo(true), t.InReplyToRef(), writeMissing)
	if err != nil {
		return err
	}
	refs := t.ReferenceRefs()
	list := make([]any, 0, len(refs))
	for _, r := range refs {
		v, err := b.ref(r.Resolve(), r, writeMissing)
		if err != nil {
			return err
		}
		list = append(list, v)
	}
	ext[KeyInReplyTo] = parent
	ext[KeyReferences] = list
	return nil
}

// ref distinguishes never linked (nil ref), linked and live, and linked to
// something deleted.
func (b *Bridge) ref(obj any, r wref.Ref, writeMissing bool) (any, error) {
	if obj != nil {
		s, ok := b.oids.ToOID(obj)
		if !ok || s == "" {
			return nil, &ResolutionError{Object: obj}
		}
		return s, nil
	}
	if r == nil || !writeMissing {
		return nil, nil
	}
	if m, ok := r.(wref.MissingRef); ok {
		if s, ok := m.MissingID(); ok {
			return s, nil
		}
	}
	return nil, nil
}

// CanUpdate reports whether imports may still change t's linkage.
func CanUpdate(t threadable.Threadable) bool {
	if lm, ok := t.(LastModifier); ok {
		return lm.LastModified().IsZero()
	}
	return true
}

// UpdateFromExternal removes the thread keys from parsed and applies them to
// t. Every id is resolved before t is touched, so a failed import changes
// nothing. It returns false without error when t no longer accepts thread
// updates.
func (b *Bridge) UpdateFromExternal(t threadable.Threadable, parsed map[string]any) (bool, error) {
	rawParent := parsed[KeyInReplyTo]
	rawRefs := parsed[KeyReferences]
	delete(parsed, KeyInReplyTo)
	delete(parsed, KeyReferences)

	parent, err := b.resolve(KeyInReplyTo, rawParent)
	if err != nil {
		return false, err
	}
	refs, err := b.resolveList(rawRefs)
	if err != nil {
		return false, err
	}

	if !CanUpdate(t) {
		return false, nil
	}
	t.SetInReplyTo(parent)
	t.ClearReferences()
	for _, r := range refs {
		t.AddReference(r)
	}
	return true, nil
}

func (b *Bridge) resolve(key string, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		if x == "" {
			return nil, nil
		}
		obj, missing, err := b.oids.FromOID(x)
		if err != nil {
			return nil, err
		}
		if missing {
			return nil, nil
		}
		return obj, nil
	case bool, float64, int, int64, map[string]any, []any:
		return nil, &InvalidValueError{Key: key, Value: v}
	default:
		return v, nil
	}
}

func (b *Bridge) resolveList(v any) ([]any, error) {
	var raw []any
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		raw = x
	case []string:
		raw = make([]any, len(x))
		for i, s := range x {
			raw[i] = s
		}
	default:
		return nil, &InvalidValueError{Key: KeyReferences, Value: v}
	}
	out := make([]any, 0, len(raw))
	for _, item := range raw {
		obj, err := b.resolve(KeyReferences, item)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			out = append(out, obj)
		}
	}
	return out, nil
}
