package intids

import "iter"

// Resolving is a lazy view over a snapshot of ids. Objects are looked up on
// iteration; ids that no longer resolve are skipped.
type Resolving struct {
	reg Registry
	ids []int64
}

// NewResolving wraps ids for lazy resolution against reg.
func NewResolving(reg Registry, ids []int64) *Resolving {
	return &Resolving{reg: reg, ids: ids}
}

// IDs returns the raw snapshot, including ids that may no longer resolve.
func (r *Resolving) IDs() []int64 {
	if r == nil {
		return nil
	}
	return r.ids
}

// All yields each resolvable id with its object.
func (r *Resolving) All() iter.Seq2[int64, any] {
	return func(yield func(int64, any) bool) {
		if r == nil || r.reg == nil {
			return
		}
		for _, id := range r.ids {
			obj, ok := r.reg.QueryObject(id)
			if !ok {
				continue
			}
			if !yield(id, obj) {
				return
			}
		}
	}
}

// Objects resolves the whole snapshot eagerly.
func (r *Resolving) Objects() []any {
	var out []any
	for _, obj := range r.All() {
		out = append(out, obj)
	}
	return out
}

// Len counts the ids that currently resolve.
func (r *Resolving) Len() int {
	n := 0
	for range r.All() {
		n++
	}
	return n
}
