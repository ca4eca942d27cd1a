package badger

import (
	"context"
	"sync"
	"testing"

	registryidset "github.com/chirino/thread-service/internal/registry/idset"
	"github.com/stretchr/testify/require"
)

func openInMemory(t *testing.T) *Factory {
	t.Helper()
	f, err := Open(Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestBadgerSetOrdersIDsNumerically(t *testing.T) {
	ctx := context.Background()
	s, err := openInMemory(t).NewSet(ctx, "t1/replies")
	require.NoError(t, err)

	for _, id := range []int64{300, -2, 7, 256, 0} {
		require.NoError(t, s.Add(ctx, id))
	}
	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{-2, 0, 7, 256, 300}, ids)
}

func TestBadgerSetRemoveAndDiscard(t *testing.T) {
	ctx := context.Background()
	s, err := openInMemory(t).NewSet(ctx, "t1/referents")
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, 1))
	require.NoError(t, s.Remove(ctx, 1))
	require.ErrorIs(t, s.Remove(ctx, 1), registryidset.ErrNotMember)
	require.NoError(t, registryidset.Discard(ctx, s, 1))

	ok, err := s.Contains(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBadgerSetsAreIsolatedByName(t *testing.T) {
	ctx := context.Background()
	f := openInMemory(t)

	outer, err := f.NewSet(ctx, "a")
	require.NoError(t, err)
	inner, err := f.NewSet(ctx, "a/replies")
	require.NoError(t, err)
	other, err := f.NewSet(ctx, "b/replies")
	require.NoError(t, err)

	require.NoError(t, inner.Add(ctx, 5))
	require.NoError(t, other.Add(ctx, 6))

	n, err := outer.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	ids, err := inner.IDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{5}, ids)
}

func TestBadgerSetNamespacesDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	f := openInMemory(t)
	g := &Factory{db: f.db, namespace: "other"}

	a, err := f.NewSet(ctx, "x/replies")
	require.NoError(t, err)
	b, err := g.NewSet(ctx, "x/replies")
	require.NoError(t, err)

	require.NoError(t, a.Add(ctx, 1))
	ok, err := b.Contains(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBadgerSetConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s, err := openInMemory(t).NewSet(ctx, "t2/referents")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := int64(0); i < 40; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			require.NoError(t, s.Add(ctx, id))
		}(i)
	}
	wg.Wait()

	n, err := s.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 40, n)
}

func TestBadgerSetPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	f, err := Open(Options{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	s, err := f.NewSet(ctx, "t3/replies")
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, 42))
	require.NoError(t, f.Close())

	f, err = Open(Options{Path: dir})
	require.NoError(t, err)
	defer f.Close()
	s, err = f.NewSet(ctx, "t3/replies")
	require.NoError(t, err)
	ok, err := s.Contains(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBadgerSetClearKeepsNestedSets(t *testing.T) {
	ctx := context.Background()
	f := openInMemory(t)

	outer, err := f.NewSet(ctx, "a")
	require.NoError(t, err)
	inner, err := f.NewSet(ctx, "a/replies")
	require.NoError(t, err)
	require.NoError(t, outer.Add(ctx, 1))
	require.NoError(t, outer.Add(ctx, 2))
	require.NoError(t, inner.Add(ctx, 3))

	require.NoError(t, registryidset.Clear(ctx, outer))

	n, err := outer.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	ids, err := inner.IDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{3}, ids)
}

func TestBadgerSetUpdateHonorsCancellation(t *testing.T) {
	s, err := openInMemory(t).NewSet(context.Background(), "t1/replies")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Add(ctx, 1), context.Canceled)

	ok, err := s.Contains(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, ok)
}
