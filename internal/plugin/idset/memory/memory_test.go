package memory

import (
	"context"
	"sync"
	"testing"

	registryidset "github.com/chirino/thread-service/internal/registry/idset"
	"github.com/stretchr/testify/require"
)

func TestSetAddRemove(t *testing.T) {
	ctx := context.Background()
	s := NewSet()

	require.NoError(t, s.Add(ctx, 5))
	require.NoError(t, s.Add(ctx, 1))
	require.NoError(t, s.Add(ctx, 5))

	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 5}, ids)

	require.NoError(t, s.Remove(ctx, 1))
	require.ErrorIs(t, s.Remove(ctx, 1), registryidset.ErrNotMember)

	ok, err := s.Contains(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDiscardIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewSet()
	require.NoError(t, s.Add(ctx, 9))

	require.NoError(t, registryidset.Discard(ctx, s, 9))
	require.NoError(t, registryidset.Discard(ctx, s, 9))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDiscardFallsBackToRemove(t *testing.T) {
	ctx := context.Background()
	// Embedding the interface hides the Discarder method set.
	var s registryidset.Set = struct{ registryidset.Set }{NewSet()}
	_, isDiscarder := s.(registryidset.Discarder)
	require.False(t, isDiscarder)

	require.NoError(t, s.Add(ctx, 2))
	require.NoError(t, registryidset.Discard(ctx, s, 2))
	require.NoError(t, registryidset.Discard(ctx, s, 2))
}

func TestFactorySharesSetsByName(t *testing.T) {
	ctx := context.Background()
	f := NewFactory()

	a, err := f.NewSet(ctx, "x/replies")
	require.NoError(t, err)
	b, err := f.NewSet(ctx, "x/replies")
	require.NoError(t, err)
	c, err := f.NewSet(ctx, "y/replies")
	require.NoError(t, err)

	require.NoError(t, a.Add(ctx, 4))
	ok, err := b.Contains(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.Contains(ctx, 4)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConcurrentMutationsConverge(t *testing.T) {
	ctx := context.Background()
	s := NewSet()
	for i := int64(0); i < 100; i++ {
		require.NoError(t, s.Add(ctx, i))
	}

	var wg sync.WaitGroup
	for i := int64(0); i < 100; i++ {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			_ = s.Add(ctx, id+100)
		}(i)
		go func(id int64) {
			defer wg.Done()
			_ = s.Discard(ctx, id)
		}(i)
	}
	wg.Wait()

	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 100)
	require.Equal(t, int64(100), ids[0])
	require.Equal(t, int64(199), ids[99])
}

func TestClearDropsNamedSet(t *testing.T) {
	ctx := context.Background()
	f := NewFactory()

	s, err := f.NewSet(ctx, "x/replies")
	require.NoError(t, err)
	_, err = f.NewSet(ctx, "x/referents")
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, 3))
	require.Equal(t, 2, f.Len())

	require.NoError(t, registryidset.Clear(ctx, s))
	require.Equal(t, 1, f.Len())
	n, err := s.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	again, err := f.NewSet(ctx, "x/replies")
	require.NoError(t, err)
	require.NotSame(t, s, again)
	ok, err := again.Contains(ctx, 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClearFallsBackToDiscard(t *testing.T) {
	ctx := context.Background()
	var s registryidset.Set = struct{ registryidset.Set }{NewSet()}
	require.NoError(t, s.Add(ctx, 1))
	require.NoError(t, s.Add(ctx, 2))

	require.NoError(t, registryidset.Clear(ctx, s))
	n, err := s.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
