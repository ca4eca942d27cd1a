package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	registrystore "github.com/chirino/thread-service/internal/registry/store"
	"github.com/chirino/thread-service/internal/telemetry"
)

type stubStore struct {
	registrystore.PostStore
	deleted []string
}

func (s *stubStore) GetPost(_ context.Context, id string) (*registrystore.PostDetail, error) {
	if id == "" {
		return nil, &registrystore.NotFoundError{Resource: "post", ID: id}
	}
	return &registrystore.PostDetail{ID: id}, nil
}

func (s *stubStore) DeletePost(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func TestWrapRecordsLatencyAndPassesThrough(t *testing.T) {
	telemetry.InitMetrics(prometheus.Labels{"service": "thread-service"})
	inner := &stubStore{}
	store := Wrap(inner)
	ctx := context.Background()

	d, err := store.GetPost(ctx, "tag:thread-service:OID-0x1")
	require.NoError(t, err)
	require.Equal(t, "tag:thread-service:OID-0x1", d.ID)

	_, err = store.GetPost(ctx, "")
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))

	require.NoError(t, store.DeletePost(ctx, "tag:thread-service:OID-0x2"))
	require.Equal(t, []string{"tag:thread-service:OID-0x2"}, inner.deleted)

	// one series per operation label
	require.GreaterOrEqual(t, testutil.CollectAndCount(telemetry.StoreLatency, "thread_service_store_latency_seconds"), 2)
}
