package metrics

import (
	"context"
	"time"

	"github.com/chirino/thread-service/internal/model"
	registrystore "github.com/chirino/thread-service/internal/registry/store"
	"github.com/chirino/thread-service/internal/telemetry"
)

// Wrap returns a PostStore that records StoreLatency for every operation.
func Wrap(inner registrystore.PostStore) registrystore.PostStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner registrystore.PostStore
}

func observe(op string, start time.Time) {
	if telemetry.StoreLatency == nil {
		return
	}
	telemetry.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) CreatePost(ctx context.Context, req registrystore.CreatePostRequest) (*registrystore.PostDetail, error) {
	defer observe("create_post", time.Now())
	return m.inner.CreatePost(ctx, req)
}

func (m *metricsStore) GetPost(ctx context.Context, id string) (*registrystore.PostDetail, error) {
	defer observe("get_post", time.Now())
	return m.inner.GetPost(ctx, id)
}

func (m *metricsStore) ListPosts(ctx context.Context, mode model.PostListMode) ([]registrystore.PostDetail, error) {
	defer observe("list_posts", time.Now())
	return m.inner.ListPosts(ctx, mode)
}

func (m *metricsStore) UpdatePost(ctx context.Context, id string, req registrystore.UpdatePostRequest) (*registrystore.PostDetail, error) {
	defer observe("update_post", time.Now())
	return m.inner.UpdatePost(ctx, id, req)
}

func (m *metricsStore) DeletePost(ctx context.Context, id string) error {
	defer observe("delete_post", time.Now())
	return m.inner.DeletePost(ctx, id)
}

func (m *metricsStore) ListReplies(ctx context.Context, id string) ([]registrystore.PostDetail, error) {
	defer observe("list_replies", time.Now())
	return m.inner.ListReplies(ctx, id)
}

func (m *metricsStore) ListReferents(ctx context.Context, id string) ([]registrystore.PostDetail, error) {
	defer observe("list_referents", time.Now())
	return m.inner.ListReferents(ctx, id)
}

func (m *metricsStore) MostRecentReply(ctx context.Context, id string) (*registrystore.PostDetail, error) {
	defer observe("most_recent_reply", time.Now())
	return m.inner.MostRecentReply(ctx, id)
}

func (m *metricsStore) Reindex(ctx context.Context) (int, error) {
	defer observe("reindex", time.Now())
	return m.inner.Reindex(ctx)
}
