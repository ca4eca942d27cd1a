package redis

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/chirino/thread-service/internal/config"
	registryidset "github.com/chirino/thread-service/internal/registry/idset"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registryidset.Register(registryidset.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registryidset.Factory, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis sets: THREAD_SERVICE_REDIS_URL is required")
	}
	return LoadFromURL(ctx, cfg.RedisURL, cfg.ResolvedSetNamespace())
}

// LoadFromURL creates a set factory from a Redis-compatible URL.
func LoadFromURL(ctx context.Context, redisURL string, namespace string) (*Factory, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis sets: invalid URL: %w", err)
	}
	return LoadFromOptions(ctx, opts, namespace)
}

// LoadFromOptions creates a set factory from go-redis Options.
func LoadFromOptions(ctx context.Context, opts *goredis.Options, namespace string) (*Factory, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis sets: ping failed: %w", err)
	}
	return &Factory{client: client, namespace: namespace}, nil
}

// Factory maps each named set to a Redis SET. SADD and SREM on distinct
// members commute, so concurrent maintenance passes never lose updates.
type Factory struct {
	client    *goredis.Client
	namespace string
}

func (f *Factory) NewSet(_ context.Context, name string) (registryidset.Set, error) {
	return &redisSet{client: f.client, key: setKey(f.namespace, name)}, nil
}

// Close releases the underlying client.
func (f *Factory) Close() error {
	return f.client.Close()
}

func setKey(namespace, name string) string {
	if namespace == "" {
		return fmt.Sprintf("thread-sets:%s", name)
	}
	return fmt.Sprintf("thread-sets:%s:%s", namespace, name)
}

type redisSet struct {
	client *goredis.Client
	key    string
}

func member(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (s *redisSet) Add(ctx context.Context, id int64) error {
	return s.client.SAdd(ctx, s.key, member(id)).Err()
}

func (s *redisSet) Remove(ctx context.Context, id int64) error {
	n, err := s.client.SRem(ctx, s.key, member(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return registryidset.ErrNotMember
	}
	return nil
}

func (s *redisSet) Discard(ctx context.Context, id int64) error {
	return s.client.SRem(ctx, s.key, member(id)).Err()
}

func (s *redisSet) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *redisSet) Contains(ctx context.Context, id int64) (bool, error) {
	return s.client.SIsMember(ctx, s.key, member(id)).Result()
}

func (s *redisSet) Len(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *redisSet) IDs(ctx context.Context) ([]int64, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis sets: corrupt member %q in %s: %w", m, s.key, err)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

var (
	_ registryidset.Factory   = (*Factory)(nil)
	_ registryidset.Set       = (*redisSet)(nil)
	_ registryidset.Discarder = (*redisSet)(nil)
	_ registryidset.Clearer   = (*redisSet)(nil)
)
