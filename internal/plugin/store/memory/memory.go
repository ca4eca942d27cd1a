// Package memory keeps posts as live objects in the identity registry. The
// registry is the catalog: creating a post registers it and deleting one
// unregisters it, which drives thread maintenance.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/thread-service/internal/config"
	"github.com/chirino/thread-service/internal/externalize"
	"github.com/chirino/thread-service/internal/model"
	"github.com/chirino/thread-service/internal/oid"
	"github.com/chirino/thread-service/internal/registry/intids"
	registrystore "github.com/chirino/thread-service/internal/registry/store"
	"github.com/chirino/thread-service/internal/threadable"
	"github.com/chirino/thread-service/internal/wref"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "memory",
		Loader: func(ctx context.Context) (registrystore.PostStore, error) {
			ids := intids.FromContext(ctx)
			if ids == nil {
				return nil, fmt.Errorf("memory store: no identity registry in context")
			}
			cfg := config.FromContext(ctx)
			if cfg == nil {
				def := config.DefaultConfig()
				cfg = &def
			}
			return New(ids, OptionsFromConfig(cfg))
		},
	})
}

// Options tunes the store.
type Options struct {
	Cache                  wref.CacheOptions
	WriteMissingReferences bool
	MaxBodyLength          int
	// Now stamps creation and modification times. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig maps service config onto store options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Cache: wref.CacheOptions{
			Enabled:  cfg.RefCacheEnabled,
			TTL:      cfg.RefCacheTTL,
			MaxItems: cfg.RefCacheMaxItems,
		},
		WriteMissingReferences: cfg.WriteMissingReferences,
		MaxBodyLength:          cfg.MaxPostBodyLength,
	}
}

// Store implements registrystore.PostStore.
type Store struct {
	ids        intids.Registry
	refs       *wref.Factory
	maintainer *threadable.Maintainer
	bridge     *externalize.Bridge
	env        threadable.Env
	opts       Options
}

// New wires a reference factory and a thread maintainer to ids and returns
// a store over it.
func New(ids intids.Registry, opts Options) (*Store, error) {
	refs, err := wref.NewFactory(ids, opts.Cache)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	maintainer := threadable.NewMaintainer(ids)
	ids.Subscribe(refs)
	ids.Subscribe(maintainer)
	return &Store{
		ids:        ids,
		refs:       refs,
		maintainer: maintainer,
		bridge:     externalize.New(externalize.IntIDOIDs{IDs: ids}, opts.WriteMissingReferences),
		env:        threadable.Env{IDs: ids, Refs: refs},
		opts:       opts,
	}, nil
}

// Close releases the reference cache.
func (s *Store) Close() {
	s.refs.Close()
}

func (s *Store) validateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return &registrystore.ValidationError{Field: "body", Message: "must not be empty"}
	}
	if s.opts.MaxBodyLength > 0 && len(body) > s.opts.MaxBodyLength {
		return &registrystore.ValidationError{Field: "body", Message: fmt.Sprintf("exceeds %d bytes", s.opts.MaxBodyLength)}
	}
	return nil
}

func threadFields(inReplyTo *string, references []string) map[string]any {
	ext := map[string]any{}
	if inReplyTo != nil {
		ext[externalize.KeyInReplyTo] = *inReplyTo
	}
	if references != nil {
		ext[externalize.KeyReferences] = references
	}
	return ext
}

// importError maps bridge failures onto store errors.
func importError(err error) error {
	var unknown *externalize.UnknownOIDError
	var invalid *externalize.InvalidValueError
	switch {
	case errors.As(err, &unknown):
		return &registrystore.ValidationError{Field: "inReplyTo/references", Message: err.Error()}
	case errors.As(err, &invalid):
		return &registrystore.ValidationError{Field: invalid.Key, Message: err.Error()}
	}
	return err
}

func (s *Store) CreatePost(ctx context.Context, req registrystore.CreatePostRequest) (*registrystore.PostDetail, error) {
	if err := s.validateBody(req.Body); err != nil {
		return nil, err
	}
	now := s.opts.Now()
	p := model.NewPost(s.env, req.Author, req.Body, now)
	if _, err := s.bridge.UpdateFromExternal(p, threadFields(req.InReplyTo, req.References)); err != nil {
		return nil, importError(err)
	}
	id, err := s.ids.Register(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("register post: %w", err)
	}
	p.MarkPersisted(now)
	log.Debug("post created", "id", id, "reply", p.InReplyToRef() != nil)
	return s.detail(ctx, p, id)
}

// lookup resolves an external id to a stored post.
func (s *Store) lookup(id string) (*model.Post, int64, error) {
	intID, missing, err := oid.Parse(id)
	if err != nil || missing {
		return nil, 0, &registrystore.NotFoundError{Resource: "post", ID: id}
	}
	obj, ok := s.ids.QueryObject(intID)
	if !ok {
		return nil, 0, &registrystore.NotFoundError{Resource: "post", ID: id}
	}
	p, ok := obj.(*model.Post)
	if !ok {
		return nil, 0, &registrystore.NotFoundError{Resource: "post", ID: id}
	}
	return p, intID, nil
}

func (s *Store) GetPost(ctx context.Context, id string) (*registrystore.PostDetail, error) {
	p, intID, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, p, intID)
}

func (s *Store) ListPosts(ctx context.Context, mode model.PostListMode) ([]registrystore.PostDetail, error) {
	switch mode {
	case "", model.ListModeAll, model.ListModeRoots:
	default:
		return nil, &registrystore.ValidationError{Field: "mode", Message: fmt.Sprintf("unknown list mode %q", mode)}
	}
	out := []registrystore.PostDetail{}
	for _, ev := range s.ids.All() {
		p, ok := ev.Object.(*model.Post)
		if !ok {
			continue
		}
		if mode == model.ListModeRoots && p.InReplyToRef() != nil {
			continue
		}
		d, err := s.detail(ctx, p, ev.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (s *Store) UpdatePost(ctx context.Context, id string, req registrystore.UpdatePostRequest) (*registrystore.PostDetail, error) {
	p, intID, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if req.Body != nil {
		if err := s.validateBody(*req.Body); err != nil {
			return nil, err
		}
	}
	if req.InReplyTo != nil || req.References != nil {
		applied, err := s.bridge.UpdateFromExternal(p, threadFields(req.InReplyTo, req.References))
		if err != nil {
			return nil, importError(err)
		}
		if !applied {
			log.Debug("thread fields ignored on stored post", "id", intID)
		}
	}
	if req.Body != nil {
		p.SetBody(*req.Body, s.opts.Now())
	}
	return s.detail(ctx, p, intID)
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	p, _, err := s.lookup(id)
	if err != nil {
		return err
	}
	var notRegistered *intids.NotRegisteredError
	if err := s.ids.Unregister(ctx, p); err != nil {
		if errors.As(err, &notRegistered) {
			return &registrystore.NotFoundError{Resource: "post", ID: id}
		}
		return err
	}
	// The post is gone either way; leftover set storage is only logged.
	if err := p.ReleaseSets(ctx); err != nil {
		log.Warn("Failed to release thread sets of deleted post", "id", id, "err", err)
	}
	return nil
}

func (s *Store) listResolving(ctx context.Context, r *intids.Resolving) ([]registrystore.PostDetail, error) {
	out := []registrystore.PostDetail{}
	for intID, obj := range r.All() {
		p, ok := obj.(*model.Post)
		if !ok {
			continue
		}
		d, err := s.detail(ctx, p, intID)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (s *Store) ListReplies(ctx context.Context, id string) ([]registrystore.PostDetail, error) {
	p, _, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	replies, err := p.Replies(ctx)
	if err != nil {
		return nil, err
	}
	return s.listResolving(ctx, replies)
}

func (s *Store) ListReferents(ctx context.Context, id string) ([]registrystore.PostDetail, error) {
	p, _, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	referents, err := p.Referents(ctx)
	if err != nil {
		return nil, err
	}
	return s.listResolving(ctx, referents)
}

func (s *Store) MostRecentReply(ctx context.Context, id string) (*registrystore.PostDetail, error) {
	p, _, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	obj, err := p.MostRecentReply(ctx)
	if err != nil {
		return nil, err
	}
	reply, ok := obj.(*model.Post)
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "reply", ID: id}
	}
	replyID, ok := s.ids.QueryID(reply)
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "reply", ID: id}
	}
	return s.detail(ctx, reply, replyID)
}

func (s *Store) Reindex(ctx context.Context) (int, error) {
	n := 0
	for _, ev := range s.ids.All() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, ok := ev.Object.(*model.Post); !ok {
			continue
		}
		s.maintainer.Index(ctx, ev.Object, ev.ID)
		n++
	}
	log.Info("Reindexed threads", "posts", n)
	return n, nil
}

func (s *Store) detail(ctx context.Context, p *model.Post, id int64) (*registrystore.PostDetail, error) {
	ext := map[string]any{}
	if err := s.bridge.ToExternal(p, ext); err != nil {
		return nil, err
	}
	d := &registrystore.PostDetail{
		ID:        oid.Format(id),
		Author:    p.Author,
		Body:      p.Body(),
		InReplyTo: stringPtr(ext[externalize.KeyInReplyTo]),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.LastModified(),
	}
	refs, _ := ext[externalize.KeyReferences].([]any)
	d.References = make([]*string, 0, len(refs))
	for _, r := range refs {
		d.References = append(d.References, stringPtr(r))
	}
	replies, err := p.Replies(ctx)
	if err != nil {
		return nil, err
	}
	referents, err := p.Referents(ctx)
	if err != nil {
		return nil, err
	}
	d.ReplyCount = replies.Len()
	d.ReferentCount = referents.Len()
	return d, nil
}

func stringPtr(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

var _ registrystore.PostStore = (*Store)(nil)
