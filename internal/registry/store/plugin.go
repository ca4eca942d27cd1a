package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/thread-service/internal/model"
)

// PostDetail is the external form of a post. Thread links are object ids,
// missing placeholders, or null.
type PostDetail struct {
	ID            string    `json:"id"`
	Author        string    `json:"author"`
	Body          string    `json:"body"`
	InReplyTo     *string   `json:"inReplyTo"`
	References    []*string `json:"references"`
	ReplyCount    int       `json:"replyCount"`
	ReferentCount int       `json:"referentCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CreatePostRequest creates a post, optionally as a reply.
type CreatePostRequest struct {
	Author     string   `json:"author"`
	Body       string   `json:"body"`
	InReplyTo  *string  `json:"inReplyTo"`
	References []string `json:"references"`
}

// UpdatePostRequest changes a post. Thread fields are accepted for
// symmetry with CreatePostRequest but are ignored once a post is stored.
type UpdatePostRequest struct {
	Body       *string  `json:"body"`
	InReplyTo  *string  `json:"inReplyTo"`
	References []string `json:"references"`
}

// PostStore manages posts and their thread structure.
type PostStore interface {
	CreatePost(ctx context.Context, req CreatePostRequest) (*PostDetail, error)
	GetPost(ctx context.Context, id string) (*PostDetail, error)
	ListPosts(ctx context.Context, mode model.PostListMode) ([]PostDetail, error)
	UpdatePost(ctx context.Context, id string, req UpdatePostRequest) (*PostDetail, error)
	DeletePost(ctx context.Context, id string) error

	ListReplies(ctx context.Context, id string) ([]PostDetail, error)
	ListReferents(ctx context.Context, id string) ([]PostDetail, error)
	MostRecentReply(ctx context.Context, id string) (*PostDetail, error)

	// Reindex re-runs thread maintenance for every stored post and returns
	// how many were visited.
	Reindex(ctx context.Context) (int, error)
}

// Loader creates a PostStore from config.
type Loader func(ctx context.Context) (PostStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
