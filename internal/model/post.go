package model

import (
	"sync"
	"time"

	"github.com/chirino/thread-service/internal/threadable"
)

// PostListMode selects which posts ListPosts returns.
type PostListMode string

const (
	ListModeAll   PostListMode = "all"
	ListModeRoots PostListMode = "roots"
)

// Post is a message that takes part in a reply thread.
type Post struct {
	*threadable.Thread

	Author    string
	CreatedAt time.Time

	mu         sync.RWMutex
	body       string
	modifiedAt time.Time
}

// NewPost returns an unpersisted post. Its thread links may still be set by
// an import until MarkPersisted is called.
func NewPost(env threadable.Env, author, body string, createdAt time.Time) *Post {
	return &Post{
		Thread:    threadable.New(env),
		Author:    author,
		CreatedAt: createdAt,
		body:      body,
	}
}

func (p *Post) Body() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.body
}

// SetBody replaces the body and records the modification time.
func (p *Post) SetBody(body string, at time.Time) {
	p.mu.Lock()
	p.body = body
	p.modifiedAt = at
	p.mu.Unlock()
}

// MarkPersisted stamps the first modification time. Later calls keep the
// existing stamp.
func (p *Post) MarkPersisted(at time.Time) {
	p.mu.Lock()
	if p.modifiedAt.IsZero() {
		p.modifiedAt = at
	}
	p.mu.Unlock()
}

// CreatedTime orders replies for MostRecentReply.
func (p *Post) CreatedTime() time.Time {
	return p.CreatedAt
}

// LastModified is zero until the post is persisted. Thread links are frozen
// once it is set.
func (p *Post) LastModified() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modifiedAt
}

var (
	_ threadable.Threadable = (*Post)(nil)
	_ threadable.Created    = (*Post)(nil)
)
