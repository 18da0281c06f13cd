package cache

import (
	"context"
	"time"

	"github.com/kilnworks/loom/internal/store"
)

// Lookups is a read-through cache over the hot store reads: project by
// id and conversation by id. Handlers that mutate either entity must
// call the matching invalidation method or reads may serve stale rows
// for up to the TTL.
type Lookups struct {
	store         *store.Store
	projects      *Cache[*store.Project]
	conversations *Cache[*store.Conversation]
}

// NewLookups builds the read-through layer. A maxEntries of 0 turns
// both caches into pass-throughs.
func NewLookups(s *store.Store, ttl time.Duration, maxEntries int) *Lookups {
	l := &Lookups{
		store:         s,
		projects:      New[*store.Project](ttl, maxEntries),
		conversations: New[*store.Conversation](ttl, maxEntries),
	}
	if maxEntries > 0 {
		l.projects.SetMetrics(NewMetrics("projects"))
		l.conversations.SetMetrics(NewMetrics("conversations"))
	}
	return l
}

// Project returns the project, from cache when fresh. Errors from the
// store, including store.ErrNotFound, are never cached.
func (l *Lookups) Project(ctx context.Context, id string) (*store.Project, error) {
	if p, ok := l.projects.Get(id); ok {
		return p, nil
	}

	p, err := l.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	l.projects.Set(id, p)
	return p, nil
}

// Conversation returns the conversation, from cache when fresh.
func (l *Lookups) Conversation(ctx context.Context, id string) (*store.Conversation, error) {
	if c, ok := l.conversations.Get(id); ok {
		return c, nil
	}

	c, err := l.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	l.conversations.Set(id, c)
	return c, nil
}

// InvalidateProject drops the cached project after an update.
func (l *Lookups) InvalidateProject(id string) {
	l.projects.Delete(id)
}

// InvalidateConversation drops the cached conversation after an update,
// touch, or delete.
func (l *Lookups) InvalidateConversation(id string) {
	l.conversations.Delete(id)
}

// PurgeProject drops the project and clears the conversation cache.
// Deleting a project soft-deletes its conversations, so any cached
// conversation could now be stale.
func (l *Lookups) PurgeProject(id string) {
	l.projects.Delete(id)
	l.conversations.Clear()
}

// Reset clears both caches.
func (l *Lookups) Reset() {
	l.projects.Clear()
	l.conversations.Clear()
}

// LookupCounters reports per-cache activity for the stats endpoint.
type LookupCounters struct {
	Projects      Counters `json:"projects"`
	Conversations Counters `json:"conversations"`
}

// Counters returns a snapshot of both caches.
func (l *Lookups) Counters() LookupCounters {
	return LookupCounters{
		Projects:      l.projects.Counters(),
		Conversations: l.conversations.Counters(),
	}
}
