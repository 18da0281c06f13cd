package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLookupsProjectReadThrough(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &store.Project{Name: "alpha"}
	require.NoError(t, s.CreateProject(ctx, p))

	l := NewLookups(s, time.Minute, 16)

	got, err := l.Project(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)

	// Second read comes from cache. Rename the row behind the cache's
	// back to prove it.
	p.Name = "renamed"
	require.NoError(t, s.UpdateProject(ctx, p))

	got, err = l.Project(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)

	counters := l.Counters()
	assert.Equal(t, uint64(1), counters.Projects.Hits)
	assert.Equal(t, uint64(1), counters.Projects.Misses)
}

func TestLookupsInvalidateProject(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &store.Project{Name: "alpha"}
	require.NoError(t, s.CreateProject(ctx, p))

	l := NewLookups(s, time.Minute, 16)

	_, err := l.Project(ctx, p.ID)
	require.NoError(t, err)

	p.Name = "renamed"
	require.NoError(t, s.UpdateProject(ctx, p))
	l.InvalidateProject(p.ID)

	got, err := l.Project(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestLookupsNotFoundNotCached(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	l := NewLookups(s, time.Minute, 16)

	_, err := l.Project(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Creating the project afterwards must be visible immediately.
	p := &store.Project{Name: "late"}
	require.NoError(t, s.CreateProject(ctx, p))

	got, err := l.Project(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "late", got.Name)
}

func TestLookupsConversationReadThrough(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &store.Project{Name: "alpha"}
	require.NoError(t, s.CreateProject(ctx, p))
	c := &store.Conversation{ProjectID: p.ID, Title: "thread"}
	require.NoError(t, s.CreateConversation(ctx, c))

	l := NewLookups(s, time.Minute, 16)

	got, err := l.Conversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "thread", got.Title)

	c.Title = "renamed"
	require.NoError(t, s.UpdateConversation(ctx, c))

	got, err = l.Conversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "thread", got.Title, "stale read expected before invalidation")

	l.InvalidateConversation(c.ID)
	got, err = l.Conversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
}

func TestLookupsPurgeProject(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &store.Project{Name: "alpha"}
	require.NoError(t, s.CreateProject(ctx, p))
	c := &store.Conversation{ProjectID: p.ID, Title: "thread"}
	require.NoError(t, s.CreateConversation(ctx, c))

	l := NewLookups(s, time.Minute, 16)

	_, err := l.Project(ctx, p.ID)
	require.NoError(t, err)
	_, err = l.Conversation(ctx, c.ID)
	require.NoError(t, err)

	// Deleting the project cascades to its conversations. The cache
	// must not keep serving either entity.
	require.NoError(t, s.DeleteProject(ctx, p.ID))
	l.PurgeProject(p.ID)

	_, err = l.Project(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = l.Conversation(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLookupsDisabled(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &store.Project{Name: "alpha"}
	require.NoError(t, s.CreateProject(ctx, p))

	l := NewLookups(s, time.Minute, 0)

	got, err := l.Project(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)

	// Every read goes to the store when disabled.
	p.Name = "renamed"
	require.NoError(t, s.UpdateProject(ctx, p))

	got, err = l.Project(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}
