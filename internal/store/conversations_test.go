package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConversation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, "workspace")

	t.Run("under live project", func(t *testing.T) {
		c := &Conversation{ProjectID: p.ID, Title: "debugging session", Model: "qwen2.5"}
		require.NoError(t, s.CreateConversation(ctx, c))
		assert.NotEmpty(t, c.ID)

		got, err := s.GetConversation(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "qwen2.5", got.Model)
	})

	t.Run("missing project", func(t *testing.T) {
		err := s.CreateConversation(ctx, &Conversation{ProjectID: "ghost", Title: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("deleted project", func(t *testing.T) {
		dead := seedProject(t, s, "dead")
		require.NoError(t, s.DeleteProject(ctx, dead.ID))
		err := s.CreateConversation(ctx, &Conversation{ProjectID: dead.ID, Title: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty title", func(t *testing.T) {
		err := s.CreateConversation(ctx, &Conversation{ProjectID: p.ID, Title: ""})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestListConversations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, "workspace")
	other := seedProject(t, s, "other")

	seedConversation(t, s, p.ID, "first")
	seedConversation(t, s, p.ID, "second")
	seedConversation(t, s, other.ID, "elsewhere")
	gone := seedConversation(t, s, p.ID, "gone")
	require.NoError(t, s.DeleteConversation(ctx, gone.ID))

	conversations, err := s.ListConversations(ctx, p.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	for _, c := range conversations {
		assert.Equal(t, p.ID, c.ProjectID)
		assert.NotEqual(t, "gone", c.Title)
	}

	t.Run("limit and offset", func(t *testing.T) {
		page, err := s.ListConversations(ctx, p.ID, 1, 1)
		require.NoError(t, err)
		assert.Len(t, page, 1)
	})
}

func TestUpdateConversation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, "workspace")
	c := seedConversation(t, s, p.ID, "old title")

	c.Title = "new title"
	c.SystemPrompt = "You are terse."
	require.NoError(t, s.UpdateConversation(ctx, c))

	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "new title", got.Title)
	assert.Equal(t, "You are terse.", got.SystemPrompt)

	assert.ErrorIs(t, s.UpdateConversation(ctx, &Conversation{ID: "ghost", Title: "x"}), ErrNotFound)
}

func TestTouchConversation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, "workspace")
	c := seedConversation(t, s, p.ID, "thread")

	require.NoError(t, s.TouchConversation(ctx, c.ID))
	assert.ErrorIs(t, s.TouchConversation(ctx, "ghost"), ErrNotFound)
}
