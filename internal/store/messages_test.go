package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, "workspace")
	c := seedConversation(t, s, p.ID, "thread")

	t.Run("user message", func(t *testing.T) {
		m := &Message{ConversationID: c.ID, Role: RoleUser, Content: "hello there"}
		require.NoError(t, s.CreateMessage(ctx, m))
		assert.NotEmpty(t, m.ID)
		assert.Positive(t, m.Seq)
	})

	t.Run("assistant message with usage", func(t *testing.T) {
		m := &Message{
			ConversationID:   c.ID,
			Role:             RoleAssistant,
			Content:          "hi",
			Model:            "qwen2.5",
			PromptTokens:     12,
			CompletionTokens: 3,
			FinishReason:     FinishStop,
		}
		require.NoError(t, s.CreateMessage(ctx, m))

		got, err := s.GetMessage(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, 12, got.PromptTokens)
		assert.Equal(t, FinishStop, got.FinishReason)
	})

	t.Run("unknown role", func(t *testing.T) {
		err := s.CreateMessage(ctx, &Message{ConversationID: c.ID, Role: "narrator", Content: "x"})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("missing conversation", func(t *testing.T) {
		err := s.CreateMessage(ctx, &Message{ConversationID: "ghost", Role: RoleUser, Content: "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty content", func(t *testing.T) {
		err := s.CreateMessage(ctx, &Message{ConversationID: c.ID, Role: RoleUser, Content: " "})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestListMessagesOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, "workspace")
	c := seedConversation(t, s, p.ID, "thread")

	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateMessage(ctx, &Message{
			ConversationID: c.ID, Role: RoleUser, Content: fmt.Sprintf("message %d", i),
		}))
	}

	messages, err := s.ListMessages(ctx, c.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 5)
	for i, m := range messages {
		assert.Equal(t, fmt.Sprintf("message %d", i), m.Content)
	}
}

func TestListRecentMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, "workspace")
	c := seedConversation(t, s, p.ID, "thread")

	for i := 0; i < 10; i++ {
		require.NoError(t, s.CreateMessage(ctx, &Message{
			ConversationID: c.ID, Role: RoleUser, Content: fmt.Sprintf("message %d", i),
		}))
	}

	// The window holds the newest three, oldest of the three first.
	recent, err := s.ListRecentMessages(ctx, c.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "message 7", recent[0].Content)
	assert.Equal(t, "message 9", recent[2].Content)
}

func TestCountAndDeleteMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s, "workspace")
	c := seedConversation(t, s, p.ID, "thread")

	m := &Message{ConversationID: c.ID, Role: RoleUser, Content: "to be removed"}
	require.NoError(t, s.CreateMessage(ctx, m))

	n, err := s.CountMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DeleteMessage(ctx, m.ID))

	n, err = s.CountMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, s.DeleteMessage(ctx, m.ID), ErrNotFound)
	_, err = s.GetMessage(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
