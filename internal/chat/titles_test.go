package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/loom/internal/llm"
	"github.com/kilnworks/loom/internal/store"
)

// completingStreamer extends fakeStreamer with the blocking completion
// surface the titler upgrades to.
type completingStreamer struct {
	fakeStreamer
	completion  string
	completeErr error

	mu      sync.Mutex
	calls   int
	prompts [][]llm.Message
}

func (f *completingStreamer) Complete(_ context.Context, messages []llm.Message) (*llm.Completion, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, messages)
	f.mu.Unlock()
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &llm.Completion{Content: f.completion, FinishReason: store.FinishStop}, nil
}

func (f *completingStreamer) completeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func seedTurn(t *testing.T, st *store.Store, conversationID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateMessage(ctx, &store.Message{
		ConversationID: conversationID,
		Role:           store.RoleUser,
		Content:        "why does my goroutine leak on cancel?",
	}))
	require.NoError(t, st.CreateMessage(ctx, &store.Message{
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        "The receiver never drains the channel.",
		FinishReason:   store.FinishStop,
	}))
}

func TestAutoTitle(t *testing.T) {
	streamer := &completingStreamer{completion: "\"Goroutine leak on cancel.\"\nAnything after the first line is noise."}
	svc, st, _ := newTestService(t, streamer, nil)

	ctx := context.Background()
	conv := &store.Conversation{ProjectID: firstProjectID(t, st), Title: store.DefaultConversationTitle}
	require.NoError(t, st.CreateConversation(ctx, conv))
	seedTurn(t, st, conv.ID)

	assert.True(t, svc.AutoTitle(ctx, conv.ID))

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Goroutine leak on cancel", got.Title)

	require.Equal(t, 1, streamer.completeCalls())
	prompt := streamer.prompts[0]
	require.Len(t, prompt, 2)
	assert.Equal(t, store.RoleSystem, prompt[0].Role)
	assert.Contains(t, prompt[1].Content, "goroutine leak")
}

func TestAutoTitleSkipsCustomTitle(t *testing.T) {
	streamer := &completingStreamer{completion: "Should not be used"}
	svc, st, conv := newTestService(t, streamer, nil)
	seedTurn(t, st, conv.ID)

	assert.False(t, svc.AutoTitle(context.Background(), conv.ID))
	assert.Zero(t, streamer.completeCalls())

	got, err := st.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "chat", got.Title)
}

func TestAutoTitleSkipsWithoutCompleter(t *testing.T) {
	svc, st, _ := newTestService(t, &fakeStreamer{}, nil)

	ctx := context.Background()
	conv := &store.Conversation{ProjectID: firstProjectID(t, st), Title: store.DefaultConversationTitle}
	require.NoError(t, st.CreateConversation(ctx, conv))
	seedTurn(t, st, conv.ID)

	assert.False(t, svc.AutoTitle(ctx, conv.ID))
}

func TestAutoTitleSkipsEmptyConversation(t *testing.T) {
	streamer := &completingStreamer{completion: "Should not be used"}
	svc, st, _ := newTestService(t, streamer, nil)

	ctx := context.Background()
	conv := &store.Conversation{ProjectID: firstProjectID(t, st), Title: store.DefaultConversationTitle}
	require.NoError(t, st.CreateConversation(ctx, conv))

	assert.False(t, svc.AutoTitle(ctx, conv.ID))
	assert.Zero(t, streamer.completeCalls())
}

func TestAutoTitleCompletionFailure(t *testing.T) {
	streamer := &completingStreamer{completeErr: errors.New("model offline")}
	svc, st, _ := newTestService(t, streamer, nil)

	ctx := context.Background()
	conv := &store.Conversation{ProjectID: firstProjectID(t, st), Title: store.DefaultConversationTitle}
	require.NoError(t, st.CreateConversation(ctx, conv))
	seedTurn(t, st, conv.ID)

	assert.False(t, svc.AutoTitle(ctx, conv.ID))

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultConversationTitle, got.Title)
}

func TestAutoTitleMissingConversation(t *testing.T) {
	streamer := &completingStreamer{completion: "unused"}
	svc, _, _ := newTestService(t, streamer, nil)

	assert.False(t, svc.AutoTitle(context.Background(), "9b1d9c1e-0000-4000-8000-000000000000"))
	assert.Zero(t, streamer.completeCalls())
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "Fixing a goroutine leak", "Fixing a goroutine leak"},
		{"quoted with period", `"Fixing a goroutine leak."`, "Fixing a goroutine leak"},
		{"multi line", "Leak hunt\nLonger explanation below", "Leak hunt"},
		{"collapsed whitespace", "  Leak \t hunt  ", "Leak hunt"},
		{"single quotes and bang", "'Ship it!'", "Ship it"},
		{"empty", "   \n  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanTitle(tt.raw))
		})
	}
}

func firstProjectID(t *testing.T, st *store.Store) string {
	t.Helper()
	projects, err := st.ListProjects(context.Background(), 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, projects)
	return projects[0].ID
}
