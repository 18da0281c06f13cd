package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/llm"
	"github.com/kilnworks/loom/internal/sanitize"
	"github.com/kilnworks/loom/internal/store"
)

// titleExcerptRunes caps how much of each message feeds the title
// prompt.
const titleExcerptRunes = 400

// titleMaxRunes caps a generated title. Matches the HTTP layer's limit
// on explicit titles.
const titleMaxRunes = 200

const titleSystemPrompt = "You name chat conversations. Reply with a short title " +
	"for the exchange, at most six words, no quotes, no trailing punctuation."

// Completer is the blocking completion surface used for title
// generation. *llm.Client implements it; a Streamer without it skips
// titling.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (*llm.Completion, error)
}

// AutoTitle replaces a conversation's placeholder title with one
// generated from its opening exchange. It reports whether the title
// changed so the caller can drop cached copies. Failures are logged
// and reported as no change.
func (s *Service) AutoTitle(ctx context.Context, conversationID string) bool {
	comp, ok := s.llm.(Completer)
	if !ok {
		return false
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil || conv.Title != store.DefaultConversationTitle {
		return false
	}

	history, err := s.store.ListRecentMessages(ctx, conv.ID, 4)
	if err != nil || len(history) == 0 {
		return false
	}

	var excerpt strings.Builder
	for _, m := range history {
		fmt.Fprintf(&excerpt, "%s: %s\n", m.Role, sanitize.Text(m.Content, titleExcerptRunes))
	}

	prompt := []llm.Message{
		{Role: store.RoleSystem, Content: titleSystemPrompt},
		s.outbound(store.RoleUser, excerpt.String()),
	}
	res, err := comp.Complete(ctx, prompt)
	if err != nil {
		s.logger.Warn(ctx, "title generation failed", zap.Error(err))
		return false
	}

	title := cleanTitle(res.Content)
	if title == "" {
		return false
	}

	conv.Title = title
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		s.logger.Warn(ctx, "saving generated title", zap.Error(err))
		return false
	}
	s.events.ConversationUpdated(conv.ID)
	s.logger.Info(ctx, "conversation titled",
		zap.String("conversation_id", conv.ID),
		zap.String("title", title))
	return true
}

// cleanTitle flattens model output into a single plausible title line:
// first line only, surrounding quotes and trailing punctuation dropped,
// whitespace collapsed.
func cleanTitle(raw string) string {
	title := sanitize.Text(raw, titleMaxRunes)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.Join(strings.Fields(title), " ")
	title = strings.Trim(title, `"'`)
	title = strings.TrimRight(title, ".!")
	return strings.TrimSpace(title)
}
