package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrSessionActive is returned by Begin when a generation is already in
// flight for the session id.
var ErrSessionActive = errors.New("a generation is already in flight for this session")

// Session is one in-flight generation. Cancelling its context aborts
// the upstream stream.
type Session struct {
	ID             string
	ConversationID string
	StartedAt      time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the session is cancelled or the parent
// request ends.
func (s *Session) Context() context.Context { return s.ctx }

// Sessions tracks in-flight generations, at most one per session id.
type Sessions struct {
	mu     sync.Mutex
	active map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions() *Sessions {
	return &Sessions{active: make(map[string]*Session)}
}

// Begin registers a generation under the session id and derives its
// context from parent. The caller must End the session when the
// generation finishes, however it finishes.
func (r *Sessions) Begin(parent context.Context, sessionID, conversationID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[sessionID]; exists {
		return nil, ErrSessionActive
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:             sessionID,
		ConversationID: conversationID,
		StartedAt:      time.Now(),
		ctx:            ctx,
		cancel:         cancel,
	}
	r.active[sessionID] = s
	return s, nil
}

// End unregisters the session and releases its context.
func (r *Sessions) End(s *Session) {
	r.mu.Lock()
	delete(r.active, s.ID)
	r.mu.Unlock()
	s.cancel()
}

// Cancel aborts the session's generation if one is in flight and
// reports whether it found one. An unknown id is not an error: the
// cancel request races normal completion.
func (r *Sessions) Cancel(sessionID string) bool {
	r.mu.Lock()
	s, ok := r.active[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	return true
}

// Active returns the number of in-flight generations.
func (r *Sessions) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// SessionInfo is a point-in-time view of an in-flight generation.
type SessionInfo struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	StartedAt      time.Time `json:"started_at"`
}

// Snapshot lists in-flight generations, oldest first.
func (r *Sessions) Snapshot() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(r.active))
	for _, s := range r.active {
		infos = append(infos, SessionInfo{
			ID:             s.ID,
			ConversationID: s.ConversationID,
			StartedAt:      s.StartedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartedAt.Before(infos[j].StartedAt) })
	return infos
}
