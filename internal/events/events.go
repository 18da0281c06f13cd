// Package events runs the daemon's lifecycle bus: an embedded NATS
// server bound to loopback, a publisher for store/chat/ingest changes,
// and an SSE relay so UIs can follow everything live.
package events

import (
	"strings"
	"time"
)

// Subjects carry one event kind each. The feed relays FeedSubject.
const (
	FeedSubject = "loom.>"

	SubjectProjectCreated      = "loom.store.project.created"
	SubjectProjectUpdated      = "loom.store.project.updated"
	SubjectProjectDeleted      = "loom.store.project.deleted"
	SubjectConversationCreated = "loom.store.conversation.created"
	SubjectConversationUpdated = "loom.store.conversation.updated"
	SubjectConversationDeleted = "loom.store.conversation.deleted"
	SubjectMessageCreated      = "loom.store.message.created"
	SubjectDocumentUploaded    = "loom.store.document.uploaded"
	SubjectDocumentDeleted     = "loom.store.document.deleted"

	SubjectDocumentIndexed = "loom.ingest.document.indexed"
	SubjectDocumentFailed  = "loom.ingest.document.failed"

	SubjectChatStarted   = "loom.chat.session.started"
	SubjectChatEnded     = "loom.chat.session.ended"
	SubjectChatCancelled = "loom.chat.session.cancelled"
)

// Event is the JSON envelope published for every lifecycle change.
// Only the ids relevant to the event type are set.
type Event struct {
	Type           string    `json:"type"`
	ProjectID      string    `json:"project_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	DocumentID     string    `json:"document_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	At             time.Time `json:"at"`
}

// EventType derives the envelope type from a subject, e.g.
// "loom.store.project.created" -> "store.project.created".
func EventType(subject string) string {
	return strings.TrimPrefix(subject, "loom.")
}
