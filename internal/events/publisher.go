package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher emits lifecycle events. Publishing is best effort: failures
// are logged and never fail the operation that triggered them. A nil
// Publisher drops everything, which is how the daemon runs with events
// disabled.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewPublisher wraps a bus connection.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, logger: logger.Named("events")}
}

// Conn returns the underlying bus connection, or nil when events are
// disabled. The SSE feed subscribes through it.
func (p *Publisher) Conn() *nats.Conn {
	if p == nil {
		return nil
	}
	return p.nc
}

func (p *Publisher) publish(subject string, ev Event) {
	if p == nil || p.nc == nil {
		return
	}

	ev.Type = EventType(subject)
	ev.At = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("marshaling event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("publishing event", zap.String("subject", subject), zap.Error(err))
	}
}

func (p *Publisher) ProjectCreated(projectID string) {
	p.publish(SubjectProjectCreated, Event{ProjectID: projectID})
}

func (p *Publisher) ProjectUpdated(projectID string) {
	p.publish(SubjectProjectUpdated, Event{ProjectID: projectID})
}

func (p *Publisher) ProjectDeleted(projectID string) {
	p.publish(SubjectProjectDeleted, Event{ProjectID: projectID})
}

func (p *Publisher) ConversationCreated(projectID, conversationID string) {
	p.publish(SubjectConversationCreated, Event{ProjectID: projectID, ConversationID: conversationID})
}

func (p *Publisher) ConversationUpdated(conversationID string) {
	p.publish(SubjectConversationUpdated, Event{ConversationID: conversationID})
}

func (p *Publisher) ConversationDeleted(conversationID string) {
	p.publish(SubjectConversationDeleted, Event{ConversationID: conversationID})
}

func (p *Publisher) MessageCreated(conversationID, messageID string) {
	p.publish(SubjectMessageCreated, Event{ConversationID: conversationID, MessageID: messageID})
}

func (p *Publisher) DocumentUploaded(projectID, documentID string) {
	p.publish(SubjectDocumentUploaded, Event{ProjectID: projectID, DocumentID: documentID})
}

func (p *Publisher) DocumentDeleted(projectID, documentID string) {
	p.publish(SubjectDocumentDeleted, Event{ProjectID: projectID, DocumentID: documentID})
}

func (p *Publisher) DocumentIndexed(projectID, documentID string) {
	p.publish(SubjectDocumentIndexed, Event{ProjectID: projectID, DocumentID: documentID})
}

func (p *Publisher) DocumentFailed(projectID, documentID string) {
	p.publish(SubjectDocumentFailed, Event{ProjectID: projectID, DocumentID: documentID})
}

func (p *Publisher) ChatStarted(sessionID, conversationID string) {
	p.publish(SubjectChatStarted, Event{SessionID: sessionID, ConversationID: conversationID})
}

func (p *Publisher) ChatEnded(sessionID, conversationID string) {
	p.publish(SubjectChatEnded, Event{SessionID: sessionID, ConversationID: conversationID})
}

func (p *Publisher) ChatCancelled(sessionID, conversationID string) {
	p.publish(SubjectChatCancelled, Event{SessionID: sessionID, ConversationID: conversationID})
}
