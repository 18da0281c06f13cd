package store

import "errors"

// Sentinel errors returned by store operations.
var (
	// ErrNotFound indicates the requested row does not exist or is
	// soft-deleted.
	ErrNotFound = errors.New("store: not found")

	// ErrNameTaken indicates a project with the same name already exists.
	ErrNameTaken = errors.New("store: project name already exists")

	// ErrInvalidInput indicates a required field is missing or malformed.
	ErrInvalidInput = errors.New("store: invalid input")
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Finish reasons recorded on assistant messages.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishCancelled = "cancelled"
	FinishError     = "error"
)

// Document indexing states.
const (
	DocPending = "pending"
	DocIndexed = "indexed"
	DocFailed  = "failed"
)

// DefaultConversationTitle is the placeholder assigned when a
// conversation is created without a title. The chat service replaces it
// with a generated one after the first exchange.
const DefaultConversationTitle = "New conversation"

// Timestamps are UTC strings in SQLite datetime format
// ("2006-01-02 15:04:05").

// Project is a workspace grouping conversations and documents.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	RepoPath    string `json:"repo_path,omitempty"`
	RepoRemote  string `json:"repo_remote,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Conversation is a chat thread within a project.
type Conversation struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	Title        string `json:"title"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// Message is a single turn in a conversation. Seq orders messages within
// a conversation even when timestamps collide.
type Message struct {
	Seq              int64  `json:"-"`
	ID               string `json:"id"`
	ConversationID   string `json:"conversation_id"`
	Role             string `json:"role"`
	Content          string `json:"content"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	FinishReason     string `json:"finish_reason,omitempty"`
	CreatedAt        string `json:"created_at"`
}

// Document is an uploaded file attached to a project. Content holds the
// extracted text; the original bytes are not retained.
type Document struct {
	Seq         int64  `json:"-"`
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes"`
	SHA256      string `json:"sha256"`
	Content     string `json:"-"`
	Status      string `json:"status"`
	ChunkCount  int    `json:"chunk_count"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// MessageHit is a full-text search result over messages.
type MessageHit struct {
	Message
	Score float64 `json:"score"`
}

// DocumentHit is a full-text search result over documents. Snippet holds
// the matching region of the document text.
type DocumentHit struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	Name      string  `json:"name"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
	CreatedAt string  `json:"created_at"`
}

// Stats summarizes store contents for the stats endpoint.
type Stats struct {
	Projects      int   `json:"projects"`
	Conversations int   `json:"conversations"`
	Messages      int   `json:"messages"`
	Documents     int   `json:"documents"`
	SizeBytes     int64 `json:"size_bytes"`
}
