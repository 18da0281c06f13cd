package httpapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/loom/internal/store"
)

func TestProjectCRUD(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/projects", map[string]string{
		"name":        "  demo  ",
		"description": "scratch space",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	created := decode[store.Project](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "demo", created.Name, "name is sanitized before persistence")

	t.Run("duplicate name conflicts", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"name": "demo"}, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "name_taken", errorCode(t, rec))
	})

	t.Run("empty name rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/projects", map[string]string{"name": "   "}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_request", errorCode(t, rec))
	})

	t.Run("get", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/projects/"+created.ID, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "demo", decode[store.Project](t, rec).Name)
	})

	t.Run("list", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/projects", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]store.Project](t, rec), 1)
	})

	t.Run("patch updates only provided fields", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/api/v1/projects/"+created.ID, map[string]string{
			"description": "renamed scratch space",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		updated := decode[store.Project](t, rec)
		assert.Equal(t, "demo", updated.Name)
		assert.Equal(t, "renamed scratch space", updated.Description)
	})

	t.Run("patch unknown project", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/api/v1/projects/ghost", map[string]string{"name": "x"}, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/api/v1/projects/"+created.ID, nil, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do(t, http.MethodGet, "/api/v1/projects/"+created.ID, nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, "the cache does not serve deleted projects")

		f.indexer.mu.Lock()
		defer f.indexer.mu.Unlock()
		assert.Equal(t, []string{created.ID}, f.indexer.removedProjects, "project vectors are removed")
	})
}

func TestProjectCreateFromRepo(t *testing.T) {
	f := newAPIFixture(t, nil)

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{"https://github.com/kilnworks/loom.git"},
	})
	require.NoError(t, err)

	t.Run("name and remote derived", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/projects", map[string]string{
			"repo_path": dir,
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
		created := decode[store.Project](t, rec)
		assert.Equal(t, "kilnworks/loom", created.Name)
		assert.Equal(t, "https://github.com/kilnworks/loom.git", created.RepoRemote)
		assert.Equal(t, dir, created.RepoPath)
	})

	t.Run("explicit name wins", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/projects", map[string]string{
			"name":      "my fork",
			"repo_path": dir,
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		created := decode[store.Project](t, rec)
		assert.Equal(t, "my fork", created.Name)
		assert.Equal(t, "https://github.com/kilnworks/loom.git", created.RepoRemote)
	})

	t.Run("non-repo path still needs a name", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/projects", map[string]string{
			"repo_path": t.TempDir(),
		}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestConversationCRUD(t *testing.T) {
	f := newAPIFixture(t, nil)
	project := f.seedProject(t, "demo")

	rec := f.do(t, http.MethodPost, "/api/v1/conversations", map[string]string{
		"project_id":    project.ID,
		"title":         "planning",
		"system_prompt": "You are terse.",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	created := decode[store.Conversation](t, rec)
	assert.Equal(t, project.ID, created.ProjectID)
	assert.Equal(t, "planning", created.Title)

	t.Run("empty title gets a default", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/conversations", map[string]string{
			"project_id": project.ID,
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "New conversation", decode[store.Conversation](t, rec).Title)
	})

	t.Run("unknown project", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/conversations", map[string]string{
			"project_id": "ghost",
			"title":      "orphan",
		}, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing project_id", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/conversations", map[string]string{"title": "x"}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list requires project_id", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/conversations", nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodGet, "/api/v1/conversations?project_id="+project.ID, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]store.Conversation](t, rec), 2)
	})

	t.Run("patch", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/api/v1/conversations/"+created.ID, map[string]string{
			"title": "planning v2",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		updated := decode[store.Conversation](t, rec)
		assert.Equal(t, "planning v2", updated.Title)
		assert.Equal(t, "You are terse.", updated.SystemPrompt, "untouched fields survive")
	})

	t.Run("delete", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/api/v1/conversations/"+created.ID, nil, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do(t, http.MethodGet, "/api/v1/conversations/"+created.ID, nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMessageRoutes(t *testing.T) {
	f := newAPIFixture(t, nil)
	project := f.seedProject(t, "demo")
	conv := f.seedConversation(t, project.ID, "chat")

	ctx := context.Background()
	first := &store.Message{ConversationID: conv.ID, Role: store.RoleUser, Content: "hello"}
	require.NoError(t, f.st.CreateMessage(ctx, first))
	second := &store.Message{ConversationID: conv.ID, Role: store.RoleAssistant, Content: "hi there"}
	require.NoError(t, f.st.CreateMessage(ctx, second))

	t.Run("list in order", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		messages := decode[[]store.Message](t, rec)
		require.Len(t, messages, 2)
		assert.Equal(t, "hello", messages[0].Content)
		assert.Equal(t, "hi there", messages[1].Content)
	})

	t.Run("list for unknown conversation", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/conversations/ghost/messages", nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete message", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/api/v1/messages/"+second.ID, nil, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = f.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", nil, nil)
		assert.Len(t, decode[[]store.Message](t, rec), 1)
	})
}

func TestSearchRoutes(t *testing.T) {
	f := newAPIFixture(t, nil)
	project := f.seedProject(t, "demo")
	conv := f.seedConversation(t, project.ID, "chat")

	ctx := context.Background()
	require.NoError(t, f.st.CreateMessage(ctx, &store.Message{
		ConversationID: conv.ID, Role: store.RoleUser, Content: "how do goroutines leak",
	}))
	doc := &store.Document{
		ProjectID: project.ID, Name: "notes.md", SHA256: "abc123",
		Content: "goroutine leaks come from forgotten channels",
	}
	require.NoError(t, f.st.CreateDocument(ctx, doc))

	t.Run("messages by default", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/search?q=goroutines", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[struct {
			Type    string             `json:"type"`
			Results []store.MessageHit `json:"results"`
		}](t, rec)
		assert.Equal(t, "messages", resp.Type)
		require.Len(t, resp.Results, 1)
		assert.Contains(t, resp.Results[0].Content, "goroutines leak")
	})

	t.Run("documents", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/search?q=channels&type=documents", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[struct {
			Results []store.DocumentHit `json:"results"`
		}](t, rec)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, doc.ID, resp.Results[0].ID)
	})

	t.Run("no hits is an empty array", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/search?q=zeppelin", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"results":[]`)
	})

	t.Run("missing query", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/search", nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown type", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/search?q=x&type=everything", nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
