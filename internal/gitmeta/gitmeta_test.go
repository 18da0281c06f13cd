package gitmeta

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/loom/internal/config"
)

func initRepo(t *testing.T, remoteURL string) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	if remoteURL != "" {
		_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
			Name: "origin",
			URLs: []string{remoteURL},
		})
		require.NoError(t, err)
	}
	return dir
}

func TestDetect(t *testing.T) {
	t.Run("https remote", func(t *testing.T) {
		dir := initRepo(t, "https://github.com/kilnworks/loom.git")

		info, err := Detect(dir)
		require.NoError(t, err)
		assert.Equal(t, "https://github.com/kilnworks/loom.git", info.RemoteURL)
		assert.Equal(t, "kilnworks", info.Owner)
		assert.Equal(t, "loom", info.Repo)
		assert.Equal(t, "kilnworks/loom", info.DefaultName())
		assert.True(t, info.IsGitHub())
	})

	t.Run("ssh remote", func(t *testing.T) {
		dir := initRepo(t, "git@github.com:kilnworks/loom.git")

		info, err := Detect(dir)
		require.NoError(t, err)
		assert.Equal(t, "kilnworks/loom", info.DefaultName())
		assert.True(t, info.IsGitHub())
	})

	t.Run("non-github host", func(t *testing.T) {
		dir := initRepo(t, "https://gitlab.example.com/infra/tools.git")

		info, err := Detect(dir)
		require.NoError(t, err)
		assert.Equal(t, "infra/tools", info.DefaultName())
		assert.False(t, info.IsGitHub())
	})

	t.Run("no origin remote", func(t *testing.T) {
		dir := initRepo(t, "")

		_, err := Detect(dir)
		require.ErrorIs(t, err, ErrNoRemote)
	})

	t.Run("not a repository", func(t *testing.T) {
		_, err := Detect(t.TempDir())
		require.ErrorIs(t, err, ErrNotRepo)
	})
}

func TestParseOwnerRepo(t *testing.T) {
	tests := []struct {
		remote string
		owner  string
		repo   string
	}{
		{"https://github.com/kilnworks/loom.git", "kilnworks", "loom"},
		{"https://github.com/kilnworks/loom", "kilnworks", "loom"},
		{"git@github.com:kilnworks/loom.git", "kilnworks", "loom"},
		{"git@github.com:kilnworks/loom", "kilnworks", "loom"},
		{"ssh://git@github.com/kilnworks/loom.git", "kilnworks", "loom"},
		{"https://gitlab.com/group/subgroup/project.git", "group", "subgroup/project"},
		{"/srv/git/bare.git", "", ""},
		{"", "", ""},
	}
	for _, tt := range tests {
		owner, repo := parseOwnerRepo(tt.remote)
		assert.Equal(t, tt.owner, owner, "remote %q", tt.remote)
		assert.Equal(t, tt.repo, repo, "remote %q", tt.remote)
	}
}

func TestNewGitHubClient(t *testing.T) {
	ctx := context.Background()

	t.Run("requires token", func(t *testing.T) {
		_, err := NewGitHubClient(ctx, config.Secret(""))
		require.Error(t, err)
	})

	t.Run("with token", func(t *testing.T) {
		client, err := NewGitHubClient(ctx, config.Secret("ghp_test"))
		require.NoError(t, err)
		assert.NotNil(t, client)
	})
}

func TestDescribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/kilnworks/loom" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"name":"loom","description":"local chat assistant backend"}`)
	}))
	defer srv.Close()

	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	desc, err := Describe(context.Background(), client, "kilnworks", "loom")
	require.NoError(t, err)
	assert.Equal(t, "local chat assistant backend", desc)

	_, err = Describe(context.Background(), client, "kilnworks", "ghost")
	require.Error(t, err)
}
