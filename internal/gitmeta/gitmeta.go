// Package gitmeta derives project identity from a git checkout: the
// origin remote URL, a default owner/repo project name, and optionally
// the repository description from the GitHub API.
package gitmeta

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/kilnworks/loom/internal/config"
)

var (
	// ErrNotRepo indicates the path is not a git repository.
	ErrNotRepo = errors.New("not a git repository")

	// ErrNoRemote indicates the repository has no origin remote.
	ErrNoRemote = errors.New("no origin remote")
)

// Info is the identity of a repository checkout.
type Info struct {
	RemoteURL string
	Owner     string
	Repo      string
}

// Detect opens the repository at path and reads its origin remote.
// Owner and Repo are parsed from the remote URL and may be empty for
// hosts with unrecognized URL shapes.
func Detect(path string) (*Info, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepo, path)
		}
		return nil, fmt.Errorf("gitmeta: open %s: %w", path, err)
	}

	remote, err := repo.Remote("origin")
	if err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoRemote, path)
		}
		return nil, fmt.Errorf("gitmeta: origin remote: %w", err)
	}

	urls := remote.Config().URLs
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRemote, path)
	}

	info := &Info{RemoteURL: urls[0]}
	info.Owner, info.Repo = parseOwnerRepo(info.RemoteURL)
	return info, nil
}

// DefaultName returns the project name implied by the remote:
// "owner/repo" when both are known, empty when neither parsed.
func (i *Info) DefaultName() string {
	switch {
	case i == nil:
		return ""
	case i.Owner != "" && i.Repo != "":
		return i.Owner + "/" + i.Repo
	default:
		return i.Repo
	}
}

// IsGitHub reports whether the origin remote points at github.com.
func (i *Info) IsGitHub() bool {
	return i != nil && strings.Contains(i.RemoteURL, "github.com")
}

// Remote URL shapes: git@host:owner/repo.git and
// scheme://host/owner/repo.git, with the .git suffix optional.
var (
	scpRemote = regexp.MustCompile(`^[\w.-]+@[\w.-]+:([^/]+)/(.+?)(?:\.git)?$`)
	urlRemote = regexp.MustCompile(`^(?:https?|ssh|git)://(?:[^/@]+@)?[\w.-]+(?::\d+)?/([^/]+)/(.+?)(?:\.git)?/?$`)
)

func parseOwnerRepo(remote string) (owner, repo string) {
	for _, re := range []*regexp.Regexp{scpRemote, urlRemote} {
		if m := re.FindStringSubmatch(remote); len(m) == 3 {
			return m[1], m[2]
		}
	}
	return "", ""
}

// NewGitHubClient builds an authenticated GitHub API client.
func NewGitHubClient(ctx context.Context, token config.Secret) (*github.Client, error) {
	if !token.IsSet() {
		return nil, errors.New("gitmeta: github token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	return github.NewClient(oauth2.NewClient(ctx, ts)), nil
}

// Describe fetches the repository description from the GitHub API.
func Describe(ctx context.Context, client *github.Client, owner, repo string) (string, error) {
	r, _, err := client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("gitmeta: repository %s/%s: %w", owner, repo, err)
	}
	return r.GetDescription(), nil
}
