package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kilnworks/loom/internal/gitmeta"
	"github.com/kilnworks/loom/internal/sanitize"
	"github.com/kilnworks/loom/internal/store"
)

// Rune caps applied to free-form fields before persistence.
const (
	maxNameRunes         = 120
	maxTitleRunes        = 200
	maxDescriptionRunes  = 2000
	maxSystemPromptRunes = 8192
	maxQueryRunes        = 512
)

// githubTimeout bounds the description lookup during project creation.
const githubTimeout = 5 * time.Second

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	RepoPath    string `json:"repo_path"`
	RepoRemote  string `json:"repo_remote"`
}

func (s *Server) handleProjectCreate(c echo.Context) error {
	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	req.Name = sanitize.Text(req.Name, maxNameRunes)
	req.Description = sanitize.Text(req.Description, maxDescriptionRunes)

	ctx := c.Request().Context()
	if req.RepoPath != "" {
		s.fillFromRepo(ctx, &req)
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "project name is required")
	}

	project := &store.Project{
		Name:        req.Name,
		Description: req.Description,
		RepoPath:    req.RepoPath,
		RepoRemote:  req.RepoRemote,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return err
	}
	s.events.ProjectCreated(project.ID)

	return c.JSON(http.StatusCreated, project)
}

// fillFromRepo derives missing project fields from the checkout at
// repo_path. Detection failure is not fatal: the path is stored as
// given and the caller still has to name the project.
func (s *Server) fillFromRepo(ctx context.Context, req *createProjectRequest) {
	info, err := gitmeta.Detect(req.RepoPath)
	if err != nil {
		s.logger.Debug(ctx, "git detection",
			zap.String("repo_path", req.RepoPath), zap.Error(err))
		return
	}
	if req.RepoRemote == "" {
		req.RepoRemote = info.RemoteURL
	}
	if req.Name == "" {
		req.Name = sanitize.Text(info.DefaultName(), maxNameRunes)
	}
	if req.Description != "" || !info.IsGitHub() || !s.cfg.GitHub.Token.IsSet() {
		return
	}

	client, err := gitmeta.NewGitHubClient(ctx, s.cfg.GitHub.Token)
	if err != nil {
		return
	}
	descCtx, cancel := context.WithTimeout(ctx, githubTimeout)
	defer cancel()
	desc, err := gitmeta.Describe(descCtx, client, info.Owner, info.Repo)
	if err != nil {
		s.logger.Warn(ctx, "github description lookup",
			zap.String("repo", info.Owner+"/"+info.Repo), zap.Error(err))
		return
	}
	req.Description = sanitize.Text(desc, maxDescriptionRunes)
}

func (s *Server) handleProjectList(c echo.Context) error {
	limit, offset := listParams(c, 50)
	projects, err := s.store.ListProjects(c.Request().Context(), limit, offset)
	if err != nil {
		return err
	}
	if projects == nil {
		projects = []store.Project{}
	}
	return c.JSON(http.StatusOK, projects)
}

func (s *Server) handleProjectGet(c echo.Context) error {
	project, err := s.cache.Project(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

type updateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	RepoPath    *string `json:"repo_path"`
	RepoRemote  *string `json:"repo_remote"`
}

func (r *updateProjectRequest) Validate() error {
	if r.Name != nil {
		name := sanitize.Text(*r.Name, maxNameRunes)
		if name == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "project name cannot be empty")
		}
		r.Name = &name
	}
	if r.Description != nil {
		desc := sanitize.Text(*r.Description, maxDescriptionRunes)
		r.Description = &desc
	}
	return nil
}

func (s *Server) handleProjectUpdate(c echo.Context) error {
	var req updateProjectRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	ctx := c.Request().Context()
	// Fresh read: patching on top of a cached row could resurrect stale
	// fields.
	project, err := s.store.GetProject(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	if req.Name != nil {
		project.Name = *req.Name
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	if req.RepoPath != nil {
		project.RepoPath = *req.RepoPath
	}
	if req.RepoRemote != nil {
		project.RepoRemote = *req.RepoRemote
	}

	if err := s.store.UpdateProject(ctx, project); err != nil {
		return err
	}
	s.cache.InvalidateProject(project.ID)
	s.events.ProjectUpdated(project.ID)

	return c.JSON(http.StatusOK, project)
}

func (s *Server) handleProjectDelete(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := s.store.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.cache.PurgeProject(id)

	if s.indexer != nil {
		// The rows are gone either way; orphaned vectors only cost
		// space until the next delete retries.
		if err := s.indexer.RemoveProject(ctx, id); err != nil {
			s.logger.Warn(ctx, "removing project vectors", zap.Error(err))
		}
	}
	s.events.ProjectDeleted(id)

	return c.NoContent(http.StatusNoContent)
}
