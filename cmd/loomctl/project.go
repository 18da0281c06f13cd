package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kilnworks/loom/internal/store"
)

var (
	projectName        string
	projectDescription string
	projectRepo        string
)

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectInitCmd)

	projectCreateCmd.Flags().StringVar(&projectName, "name", "", "project name")
	projectCreateCmd.Flags().StringVar(&projectDescription, "description", "", "project description")
	projectCreateCmd.Flags().StringVar(&projectRepo, "repo", "", "path to a git checkout to derive identity from")

	projectInitCmd.Flags().StringVar(&projectName, "name", "", "project name (default derived from the repository remote)")
}

// projectCmd is the parent command for project operations
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Long: `List projects known to the daemon.

Examples:
  loomctl project list
  loomctl project list --json`,
	RunE: runProjectList,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project",
	Long: `Create a project.

Examples:
  # Plain project
  loomctl project create --name notes

  # Derive name and remote from a checkout
  loomctl project create --repo ~/src/loom`,
	RunE: runProjectCreate,
}

var projectInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a project from the current directory",
	Long: `Create a project from the current directory's git checkout.
The name defaults to the repository's origin remote (owner/repo).

Examples:
  cd ~/src/loom && loomctl project init
  loomctl project init --name workbench`,
	RunE: runProjectInit,
}

// createProjectRequest matches internal/httpapi/projects.go.
type createProjectRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	RepoPath    string `json:"repo_path,omitempty"`
}

func runProjectList(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient(serverURL, authToken)
	if err != nil {
		return err
	}

	var projects []store.Project
	if err := client.get(context.Background(), "/api/v1/projects", &projects); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, projects)
	}
	if len(projects) == 0 {
		cmd.Println("No projects. Create one with: loomctl project create --name <name>")
		return nil
	}

	cmd.Printf("%-38s %-24s %s\n", "ID", "NAME", "DESCRIPTION")
	for _, p := range projects {
		cmd.Printf("%-38s %-24s %s\n", p.ID, p.Name, p.Description)
	}
	return nil
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	if projectName == "" && projectRepo == "" {
		return fmt.Errorf("either --name or --repo is required")
	}
	return createProject(cmd, createProjectRequest{
		Name:        projectName,
		Description: projectDescription,
		RepoPath:    projectRepo,
	})
}

func runProjectInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving current directory: %w", err)
	}
	name := projectName
	if name == "" && !gitRepoLikely(cwd) {
		// Without a repository the server cannot derive a name.
		name = filepath.Base(cwd)
	}

	return createProject(cmd, createProjectRequest{
		Name:     name,
		RepoPath: cwd,
	})
}

// gitRepoLikely reports whether dir looks like a git checkout, without
// pulling in the full detection the server runs.
func gitRepoLikely(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func createProject(cmd *cobra.Command, req createProjectRequest) error {
	client, err := newAPIClient(serverURL, authToken)
	if err != nil {
		return err
	}

	var project store.Project
	if err := client.post(context.Background(), "/api/v1/projects", req, &project); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd, project)
	}
	cmd.Printf("Created project %s (%s)\n", project.Name, project.ID)
	if project.RepoRemote != "" {
		cmd.Printf("Remote: %s\n", project.RepoRemote)
	}
	return nil
}
