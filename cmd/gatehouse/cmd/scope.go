package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/togglehq/gatehouse/authn"
	"github.com/togglehq/gatehouse/internal/config"
	"github.com/togglehq/gatehouse/storage"
)

var (
	scopeKind    string
	scopeProject string
)

var scopeCmd = &cobra.Command{
	Use:   "scope",
	Short: "Register environments and projects tokens can bind to",
	Long: `Scopes mirror the environments and projects owned by the flag API. Tokens can
only be issued for a registered scope.`,
}

var scopePutCmd = &cobra.Command{
	Use:   "put SCOPE_ID",
	Short: "Create or update a scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := newScope(args[0], scopeKind, scopeProject)
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		repo, err := openRepository(cmd.Context(), cfg, dataDir, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if err != nil {
			return err
		}
		defer repo.Close()
		if err := repo.PutScope(cmd.Context(), scope); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (project %s)\n", scope.Kind, scope.ID, scope.ProjectID)
		return nil
	},
}

// newScope validates flag input. A project scope is its own project.
func newScope(id, kind, project string) (*storage.Scope, error) {
	k := authn.ScopeKind(kind)
	if !k.Valid() {
		return nil, fmt.Errorf("invalid --kind %q (want %s or %s)", kind, authn.ScopeEnvironment, authn.ScopeProject)
	}
	switch {
	case k == authn.ScopeProject && project == "":
		project = id
	case k == authn.ScopeProject && project != id:
		return nil, fmt.Errorf("a project scope cannot belong to another project")
	case k == authn.ScopeEnvironment && project == "":
		return nil, fmt.Errorf("--project is required for environment scopes")
	}
	return &storage.Scope{ID: id, Kind: k, ProjectID: project}, nil
}

func init() {
	rootCmd.AddCommand(scopeCmd)
	scopeCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Directory for the embedded token store when DATABASE_URL is unset")

	scopePutCmd.Flags().StringVar(&scopeKind, "kind", string(authn.ScopeEnvironment), "Scope kind (environment, project)")
	scopePutCmd.Flags().StringVar(&scopeProject, "project", "", "Owning project id (environments only)")

	scopeCmd.AddCommand(scopePutCmd)
}
