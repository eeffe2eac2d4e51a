package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/togglehq/gatehouse/internal/config"
	"github.com/togglehq/gatehouse/token"
)

var (
	tokenName   string
	tokenHard   bool
	tokenOutput string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage SDK service tokens",
	Long: `Issue, list and revoke service tokens directly against the token store.
The store is selected the same way as for the server: ` + config.EnvDatabaseURL + ` if set,
otherwise the bbolt file under --data-dir. The bbolt file is locked while the server runs.`,
}

// withTokenService opens the configured store for the duration of fn.
func withTokenService(cmd *cobra.Command, fn func(*token.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo, err := openRepository(cmd.Context(), cfg, dataDir, logger)
	if err != nil {
		return err
	}
	defer repo.Close()
	return fn(token.NewService(repo, token.WithLogger(logger)))
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue SCOPE_ID",
	Short: "Issue a token bound to an environment or project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTokenService(cmd, func(svc *token.Service) error {
			issued, err := svc.Issue(cmd.Context(), args[0], tokenName)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if tokenOutput == "json" {
				return json.NewEncoder(out).Encode(issued)
			}
			fmt.Fprintf(out, "id:     %s\nscope:  %s\ntoken:  %s\n", issued.ID, issued.ScopeID, issued.Plaintext)
			fmt.Fprintln(cmd.ErrOrStderr(), "Store the token now; it cannot be shown again.")
			return nil
		})
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list SCOPE_ID",
	Short: "List tokens bound to a scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTokenService(cmd, func(svc *token.Service) error {
			tokens, err := svc.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if tokenOutput == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(tokens)
			}
			return printTokenTable(cmd.OutOrStdout(), tokens)
		})
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke TOKEN_ID",
	Short: "Revoke a token (--hard deletes it)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := token.RevokeSoft
		if tokenHard {
			mode = token.RevokeHard
		}
		return withTokenService(cmd, func(svc *token.Service) error {
			return svc.Revoke(cmd.Context(), args[0], mode)
		})
	},
}

func printTokenTable(w io.Writer, tokens []token.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPREFIX\tNAME\tCREATED\tREVOKED")
	for _, t := range tokens {
		revoked := "-"
		if t.RevokedAt != nil {
			revoked = t.RevokedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Prefix, t.Name, t.CreatedAt.Format(time.RFC3339), revoked)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Directory for the embedded token store when DATABASE_URL is unset")
	tokenCmd.PersistentFlags().StringVarP(&tokenOutput, "output", "o", "text", "Output format (text, json)")

	tokenIssueCmd.Flags().StringVar(&tokenName, "name", "", "Label shown in listings")
	tokenRevokeCmd.Flags().BoolVar(&tokenHard, "hard", false, "Delete the token record instead of marking it revoked")

	tokenCmd.AddCommand(tokenIssueCmd, tokenListCmd, tokenRevokeCmd)
}
