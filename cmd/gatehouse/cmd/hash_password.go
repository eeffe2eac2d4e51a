package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/togglehq/gatehouse/credential"
	"github.com/togglehq/gatehouse/internal/config"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash an administrator password for " + config.EnvAdminPasswordHash,
	Long: `Reads a password from the first line of standard input and prints its
argon2id hash, suitable for ` + config.EnvAdminPasswordHash + `.

  printf '%s' "$PASSWORD" | gatehouse hash-password`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
		hash, err := credential.NewHasher().Hash(cmd.Context(), password, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("empty password on standard input")
	}
	return password, nil
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
