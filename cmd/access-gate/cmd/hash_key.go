package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/accessgate/internal/domain/auth"
)

var hashKeyFromStdin bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an argon2id hash for an admin API key",
	Long: `Generate an argon2id hash of an admin API key for use in config.

The output is a PHC string ("$argon2id$v=19$...") which can be used directly
in the admin.api_keys[].key_hash field.

Example:
  access-gate hash-key "my-secret-api-key"
  echo -n "$MY_API_KEY" | access-gate hash-key --stdin

Security note: a key passed as an argument will appear in shell history.
Prefer --stdin.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if hashKeyFromStdin {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if hashKeyFromStdin {
			k, err := readKey(cmd.InOrStdin())
			if err != nil {
				return err
			}
			key = k
		} else {
			key = args[0]
		}

		hash, err := auth.HashKey(key)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyFromStdin, "stdin", false, "read the key from the first line of stdin")
	rootCmd.AddCommand(hashKeyCmd)
}

// readKey returns the first line of r without its line ending.
func readKey(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read key: %w", err)
	}
	key := strings.TrimRight(line, "\r\n")
	if key == "" {
		return "", errors.New("no key on stdin")
	}
	return key, nil
}
