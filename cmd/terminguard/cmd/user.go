package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/terminguard/audit"
	"github.com/jmcleod/terminguard/session"
	"github.com/jmcleod/terminguard/storage"
	"github.com/jmcleod/terminguard/users"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage login accounts",
}

var (
	userRole     string
	userPassword string
)

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create an account",
	Long: `Creates an account in the configured storage backend. The password is
read from the first line of stdin unless --password is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(cmd.Context(), func(repo storage.Repository) error {
			password := userPassword
			if password == "" {
				p, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = p
			}
			return createUser(cmd.Context(), cmd.OutOrStdout(), repo, args[0], password, session.Role(userRole))
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRepository(cmd.Context(), func(repo storage.Repository) error {
			return listUsers(cmd.Context(), cmd.OutOrStdout(), repo)
		})
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(cmd.Context(), func(repo storage.Repository) error {
			if err := newUserStore(repo).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted user %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd, userListCmd, userDeleteCmd)
	userCreateCmd.Flags().StringVar(&userRole, "role", string(session.RoleUser), "Role of the new account (admin or user)")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "Password of the new account")
}

func withRepository(ctx context.Context, fn func(storage.Repository) error) error {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b.repo)
}

func newUserStore(repo storage.Repository) *users.Store {
	rounds := users.DefaultBcryptCost
	if cfg != nil && cfg.BcryptRounds > 0 {
		rounds = cfg.BcryptRounds
	}
	return users.NewStore(repo, users.NewBcryptHasher(rounds))
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no password given on stdin")
	}
	return line, nil
}

// createUser stores the account and records it in the audit trail.
func createUser(ctx context.Context, w io.Writer, repo storage.Repository, username, password string, role session.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q (want admin or user)", role)
	}
	u, err := newUserStore(repo).Create(ctx, username, password, role)
	if err != nil {
		return err
	}
	if _, err := audit.NewTrail(repo).Append(ctx, audit.Entry{
		Event:    audit.EventUserCreated,
		Username: u.Username,
		Reason:   string(u.Role),
	}); err != nil {
		return fmt.Errorf("recording audit entry: %w", err)
	}
	fmt.Fprintf(w, "Created %s user %s\n", u.Role, u.Username)
	return nil
}

func listUsers(ctx context.Context, w io.Writer, repo storage.Repository) error {
	list, err := newUserStore(repo).List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tROLE\tCREATED")
	for _, u := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Username, u.Role, u.CreatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
