package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spsgroup/spsadmin/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the spsadmin command tree. opts reach every subcommand.
func NewRootCmd(opts ...commands.Option) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "spsadmin",
		Short: "spsadmin - User account administration",
		Long: `spsadmin CLI - Manage user accounts from the terminal or a local web console.

Sign in once with 'spsadmin login'; the session is kept in the configured
storage (file, OS keychain, redis or memory) until you log out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "spsadmin version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewLoginCmd(opts...))
	rootCmd.AddCommand(commands.NewLogoutCmd(opts...))
	rootCmd.AddCommand(commands.NewWhoamiCmd(opts...))
	rootCmd.AddCommand(commands.NewUsersCmd(opts...))
	rootCmd.AddCommand(commands.NewThemeCmd(opts...))
	rootCmd.AddCommand(commands.NewConsoleCmd(opts...))

	return rootCmd
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
