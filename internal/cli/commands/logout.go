package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd(opts ...Option) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd.Context(), opts...)
		},
	}
}

func runLogout(ctx context.Context, opts ...Option) error {
	rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.auth.Logout(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	fmt.Fprintln(rt.out, "Logged out.")
	return nil
}

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd(opts ...Option) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd.Context(), opts...)
		},
	}
}

func runWhoami(ctx context.Context, opts ...Option) error {
	rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	user, err := rt.requireUser()
	if err != nil {
		return err
	}
	fmt.Fprintf(rt.out, "%s <%s> (%s)\n", user.Name, user.Email, user.Role.Label())
	return nil
}
