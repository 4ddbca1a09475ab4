package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spsgroup/spsadmin/internal/forms"
)

// NewLoginCmd creates the login command
func NewLoginCmd(opts ...Option) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the user administration backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), email, password, opts...)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set SPSADMIN_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set SPSADMIN_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(ctx context.Context, email, password string, opts ...Option) error {
	// Check for environment variables (useful for CI/CD)
	if email == "" {
		email = os.Getenv("SPSADMIN_EMAIL")
	}
	if password == "" {
		password = os.Getenv("SPSADMIN_PASSWORD")
	}

	if email == "" {
		return fmt.Errorf("email is required (use --email flag or SPSADMIN_EMAIL env var)")
	}

	rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	// Prompt for password if not provided via flag or env var
	if password == "" {
		if password, err = rt.password(); err != nil {
			return err
		}
	}

	form := forms.NewLoginForm(email, password)
	if errs := form.Validate(); !errs.Empty() {
		return fmt.Errorf("%s", errs.First())
	}

	fmt.Fprintf(rt.out, "Logging in to %s...\n", rt.cfg.ServerURL)

	resp, err := rt.api.Login(ctx, form.Email, form.Password)
	if err != nil {
		rt.logger.Debug().Err(err).Msg("login rejected")
		return fmt.Errorf("login failed: %s", forms.MsgInvalidCredentials)
	}

	if err := rt.auth.Login(ctx, resp.User, resp.Token); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	fmt.Fprintln(rt.out, "✓ Login successful!")
	fmt.Fprintf(rt.out, "  User: %s (%s)\n", resp.User.Name, resp.User.Email)
	fmt.Fprintf(rt.out, "  Role: %s\n", resp.User.Role.Label())

	return nil
}
