package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spsgroup/spsadmin/internal/cli/client"
	"github.com/spsgroup/spsadmin/internal/forms"
	"github.com/spsgroup/spsadmin/internal/models"
)

// userFlags are the writable fields shared by create and update
type userFlags struct {
	name     string
	email    string
	role     string
	password string
	avatar   string
}

func (f *userFlags) register(cmd *cobra.Command, create bool) {
	cmd.Flags().StringVar(&f.name, "name", "", "Full name")
	cmd.Flags().StringVar(&f.email, "email", "", "Email address")
	cmd.Flags().StringVar(&f.role, "type", string(models.RoleUser), "Role: user, admin or super_admin")
	passwordHelp := "Password (will prompt if not provided)"
	if !create {
		passwordHelp = "New password (unchanged if not provided)"
	}
	cmd.Flags().StringVar(&f.password, "password", "", passwordHelp)
	cmd.Flags().StringVar(&f.avatar, "avatar", "", "Path to an image file, at most 2MB")
}

func newUsersCreateCmd(opts ...Option) *cobra.Command {
	var flags userFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user (admins only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsersCreate(cmd.Context(), flags, opts...)
		},
	}
	flags.register(cmd, true)

	return cmd
}

func runUsersCreate(ctx context.Context, flags userFlags, opts ...Option) error {
	rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()
	me, err := rt.requireUser()
	if err != nil {
		return err
	}
	if !models.CanCreateUsers(me) {
		return fmt.Errorf("only admins can create users")
	}

	role := models.ParseRole(flags.role)
	if !models.CanAssign(me, role) {
		return fmt.Errorf("you cannot assign the %q role", role)
	}

	if flags.password == "" {
		if flags.password, err = rt.password(); err != nil {
			return err
		}
	}

	form := forms.NewUserForm(flags.name, flags.email, string(role), flags.password)
	if errs := form.Validate(false); !errs.Empty() {
		return fmt.Errorf("%s", errs.First())
	}

	avatar, err := loadAvatar(flags.avatar)
	if err != nil {
		return err
	}

	user, err := rt.api.CreateUserWithFile(ctx, form.Input(), avatar)
	if err != nil {
		if client.IsSessionExpired(err) {
			return ErrNotLoggedIn
		}
		return fmt.Errorf("%s", forms.SaveErrorMessage(err))
	}

	fmt.Fprintln(rt.out, forms.MsgUserCreated)
	fmt.Fprintf(rt.out, "  %d  %s <%s> (%s)\n", user.ID, user.Name, user.Email, user.Role.Label())
	return nil
}

func newUsersUpdateCmd(opts ...Option) *cobra.Command {
	var flags userFlags

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			changed := map[string]bool{}
			for _, name := range []string{"name", "email", "type"} {
				changed[name] = cmd.Flags().Changed(name)
			}
			return runUsersUpdate(cmd.Context(), id, flags, changed, opts...)
		},
	}
	flags.register(cmd, false)

	return cmd
}

// runUsersUpdate applies the changed flags on top of the current record
func runUsersUpdate(ctx context.Context, id int64, flags userFlags, changed map[string]bool, opts ...Option) error {
	rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()
	me, err := rt.requireUser()
	if err != nil {
		return err
	}

	current, err := rt.api.GetUser(ctx, id)
	if err != nil {
		return apiError(err, forms.MsgLoadUserFailed)
	}
	if !models.CanEdit(me, *current) {
		return fmt.Errorf("you cannot edit %s", current.Name)
	}

	form := forms.UserFormFrom(*current)
	if changed["name"] {
		form.Name = flags.name
	}
	if changed["email"] {
		form.Email = flags.email
	}
	if changed["type"] {
		role := models.ParseRole(flags.role)
		if role != current.Role && (!models.CanChangeRole(me) || !models.CanAssign(me, role)) {
			return fmt.Errorf("you cannot assign the %q role", role)
		}
		form.Role = role
	}
	form = forms.NewUserForm(form.Name, form.Email, string(form.Role), flags.password)

	if errs := form.Validate(true); !errs.Empty() {
		return fmt.Errorf("%s", errs.First())
	}

	avatar, err := loadAvatar(flags.avatar)
	if err != nil {
		return err
	}

	user, err := rt.api.UpdateUserWithFile(ctx, id, form.Input(), avatar)
	if err != nil {
		if client.IsSessionExpired(err) {
			return ErrNotLoggedIn
		}
		return fmt.Errorf("%s", forms.SaveErrorMessage(err))
	}

	// Editing oneself refreshes the stored user; the token stays
	if user.ID == me.ID {
		if err := rt.auth.UpdateUser(ctx, *user); err != nil {
			return fmt.Errorf("failed to update stored session: %w", err)
		}
	}

	fmt.Fprintln(rt.out, forms.MsgUserUpdated)
	fmt.Fprintf(rt.out, "  %d  %s <%s> (%s)\n", user.ID, user.Name, user.Email, user.Role.Label())
	return nil
}

func newUsersDeleteCmd(opts ...Option) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runUsersDelete(cmd.Context(), id, yes, opts...)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func runUsersDelete(ctx context.Context, id int64, yes bool, opts ...Option) error {
	rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()
	me, err := rt.requireUser()
	if err != nil {
		return err
	}

	target, err := rt.api.GetUser(ctx, id)
	if err != nil {
		return apiError(err, forms.MsgLoadUserFailed)
	}
	if !models.CanDelete(me, *target) {
		return fmt.Errorf("you cannot delete %s", target.Name)
	}

	own := target.ID == me.ID
	if !yes {
		ok, err := rt.confirm(forms.DeleteConfirmation(target.Name, own))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if !ok {
			fmt.Fprintln(rt.out, "Cancelled.")
			return nil
		}
	}

	if err := rt.api.DeleteUser(ctx, id); err != nil {
		return apiError(err, forms.MsgDeleteFailed)
	}

	if own {
		if err := rt.auth.Logout(ctx); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
		fmt.Fprintln(rt.out, "Your account was deleted. You have been logged out.")
		return nil
	}

	fmt.Fprintf(rt.out, "User %s deleted.\n", target.Name)
	return nil
}

// loadAvatar reads and checks an avatar file. An empty path means no avatar.
func loadAvatar(path string) (*client.Avatar, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open avatar: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read avatar: %w", err)
	}

	info, err := forms.CheckAvatar(filepath.Base(path), int64(len(data)), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	return &client.Avatar{
		Filename:    info.Filename,
		ContentType: info.ContentType,
		Data:        bytes.NewReader(data),
	}, nil
}
