package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/spsgroup/spsadmin/internal/cli/client"
	"github.com/spsgroup/spsadmin/internal/forms"
	"github.com/spsgroup/spsadmin/internal/models"
)

// NewUsersCmd creates the users command group
func NewUsersCmd(opts ...Option) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}

	cmd.AddCommand(newUsersListCmd(opts...))
	cmd.AddCommand(newUsersShowCmd(opts...))
	cmd.AddCommand(newUsersCreateCmd(opts...))
	cmd.AddCommand(newUsersUpdateCmd(opts...))
	cmd.AddCommand(newUsersDeleteCmd(opts...))

	return cmd
}

func newUsersListCmd(opts ...Option) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsersList(cmd.Context(), opts...)
		},
	}
}

func runUsersList(ctx context.Context, opts ...Option) error {
	rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()
	me, err := rt.requireUser()
	if err != nil {
		return err
	}

	users, err := rt.api.ListUsers(ctx)
	if err != nil {
		return apiError(err, forms.MsgLoadUsersFailed)
	}

	if len(users) == 0 {
		fmt.Fprintln(rt.out, "Nenhum usuário encontrado.")
		return nil
	}

	w := tabwriter.NewWriter(rt.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNOME\tEMAIL\tTIPO\tAÇÕES")
	fmt.Fprintln(w, "──\t────\t─────\t────\t─────")

	for _, user := range users {
		name := user.Name
		if user.ID == me.ID {
			name += " (você)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			user.ID,
			name,
			user.Email,
			user.Role.Label(),
			actions(me, user),
		)
	}

	w.Flush()

	if models.CanCreateUsers(me) {
		fmt.Fprintln(rt.out, "\nCreate a user with: spsadmin users create")
	}
	return nil
}

// actions lists what me may do with user, mirroring the console buttons
func actions(me, user models.User) string {
	out := []string{"ver"}
	if models.CanEdit(me, user) {
		out = append(out, "editar")
	}
	if models.CanDelete(me, user) {
		out = append(out, "excluir")
	}
	return strings.Join(out, ", ")
}

func newUsersShowCmd(opts ...Option) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return runUsersShow(cmd.Context(), id, opts...)
		},
	}
}

func runUsersShow(ctx context.Context, id int64, opts ...Option) error {
	rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()
	if _, err := rt.requireUser(); err != nil {
		return err
	}

	user, err := rt.api.GetUser(ctx, id)
	if err != nil {
		return apiError(err, forms.MsgLoadUserFailed)
	}

	w := tabwriter.NewWriter(rt.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%d\n", user.ID)
	fmt.Fprintf(w, "Nome:\t%s\n", user.Name)
	fmt.Fprintf(w, "Email:\t%s\n", user.Email)
	fmt.Fprintf(w, "Tipo:\t%s\n", user.Role.Label())
	if user.CreatedAt != nil {
		fmt.Fprintf(w, "Criado em:\t%s\n", user.CreatedAt.Local().Format("02/01/2006 15:04"))
	}
	if user.Avatar != "" {
		fmt.Fprintln(w, "Avatar:\tsim")
	}
	return w.Flush()
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

// apiError turns a client error into what the user sees. A forced logout has already
// printed its own message.
func apiError(err error, fallback string) error {
	if client.IsSessionExpired(err) {
		return ErrNotLoggedIn
	}
	if msg := client.Message(err); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("%s: %w", fallback, err)
}
