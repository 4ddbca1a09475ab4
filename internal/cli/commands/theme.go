package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spsgroup/spsadmin/internal/session"
)

// NewThemeCmd creates the theme command
func NewThemeCmd(opts ...Option) *cobra.Command {
	return &cobra.Command{
		Use:       "theme [dark|light]",
		Short:     "Show, set or toggle the console theme",
		Long:      "Without an argument the theme is toggled between light and dark.",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{session.ThemeDark, session.ThemeLight},
		RunE: func(cmd *cobra.Command, args []string) error {
			theme := ""
			if len(args) == 1 {
				theme = args[0]
			}
			return runTheme(cmd.Context(), theme, opts...)
		},
	}
}

func runTheme(ctx context.Context, theme string, opts ...Option) error {
	rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()

	if theme == "" {
		if theme, err = rt.store.ToggleTheme(ctx); err != nil {
			return err
		}
	} else if err := rt.store.SetTheme(ctx, theme); err != nil {
		return err
	}

	fmt.Fprintf(rt.out, "Theme: %s\n", rt.store.Theme(ctx))
	return nil
}
