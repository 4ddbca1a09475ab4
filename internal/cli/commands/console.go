package commands

import (
	"context"
	"fmt"
	"os/exec"
	goruntime "runtime"

	"github.com/spf13/cobra"

	"github.com/spsgroup/spsadmin/internal/cli/client"
	"github.com/spsgroup/spsadmin/internal/console"
)

// NewConsoleCmd creates the console command
func NewConsoleCmd(opts ...Option) *cobra.Command {
	var addr string
	var open bool

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Serve the web console locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), addr, open, opts...)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default SPSADMIN_CONSOLE_ADDR)")
	cmd.Flags().BoolVar(&open, "open", false, "Open the console in the default browser")

	return cmd
}

func runConsole(ctx context.Context, addr string, open bool, opts ...Option) error {
	rt, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.close()
	if addr == "" {
		addr = rt.cfg.Console.Addr
	}

	// The console reacts to a forced logout by reloading its auth context
	api := rt.api
	if !rt.apiInjected {
		api = client.New(rt.cfg.ServerURL, rt.store,
			client.WithNavigator(console.NewNavigator(rt.auth, *rt.logger)),
			client.WithLogger(*rt.logger),
			client.WithTimeout(rt.cfg.Timeout),
		)
	}

	srv, err := console.New(console.Options{
		Provider:       rt.auth,
		API:            api,
		Themes:         rt.store,
		Logger:         *rt.logger,
		TrustedOrigins: rt.cfg.Console.TrustedOrigins,
		Dev:            rt.cfg.Dev,
	})
	if err != nil {
		return err
	}

	consoleURL := "http://" + addr
	fmt.Fprintf(rt.out, "Console: %s (backend %s)\n", consoleURL, rt.cfg.ServerURL)

	if open {
		if err := openBrowser(consoleURL); err != nil {
			fmt.Fprintf(rt.errOut, "failed to open browser: %v\nPlease visit: %s\n", err, consoleURL)
		}
	}

	return srv.Start(ctx, addr)
}

// openBrowser opens the URL in the default browser
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch goruntime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", goruntime.GOOS)
	}

	return cmd.Start()
}
