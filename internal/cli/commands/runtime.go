package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/spsgroup/spsadmin/internal/authctx"
	"github.com/spsgroup/spsadmin/internal/cli/client"
	"github.com/spsgroup/spsadmin/internal/config"
	"github.com/spsgroup/spsadmin/internal/console"
	"github.com/spsgroup/spsadmin/internal/logger"
	"github.com/spsgroup/spsadmin/internal/models"
	"github.com/spsgroup/spsadmin/internal/session"
)

// ErrNotLoggedIn is returned by commands that need a session when there is none
var ErrNotLoggedIn = errors.New("not logged in. Please run 'spsadmin login' first")

// SessionExpiredMessage is printed when the backend rejects the stored session
const SessionExpiredMessage = "Session expired. Please run 'spsadmin login' again."

// runtime bundles what a command needs. Tests replace parts of it through Options.
type runtime struct {
	cfg    *config.Config
	logger *zerolog.Logger
	store  *session.Store
	auth   *authctx.Provider
	api    console.UserAPI

	// apiInjected is set when a test supplied api
	apiInjected bool
	// ownsStore is set when setup opened the store and must close it
	ownsStore bool

	out    io.Writer
	errOut io.Writer

	confirm  func(label string) (bool, error)
	password func() (string, error)
}

// Option overrides a command dependency
type Option func(*runtime)

// WithConfig uses cfg instead of loading the environment
func WithConfig(cfg *config.Config) Option {
	return func(rt *runtime) { rt.cfg = cfg }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(rt *runtime) { rt.logger = &l }
}

// WithStore uses store for the session instead of the configured backend
func WithStore(store *session.Store) Option {
	return func(rt *runtime) { rt.store = store }
}

// WithAPI replaces the backend client
func WithAPI(api console.UserAPI) Option {
	return func(rt *runtime) {
		rt.api = api
		rt.apiInjected = true
	}
}

// WithOutput redirects command output
func WithOutput(out, errOut io.Writer) Option {
	return func(rt *runtime) {
		rt.out = out
		rt.errOut = errOut
	}
}

// WithConfirm replaces the interactive yes/no prompt
func WithConfirm(fn func(label string) (bool, error)) Option {
	return func(rt *runtime) { rt.confirm = fn }
}

// WithPasswordPrompt replaces the interactive password prompt
func WithPasswordPrompt(fn func() (string, error)) Option {
	return func(rt *runtime) { rt.password = fn }
}

// setup resolves every dependency not supplied through opts and restores the session
func setup(ctx context.Context, opts []Option) (*runtime, error) {
	rt := &runtime{
		out:      os.Stdout,
		errOut:   os.Stderr,
		confirm:  promptConfirm,
		password: promptPassword,
	}
	for _, opt := range opts {
		opt(rt)
	}

	if rt.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		rt.cfg = cfg
	}

	if rt.logger == nil {
		l := logger.Init(rt.cfg.Logging.Level, rt.cfg.Logging.Format)
		rt.logger = &l
	}

	if rt.store == nil {
		backend, err := session.Open(ctx, session.Options{
			Kind:         rt.cfg.Storage.Backend,
			Path:         rt.cfg.Storage.Path,
			RedisAddress: rt.cfg.Storage.RedisAddress,
			Namespace:    rt.cfg.Storage.Namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		rt.store = session.NewStore(backend, *rt.logger)
		rt.ownsStore = true
	}

	rt.auth = authctx.New(rt.store, *rt.logger)
	if err := rt.auth.Init(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("failed to restore session")
	}

	if rt.api == nil {
		rt.api = client.New(rt.cfg.ServerURL, rt.store,
			client.WithNavigator(cliNavigator(rt.errOut)),
			client.WithLogger(*rt.logger),
			client.WithTimeout(rt.cfg.Timeout),
		)
	}
	return rt, nil
}

// close releases the session storage opened by setup
func (rt *runtime) close() {
	if !rt.ownsStore {
		return
	}
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn().Err(err).Msg("failed to close session storage")
	}
}

// cliNavigator reports a forced logout; the session is already cleared
func cliNavigator(w io.Writer) client.Navigator {
	return client.NavigatorFunc(func(string) {
		fmt.Fprintln(w, SessionExpiredMessage)
	})
}

// requireUser returns the signed-in user or a hint to log in
func (rt *runtime) requireUser() (models.User, error) {
	user, ok := rt.auth.User()
	if !ok {
		return models.User{}, ErrNotLoggedIn
	}
	return user, nil
}

func promptConfirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if err == promptui.ErrAbort {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func promptPassword() (string, error) {
	// Check if stdin is a terminal (not piped)
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("password is required in non-interactive mode (use --password flag or SPSADMIN_PASSWORD env var)")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // New line after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}
