// Package console serves the user administration web console. It renders pages on the
// server and talks to the backend only through the API client.
package console

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"filippo.io/csrf"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"

	"github.com/spsgroup/spsadmin/internal/authctx"
	"github.com/spsgroup/spsadmin/internal/cli/client"
	"github.com/spsgroup/spsadmin/internal/models"
)

// UserAPI is the part of the API client the console uses
type UserAPI interface {
	Login(ctx context.Context, email, password string) (*client.LoginResponse, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	DeleteUser(ctx context.Context, id int64) error
	CreateUserWithFile(ctx context.Context, in models.UserInput, avatar *client.Avatar) (*models.User, error)
	UpdateUserWithFile(ctx context.Context, id int64, in models.UserInput, avatar *client.Avatar) (*models.User, error)
}

// ThemeStore persists the light/dark preference
type ThemeStore interface {
	Theme(ctx context.Context) string
	ToggleTheme(ctx context.Context) (string, error)
}

// Options configures a Server
type Options struct {
	Provider *authctx.Provider
	API      UserAPI
	Themes   ThemeStore
	Logger   zerolog.Logger
	// Origins besides the console's own that may post forms
	TrustedOrigins []string
	// Dev relaxes HTTPS-only headers for local use
	Dev bool
}

// Server is the web console
type Server struct {
	router   *gin.Engine
	handler  http.Handler
	provider *authctx.Provider
	api      UserAPI
	themes   ThemeStore
	pages    pages
	logger   zerolog.Logger
}

// New builds the console. The provider may still be initializing; guarded pages show a
// placeholder until it settles.
func New(opts Options) (*Server, error) {
	if opts.Provider == nil || opts.API == nil || opts.Themes == nil {
		return nil, fmt.Errorf("console requires a provider, an API client and a theme store")
	}

	pages, err := loadPages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		provider: opts.Provider,
		api:      opts.API,
		themes:   opts.Themes,
		pages:    pages,
		logger:   opts.Logger,
	}
	s.setupRouter()

	protection := csrf.New()
	for _, origin := range opts.TrustedOrigins {
		if err := protection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("invalid trusted origin %q: %w", origin, err)
		}
	}

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'; img-src 'self' data:",
		IsDevelopment:         opts.Dev,
	})

	s.handler = secureMiddleware.Handler(protection.Handler(s.router))
	return s, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(WithProvider(s.provider))

	s.router.StaticFS("/static", staticFS())

	s.router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/users")
	})

	public := s.router.Group("/")
	public.Use(RequireAnonymous(s.provider))
	{
		public.GET("/signin", s.signInPage)
		public.POST("/signin", s.signIn)
	}

	s.router.POST("/signout", s.signOut)
	s.router.POST("/theme", s.toggleTheme)

	users := s.router.Group("/users")
	users.Use(RequireAuth(s.provider))
	{
		users.GET("", s.listUsers)
		users.GET("/new", s.newUserPage)
		users.POST("/new", s.createUser)
		users.GET("/:id", s.viewUser)
		users.GET("/:id/edit", s.editUserPage)
		users.POST("/:id/edit", s.updateUser)
		users.POST("/:id/delete", s.deleteUser)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/users")
	})
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

// Handler returns the console with security headers and cross-origin protection
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start initializes the auth context and serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	go func() {
		if err := s.provider.Init(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to restore session, starting signed out")
		}
	}()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting console")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("console server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// NewNavigator returns the navigator the API client calls on a forced logout. The
// client has already cleared the stored session; reloading drops the in-memory user so
// the next guarded request lands on the sign-in page.
func NewNavigator(p *authctx.Provider, logger zerolog.Logger) client.Navigator {
	return client.NavigatorFunc(func(path string) {
		if err := p.Reload(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to reload session after forced logout")
		}
		logger.Debug().Str("path", path).Msg("forced navigation")
	})
}
