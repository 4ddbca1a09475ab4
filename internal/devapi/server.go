// Package devapi is an in-process implementation of the backend REST contract the
// console talks to. It backs local development and integration tests.
package devapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/spsgroup/spsadmin/internal/auth"
	"github.com/spsgroup/spsadmin/internal/forms"
)

// Options configures a Server
type Options struct {
	// DSN of the sqlite database, MemoryDSN when empty
	DSN string
	// JWTSecret signs tokens. A random secret is generated when empty.
	JWTSecret   string
	TokenTTL    time.Duration
	CORSOrigins []string
	Logger      zerolog.Logger
}

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	db     *gorm.DB
	tokens *auth.Tokens
	logger zerolog.Logger
	opts   Options
}

// New creates a server with a migrated and seeded database
func New(opts Options) (*Server, error) {
	zlog := opts.Logger

	db, err := openDatabase(opts.DSN, zlog)
	if err != nil {
		return nil, err
	}
	if err := seedAdmin(db, zlog); err != nil {
		return nil, err
	}

	secret := opts.JWTSecret
	if secret == "" {
		// 64 hex characters = 32 bytes of randomness
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		secret = hex.EncodeToString(secretBytes)
		zlog.Debug().Msg("Generated ephemeral JWT secret")
	}

	tokens, err := auth.NewTokens(secret, opts.TokenTTL)
	if err != nil {
		return nil, err
	}

	server := &Server{
		db:     db,
		tokens: tokens,
		logger: zlog,
		opts:   opts,
	}
	server.setupRouter()

	return server, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	// Room for a full avatar plus the text fields
	s.router.MaxMultipartMemory = 2 * forms.MaxAvatarSize

	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-CSRF-Token", "X-Requested-With", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.router.GET("/health", s.healthCheck)
	s.router.POST("/auth/login", s.login)

	users := s.router.Group("/users")
	users.Use(s.jwtAuthMiddleware())
	{
		users.GET("", s.listUsers)
		users.POST("", s.adminOnlyMiddleware(), s.createUser)
		users.GET("/:id", s.getUser)
		users.PUT("/:id", s.updateUser)
		users.DELETE("/:id", s.deleteUser)
	}
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", c.GetHeader("X-Request-ID")).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "spsadmin-devapi",
	})
}

// Handler returns the router, for httptest servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting dev API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dev API server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down dev API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down dev API server: %w", err)
	}
	return s.Close()
}

// Close releases the database
func (s *Server) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
