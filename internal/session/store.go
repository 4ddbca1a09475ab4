// Package session persists the signed-in identity: a bearer token and the user record
// it belongs to, plus the presentation theme.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/spsgroup/spsadmin/internal/models"
)

// Fixed storage keys
const (
	KeyToken = "token"
	KeyUser  = "user"
	KeyTheme = "theme"
)

// Theme values stored under KeyTheme
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Session is the persisted token + user pair. User is non-nil iff Token is non-empty.
type Session struct {
	Token string
	User  *models.User
}

// Valid reports whether the session represents a signed-in identity
func (s Session) Valid() bool {
	return s.Token != "" && s.User != nil
}

// Store reads and writes the session keys of a Backend
type Store struct {
	backend Backend
	logger  zerolog.Logger
}

// NewStore creates a store on top of backend
func NewStore(backend Backend, logger zerolog.Logger) *Store {
	return &Store{backend: backend, logger: logger}
}

// Close releases the backend's resources when it holds any, e.g. a Redis pool
func (s *Store) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Save persists token and user. The user is written first so that once the token is
// visible the user can be fetched too.
func (s *Store) Save(ctx context.Context, token string, user models.User) error {
	if token == "" {
		return errors.New("session: empty token")
	}
	if err := s.SaveUser(ctx, user); err != nil {
		return err
	}
	if err := s.backend.Set(ctx, KeyToken, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	s.logger.Debug().Str("key", KeyToken).Msg("stored protected session data")
	return nil
}

// SaveUser rewrites the user entry without touching the token
func (s *Store) SaveUser(ctx context.Context, user models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := s.backend.Set(ctx, KeyUser, string(data)); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	s.logger.Debug().Str("key", KeyUser).Msg("stored protected session data")
	return nil
}

// Load returns the persisted session. A token without a readable user, or a user
// without a token, loads as an empty session.
func (s *Store) Load(ctx context.Context) (Session, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return Session{}, err
	}
	if token == "" {
		return Session{}, nil
	}

	raw, err := s.backend.Get(ctx, KeyUser)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn().Msg("session token present without user, ignoring")
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load user: %w", err)
	}

	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logger.Warn().Err(err).Msg("stored user is not valid JSON, ignoring session")
		return Session{}, nil
	}
	return Session{Token: token, User: &user}, nil
}

// Token returns the stored bearer token, or "" when there is none
func (s *Store) Token(ctx context.Context) (string, error) {
	token, err := s.backend.Get(ctx, KeyToken)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return token, nil
}

// Clear removes both session keys, token first
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, KeyToken); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if err := s.backend.Delete(ctx, KeyUser); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	s.logger.Debug().Msg("session cleared")
	return nil
}

// Theme returns the stored theme, ThemeLight when unset or unknown
func (s *Store) Theme(ctx context.Context) string {
	v, err := s.backend.Get(ctx, KeyTheme)
	if err != nil || v != ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// SetTheme stores theme; anything other than ThemeDark is stored as ThemeLight
func (s *Store) SetTheme(ctx context.Context, theme string) error {
	if theme != ThemeDark {
		theme = ThemeLight
	}
	if err := s.backend.Set(ctx, KeyTheme, theme); err != nil {
		return fmt.Errorf("failed to save theme: %w", err)
	}
	return nil
}

// ToggleTheme flips the stored theme and returns the new value
func (s *Store) ToggleTheme(ctx context.Context) (string, error) {
	next := ThemeDark
	if s.Theme(ctx) == ThemeDark {
		next = ThemeLight
	}
	return next, s.SetTheme(ctx, next)
}
