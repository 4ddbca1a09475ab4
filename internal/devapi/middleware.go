package devapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/spsgroup/spsadmin/internal/models"
)

const (
	bearerPrefix = "Bearer "
	actorKey     = "actor"
)

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthFormat = errors.New("invalid authorization header format")
	ErrEmptyToken        = errors.New("empty token")
	ErrInvalidToken      = errors.New("invalid token")
	ErrUserNotFound      = errors.New("user not found")
)

func setActor(c *gin.Context, actor models.User) {
	c.Set(actorKey, actor)
}

// GetActor returns the authenticated account of the request
func GetActor(c *gin.Context) (models.User, bool) {
	value, exists := c.Get(actorKey)
	if !exists {
		return models.User{}, false
	}

	actor, ok := value.(models.User)
	return actor, ok
}

func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidAuthFormat
	}

	token := strings.TrimPrefix(authHeader, bearerPrefix)
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
	c.Abort()
}

// jwtAuthMiddleware validates the bearer token and loads the acting account
func (s *Server) jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			var message string
			switch err {
			case ErrMissingAuthHeader:
				message = "Missing authorization header"
			case ErrInvalidAuthFormat:
				message = "Invalid authorization header format"
			case ErrEmptyToken:
				message = "Empty token"
			}
			respondWithError(c, s.logger, http.StatusUnauthorized, err, message)
			return
		}

		claims, err := s.tokens.ValidateToken(token)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Failed to validate JWT token")
			respondWithError(c, s.logger, http.StatusUnauthorized, ErrInvalidToken, "Token inválido ou expirado")
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			respondWithError(c, s.logger, http.StatusUnauthorized, ErrInvalidToken, "Token inválido ou expirado")
			return
		}

		// A deleted account invalidates its outstanding tokens
		var account Account
		if err := s.db.Where("id = ?", userID).First(&account).Error; err != nil {
			respondWithError(c, s.logger, http.StatusUnauthorized, ErrUserNotFound, "Usuário não encontrado")
			return
		}

		setActor(c, account.User())
		c.Next()
	}
}

// adminOnlyMiddleware ensures the authenticated account is admin or super_admin
func (s *Server) adminOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, exists := GetActor(c)
		if !exists {
			respondWithError(c, s.logger, http.StatusUnauthorized, errors.New("no session"), "Unauthorized")
			return
		}

		if !models.CanCreateUsers(actor) {
			respondWithError(c, s.logger, http.StatusForbidden, errors.New("not admin"), msgForbidden)
			return
		}

		c.Next()
	}
}
