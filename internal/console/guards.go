package console

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/spsgroup/spsadmin/internal/authctx"
)

const (
	signInPath = "/signin"
	usersPath  = "/users"
)

// WithProvider makes p reachable from every request context through authctx.FromContext
func WithProvider(p *authctx.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(authctx.WithProvider(c.Request.Context(), p))
		c.Next()
	}
}

// RequireAuth lets authenticated requests through, shows the placeholder while the
// auth context is loading and sends everyone else to the sign-in page
func RequireAuth(p *authctx.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch {
		case p.Loading():
			renderPlaceholder(c)
		case p.IsAuthenticated():
			c.Next()
		default:
			c.Redirect(http.StatusFound, signInPath)
			c.Abort()
		}
	}
}

// RequireAnonymous is the inverse guard for the sign-in page: authenticated requests
// go to the user list
func RequireAnonymous(p *authctx.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch {
		case p.Loading():
			renderPlaceholder(c)
		case p.IsAuthenticated():
			c.Redirect(http.StatusFound, usersPath)
			c.Abort()
		default:
			c.Next()
		}
	}
}

// placeholderHTML refreshes itself until the auth context settles
const placeholderHTML = `<!DOCTYPE html>
<html lang="pt-BR"><head><meta charset="utf-8"><meta http-equiv="refresh" content="1">
<title>Carregando...</title><link rel="stylesheet" href="/static/console.css"></head>
<body><div class="loading">Carregando...</div></body></html>`

func renderPlaceholder(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(placeholderHTML))
	c.Abort()
}
