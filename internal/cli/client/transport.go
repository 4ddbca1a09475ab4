package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/spsgroup/spsadmin/internal/mask"
)

const (
	loginPath  = "/auth/login"
	signInPath = "/signin"

	headerRequestID     = "X-Request-ID"
	headerCSRFToken     = "X-CSRF-Token"
	headerRequestedWith = "X-Requested-With"
)

// SessionStore is the part of the session store the interceptors need
type SessionStore interface {
	Token(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// Navigator performs the forced navigation after the backend rejects the session
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

func isLoginRequest(req *http.Request) bool {
	return strings.Contains(req.URL.Path, loginPath)
}

func isMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// authTransport attaches the stored bearer token and a request id
type authTransport struct {
	next   http.RoundTripper
	store  SessionStore
	logger zerolog.Logger
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(headerRequestID, ulid.Make().String())

	token, err := t.store.Token(req.Context())
	if err != nil {
		// A broken store must not block the call; the backend answers 401 if it matters.
		t.logger.Warn().Err(err).Msg("failed to read session token")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return t.next.RoundTrip(req)
}

// csrfTransport stamps state-changing requests with an anti-replay header.
// The value is not verified by the backend.
type csrfTransport struct {
	next http.RoundTripper
}

func (t *csrfTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if isMutating(req.Method) {
		req = req.Clone(req.Context())
		req.Header.Set(headerRequestedWith, "XMLHttpRequest")
		req.Header.Set(headerCSRFToken, GenerateCSRFToken(time.Now()))
	}
	return t.next.RoundTrip(req)
}

// GenerateCSRFToken returns "<base36 unix millis>-<random base36 suffix>"
func GenerateCSRFToken(now time.Time) string {
	timestamp := strconv.FormatInt(now.UnixMilli(), 36)

	max := new(big.Int).Exp(big.NewInt(36), big.NewInt(11), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		n = big.NewInt(now.UnixNano())
	}
	return timestamp + "-" + n.Text(36)
}

// loggingTransport writes masked request/response diagnostics at debug level
type loggingTransport struct {
	next   http.RoundTripper
	logger zerolog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.logger.GetLevel() > zerolog.DebugLevel || zerolog.GlobalLevel() > zerolog.DebugLevel {
		return t.next.RoundTrip(req)
	}

	event := t.logger.Debug().
		Str("method", req.Method).
		Str("url", mask.String(req.URL.String())).
		Str("request_id", req.Header.Get(headerRequestID))
	if data := maskedBody(req); data != nil {
		event = event.Interface("data", data)
	}
	event.Msg("api request")

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.logger.Debug().Err(err).
			Str("method", req.Method).
			Str("url", mask.String(req.URL.String())).
			Dur("duration", time.Since(start)).
			Msg("api request failed")
		return nil, err
	}

	t.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("response received from protected endpoint")
	return resp, nil
}

// maskedBody returns the masked JSON object of the request body, if it has one
func maskedBody(req *http.Request) map[string]any {
	if req.GetBody == nil || !strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil
	}
	var data map[string]any
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&data); err != nil || len(data) == 0 {
		return nil
	}
	return mask.Fields(data)
}

// unauthorizedTransport clears the session and forces navigation to sign-in when a
// non-login call is answered with 401
type unauthorizedTransport struct {
	next      http.RoundTripper
	store     SessionStore
	navigator Navigator
	logger    zerolog.Logger
}

func (t *unauthorizedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && !isLoginRequest(req) {
		t.logger.Warn().
			Str("url", mask.String(req.URL.String())).
			Msg("backend rejected session, signing out")

		// The request context may already be done; the clear must still happen.
		if err := t.store.Clear(context.WithoutCancel(req.Context())); err != nil {
			t.logger.Error().Err(err).Msg("failed to clear session")
		}
		if t.navigator != nil {
			t.navigator.Navigate(signInPath)
		}
	}
	return resp, nil
}
