package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/spsgroup/spsadmin/internal/models"
)

const defaultTimeout = 30 * time.Second

// Client represents an HTTP client for the users API.
// Every call goes through the interceptor chain built in New.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type options struct {
	transport http.RoundTripper
	navigator Navigator
	logger    zerolog.Logger
	timeout   time.Duration
}

// Option customizes a Client
type Option func(*options)

// WithTransport sets the innermost transport (defaults to http.DefaultTransport)
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithNavigator sets the navigator used by the forced logout
func WithNavigator(n Navigator) Option {
	return func(o *options) { o.navigator = n }
}

// WithLogger sets the diagnostic logger. Requests are logged, masked, at debug level.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// New creates a new API client for baseURL. store supplies the bearer token and is
// cleared when the backend rejects the session.
func New(baseURL string, store SessionStore, opts ...Option) *Client {
	o := options{
		transport: http.DefaultTransport,
		logger:    zerolog.Nop(),
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var rt http.RoundTripper = &loggingTransport{next: o.transport, logger: o.logger}
	rt = &csrfTransport{next: rt}
	rt = &authTransport{next: rt, store: store, logger: o.logger}
	rt = &unauthorizedTransport{next: rt, store: store, navigator: o.navigator, logger: o.logger}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   o.timeout,
			Transport: rt,
		},
		logger: o.logger,
	}
}

// BaseURL returns the backend root the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Avatar is an image uploaded alongside user fields
type Avatar struct {
	Filename    string
	ContentType string
	Data        io.Reader
}

// Login authenticates the user. A 401 here is a credentials error and does not
// trigger the forced logout.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	c.logger.Debug().Msg("attempting secure authentication")

	var loginResp LoginResponse
	if err := c.doJSON(ctx, http.MethodPost, loginPath, LoginRequest{Email: email, Password: password}, &loginResp); err != nil {
		return nil, err
	}
	if loginResp.Token == "" {
		return nil, fmt.Errorf("login response did not include a token")
	}

	c.logger.Debug().Msg("authentication successful")
	return &loginResp, nil
}

// ListUsers returns all user accounts
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.doJSON(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetUser returns a single account
func (c *Client) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := c.doJSON(ctx, http.MethodGet, userPath(id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser creates an account from JSON fields
func (c *Client) CreateUser(ctx context.Context, in models.UserInput) (*models.User, error) {
	var user models.User
	if err := c.doJSON(ctx, http.MethodPost, "/users", in, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser replaces an account's fields. An empty password leaves it unchanged.
func (c *Client) UpdateUser(ctx context.Context, id int64, in models.UserInput) (*models.User, error) {
	var user models.User
	if err := c.doJSON(ctx, http.MethodPut, userPath(id), in, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser deletes an account
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, userPath(id), nil, nil)
}

// CreateUserWithFile creates an account with a multipart body. avatar may be nil.
func (c *Client) CreateUserWithFile(ctx context.Context, in models.UserInput, avatar *Avatar) (*models.User, error) {
	var user models.User
	if err := c.doMultipart(ctx, http.MethodPost, "/users", in, avatar, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserWithFile updates an account with a multipart body. avatar may be nil.
func (c *Client) UpdateUserWithFile(ctx context.Context, id int64, in models.UserInput, avatar *Avatar) (*models.User, error) {
	var user models.User
	if err := c.doMultipart(ctx, http.MethodPut, userPath(id), in, avatar, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func userPath(id int64) string {
	return "/users/" + strconv.FormatInt(id, 10)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) doMultipart(ctx context.Context, method, path string, in models.UserInput, avatar *Avatar, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, name := range []string{"name", "email", "type", "password"} {
		value, ok := in.Fields()[name]
		if !ok {
			continue
		}
		if err := w.WriteField(name, value); err != nil {
			return fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	if avatar != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="avatar"; filename=%q`, avatar.Filename))
		contentType := avatar.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)

		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("failed to create avatar part: %w", err)
		}
		if _, err := io.Copy(part, avatar.Data); err != nil {
			return fmt.Errorf("failed to read avatar: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		apiErr := newAPIError(resp.StatusCode, body)
		apiErr.sessionExpired = resp.StatusCode == http.StatusUnauthorized && !isLoginRequest(req)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
