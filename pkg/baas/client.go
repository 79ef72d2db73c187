package baas

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ClientInfo is sent as X-Client-Info on every request.
const ClientInfo = "workspace-go/0.1"

// DefaultTimeout bounds every HTTP round trip unless a custom client is given.
const DefaultTimeout = 10 * time.Second

// Client talks to one backend project.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	Auth *AuthClient

	logger *slog.Logger
}

// Option customises a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	storage    SessionStorage
	storageKey string
	logger     *slog.Logger
	now        func() time.Time
}

// WithHTTPClient replaces the default HTTP client, e.g. to add tracing.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

// WithSessionStorage persists the auth session across restarts.
func WithSessionStorage(s SessionStorage) Option {
	return func(o *clientOptions) { o.storage = s }
}

// WithStorageKey overrides the key the session is stored under.
func WithStorageKey(key string) Option {
	return func(o *clientOptions) { o.storageKey = key }
}

// WithLogger sets the logger used for background failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) { o.now = now }
}

// NewClient creates a client for the project at baseURL authenticated with
// the public (anon) API key.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	o := clientOptions{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		storage:    NewMemoryStorage(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	baseURL = strings.TrimSuffix(baseURL, "/")
	if o.storageKey == "" {
		o.storageKey = DefaultStorageKey(baseURL)
	}

	c := &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: o.httpClient,
		logger:     o.logger,
	}
	c.Auth = newAuthClient(c, o.storage, o.storageKey, o.now)
	return c
}

// HealthResponse is returned by the auth service health endpoint.
type HealthResponse struct {
	Version     string `json:"version"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Health pings the auth service.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/v1/health", nil, "")
	if err != nil {
		return nil, err
	}

	var out HealthResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
