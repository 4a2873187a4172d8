// Package gateway translates application intents (authenticate, fetch
// profile, query or mutate a collection, upload a blob) into calls against
// the hosted backend, normalizing failures into a single error taxonomy.
//
// The client is safe for concurrent use. It is stateless apart from the
// cached credential needed for transparent refresh; every call may replace
// that credential, so callers must never hold on to access tokens.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"parishly.org/internal/obs"
	"parishly.org/internal/session"
)

// refreshSkew is subtracted from the token expiry so a credential is renewed
// slightly before the backend would reject it.
const refreshSkew = 30 * time.Second

// Client is the remote data gateway.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	creds   CredentialStore

	mu       sync.Mutex
	identity *session.Identity

	// refreshMu single-flights token redemption; rotating backends reject a
	// refresh token the moment a concurrent call has already redeemed it.
	refreshMu sync.Mutex

	changes chan session.CredentialChange
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, custom TLS).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithCredentialStore sets the store used to persist the refresh token
// between runs. Without one, sessions live only for the process lifetime.
func WithCredentialStore(s CredentialStore) Option {
	return func(c *Client) { c.creds = s }
}

// New creates a gateway client for the backend at baseURL, authenticating
// every request with the public API key.
func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("gateway: base URL is required")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gateway: API key is required")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		creds:   nopCredentialStore{},
		changes: make(chan session.CredentialChange, 8),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CredentialChanges returns the channel announcing sign-in, sign-out and
// silent refresh events. The session store is its only intended consumer;
// events are dropped when the consumer falls behind.
func (c *Client) CredentialChanges() <-chan session.CredentialChange { return c.changes }

// Identity returns a copy of the cached identity, or nil when signed out.
func (c *Client) Identity() *session.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneIdentity(c.identity)
}

func cloneIdentity(id *session.Identity) *session.Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}

// setIdentity replaces the cached credential. persist controls whether the
// refresh token is written through to the credential store; announce controls
// whether the change is published on the credential channel. CurrentSession
// passes announce=false: its caller owns that result, and echoing it back
// would make bootstrap supersede itself.
func (c *Client) setIdentity(id *session.Identity, persist, announce bool) {
	c.mu.Lock()
	c.identity = cloneIdentity(id)
	c.mu.Unlock()

	if persist {
		if id == nil {
			_ = c.creds.Clear()
		} else {
			_ = c.creds.Save(StoredCredential{RefreshToken: id.RefreshToken, UserID: id.ID, Email: id.Email})
		}
	}

	if !announce {
		return
	}
	select {
	case c.changes <- session.CredentialChange{Identity: cloneIdentity(id)}:
	default:
		// Consumer is behind; it will converge on the next event.
	}
}

// bearer returns a fresh access token, refreshing transparently when the
// cached one is within refreshSkew of expiry.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := cloneIdentity(c.identity)
	c.mu.Unlock()

	if id == nil {
		// Anonymous calls ride on the public API key alone.
		return "", nil
	}
	if time.Until(id.ExpiresAt) > refreshSkew {
		return id.AccessToken, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Re-check under the refresh lock: a concurrent caller may have already
	// rotated the credential while we waited.
	c.mu.Lock()
	id = cloneIdentity(c.identity)
	c.mu.Unlock()
	if id == nil {
		return "", nil
	}
	if time.Until(id.ExpiresAt) > refreshSkew {
		return id.AccessToken, nil
	}
	refreshed, err := c.refresh(ctx, id.RefreshToken, true)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// do performs one HTTP round trip and hands back the raw body and status.
// Transport failures are classified through the abort-defect filter; callers
// map status codes into the taxonomy that fits their endpoint family.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, authed bool, extra ...http.Header) ([]byte, int, error) {
	started := time.Now()
	data, status, err := c.roundTrip(ctx, method, path, query, body, authed, extra...)
	obs.ObserveGatewayCall(op, status, err, started)
	return data, status, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body any, authed bool, extra ...http.Header) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("gateway: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, headers := range extra {
		for k, vals := range headers {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}
	}
	if req.Header.Get("Authorization") == "" {
		token := c.apiKey
		if authed {
			bearer, err := c.bearer(ctx)
			if err != nil {
				return nil, 0, err
			}
			if bearer != "" {
				token = bearer
			}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, classifyTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, classifyTransport(err)
	}
	return data, resp.StatusCode, nil
}

// errorMessage extracts a human-readable message from a backend error body.
func errorMessage(data []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Error   string `json:"error"`
		Desc    string `json:"error_description"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		for _, m := range []string{envelope.Message, envelope.Msg, envelope.Desc, envelope.Error} {
			if m != "" {
				return m
			}
		}
	}
	if len(data) > 0 {
		return string(data)
	}
	return "no error body"
}
