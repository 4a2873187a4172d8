package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"parishly.org/internal/session"
)

// tokenResponse is the auth endpoint's grant envelope.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// SignIn authenticates with email and password. The resulting credential is
// cached, persisted and announced on CredentialChanges.
func (c *Client) SignIn(ctx context.Context, email, password string) (*session.Identity, error) {
	query := url.Values{"grant_type": {"password"}}
	body := map[string]string{"email": email, "password": password}
	data, status, err := c.do(ctx, "sign_in", http.MethodPost, "/auth/v1/token", query, body, false)
	if err != nil {
		return nil, err
	}
	id, err := c.identityFromGrant(data, status)
	if err != nil {
		return nil, err
	}
	c.setIdentity(id, true, true)
	return cloneIdentity(id), nil
}

// SignUp registers a new account. Duplicate email and password-policy
// rejections surface as *AuthError.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*session.Identity, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"display_name": displayName},
	}
	data, status, err := c.do(ctx, "sign_up", http.MethodPost, "/auth/v1/signup", nil, body, false)
	if err != nil {
		return nil, err
	}
	id, err := c.identityFromGrant(data, status)
	if err != nil {
		return nil, err
	}
	c.setIdentity(id, true, true)
	return cloneIdentity(id), nil
}

// SignOut clears the cached and persisted credential unconditionally, then
// revokes the session remotely on a best-effort basis. The remote call
// failing never resurrects local state.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	var token string
	if c.identity != nil {
		token = c.identity.AccessToken
	}
	c.mu.Unlock()

	c.setIdentity(nil, true, true)

	if token == "" {
		return nil
	}
	headers := http.Header{"Authorization": {"Bearer " + token}}
	_, status, err := c.do(ctx, "sign_out", http.MethodPost, "/auth/v1/logout", nil, nil, false, headers)
	if err != nil {
		return err
	}
	if status >= 400 && status != 401 {
		return &AuthError{Status: status, Message: "logout rejected"}
	}
	return nil
}

// CurrentSession resumes a previously persisted session by redeeming the
// stored refresh token. The refreshed credential is cached and persisted but
// not announced; the caller owns the result and publishes it itself.
// ErrNoSession means nothing was persisted; an
// *AuthError means the stored token was revoked or expired (the stale
// credential is cleared as a side effect).
func (c *Client) CurrentSession(ctx context.Context) (*session.Identity, error) {
	cred, err := c.creds.Load()
	if errors.Is(err, ErrNoStoredCredential) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	id, err := c.refresh(ctx, cred.RefreshToken, false)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			_ = c.creds.Clear()
		}
		return nil, err
	}
	return cloneIdentity(id), nil
}

// refresh redeems a refresh token for a new credential and caches it. The
// announce flag is threaded through to setIdentity: silent refreshes on the
// request path announce, CurrentSession does not.
func (c *Client) refresh(ctx context.Context, refreshToken string, announce bool) (*session.Identity, error) {
	if refreshToken == "" {
		return nil, ErrNoSession
	}
	query := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": refreshToken}
	data, status, err := c.do(ctx, "refresh", http.MethodPost, "/auth/v1/token", query, body, false)
	if err != nil {
		return nil, err
	}
	id, err := c.identityFromGrant(data, status)
	if err != nil {
		return nil, err
	}
	c.setIdentity(id, true, announce)
	return id, nil
}

// FetchProfile selects the profile row for the identity. A definitive
// not-found returns (nil, nil); any other failure returns the error and the
// caller decides whether the state is degraded or fatal.
func (c *Client) FetchProfile(ctx context.Context, identityID string) (*session.Profile, error) {
	if identityID == "" {
		return nil, &DataError{Collection: "profiles", Message: "identity id is required"}
	}
	records, err := c.Query(ctx, "profiles", Eq("id", identityID), Limit(1))
	if err != nil {
		var dataErr *DataError
		if errors.As(err, &dataErr) && dataErr.NotFound() {
			return nil, nil
		}
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	var profile session.Profile
	if err := json.Unmarshal(records[0], &profile); err != nil {
		return nil, fmt.Errorf("gateway: decode profile: %w", err)
	}
	if !profile.Role.Valid() {
		profile.Role = session.RoleMember
	}
	return &profile, nil
}

// identityFromGrant maps a token endpoint response onto an Identity. Expiry
// prefers expires_in, falling back to the token's own exp claim (unverified
// parse; the backend signed it, we only need the timestamp).
func (c *Client) identityFromGrant(data []byte, status int) (*session.Identity, error) {
	if status >= 400 {
		return nil, authErrorFromBody(data, status)
	}
	var grant tokenResponse
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("gateway: decode grant: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, &AuthError{Status: status, Message: "grant without access token"}
	}

	id := &session.Identity{
		ID:           grant.User.ID,
		Email:        grant.User.Email,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
	}
	if grant.ExpiresIn > 0 {
		id.ExpiresAt = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(grant.AccessToken, claims); err == nil {
		if id.ExpiresAt.IsZero() {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				id.ExpiresAt = exp.Time
			}
		}
		if id.ID == "" {
			if sub, err := claims.GetSubject(); err == nil {
				id.ID = sub
			}
		}
	}
	if id.ID == "" {
		return nil, &AuthError{Status: status, Message: "grant without subject"}
	}
	return id, nil
}

func authErrorFromBody(data []byte, status int) error {
	var envelope struct {
		Code string `json:"error_code"`
	}
	_ = json.Unmarshal(data, &envelope)
	return &AuthError{Status: status, Code: envelope.Code, Message: errorMessage(data)}
}
