package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"parishly.org/internal/obs"
)

// Upload streams bytes into bucket/path and returns the object's public URL.
// Storage failures never touch session state.
func (c *Client) Upload(ctx context.Context, bucket, path string, r io.Reader, contentType string) (string, error) {
	if err := validateObjectRef(bucket, path); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	data, status, err := c.storageRoundTrip(ctx, "upload", http.MethodPost, bucket, path, r, contentType)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", &StorageError{Status: status, Bucket: bucket, Path: path, Message: errorMessage(data)}
	}
	return c.PublicURL(bucket, path), nil
}

// PublicURL returns the unauthenticated URL for an object in a public
// bucket. No network call is involved.
func (c *Client) PublicURL(bucket, path string) string {
	return c.baseURL + "/storage/v1/object/public/" + bucket + "/" + path
}

// SignedURL asks the backend for a time-limited URL to a private object.
func (c *Client) SignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error) {
	if err := validateObjectRef(bucket, path); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	body := map[string]int64{"expiresIn": int64(ttl.Seconds())}
	data, status, err := c.do(ctx, "sign_url", http.MethodPost, "/storage/v1/object/sign/"+bucket+"/"+path, nil, body, true)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", &StorageError{Status: status, Bucket: bucket, Path: path, Message: errorMessage(data)}
	}
	var resp struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("gateway: decode signed url: %w", err)
	}
	if resp.SignedURL == "" {
		return "", &StorageError{Status: status, Bucket: bucket, Path: path, Message: "empty signed url"}
	}
	if strings.HasPrefix(resp.SignedURL, "/") {
		return c.baseURL + resp.SignedURL, nil
	}
	return resp.SignedURL, nil
}

// Remove deletes an object by path.
func (c *Client) Remove(ctx context.Context, bucket, path string) error {
	if err := validateObjectRef(bucket, path); err != nil {
		return err
	}
	data, status, err := c.do(ctx, "remove_object", http.MethodDelete, "/storage/v1/object/"+bucket+"/"+path, nil, nil, true)
	if err != nil {
		return err
	}
	if status >= 400 && status != 404 {
		return &StorageError{Status: status, Bucket: bucket, Path: path, Message: errorMessage(data)}
	}
	return nil
}

// storageRoundTrip is the raw-body variant of the JSON round trip used by
// uploads.
func (c *Client) storageRoundTrip(ctx context.Context, op, method, bucket, path string, r io.Reader, contentType string) ([]byte, int, error) {
	u := c.baseURL + "/storage/v1/object/" + bucket + "/" + path
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, 0, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", contentType)
	token := c.apiKey
	if bearer, err := c.bearer(ctx); err != nil {
		return nil, 0, err
	} else if bearer != "" {
		token = bearer
	}
	req.Header.Set("Authorization", "Bearer "+token)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			obs.ObserveGatewayCall(op, 0, ctx.Err(), started)
			return nil, 0, ctx.Err()
		}
		err = classifyTransport(err)
		obs.ObserveGatewayCall(op, 0, err, started)
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	obs.ObserveGatewayCall(op, resp.StatusCode, readErr, started)
	if readErr != nil {
		return nil, resp.StatusCode, classifyTransport(readErr)
	}
	return data, resp.StatusCode, nil
}

func validateObjectRef(bucket, path string) error {
	if bucket == "" || path == "" {
		return &StorageError{Bucket: bucket, Path: path, Message: "bucket and path are required"}
	}
	if strings.Contains(path, "..") {
		return &StorageError{Bucket: bucket, Path: path, Message: "path must not traverse"}
	}
	return nil
}
