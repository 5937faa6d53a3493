// Package api implements the HTTP client for the devicelink server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/devicelink/devicelink/pkg/api"
)

// ErrStaleAuth is returned when the server rejects a session as revoked.
// The caller must discard its local credentials and re-verify; retrying
// with the same token can never succeed.
var ErrStaleAuth = errors.New("session revoked by server")

// ClientAPI is the surface the services consume; *Client implements it.
type ClientAPI interface {
	Recognize(ctx context.Context, req api.RecognizeRequest) (*api.RecognizeResponse, error)
	IssueVerification(ctx context.Context, req api.IssueVerificationRequest) error
	ConsumeVerification(ctx context.Context, req api.ConsumeVerificationRequest) (*api.ConsumeVerificationResponse, error)
	Sync(ctx context.Context, accessToken string, req api.SyncRequest) (*api.SyncResponse, error)
	UpdateHandle(ctx context.Context, accessToken string, req api.UpdateHandleRequest) (*api.AuthVersionResponse, error)
	SetPIN(ctx context.Context, accessToken string, req api.SetPINRequest) (*api.AuthVersionResponse, error)
	Reset(ctx context.Context, accessToken string) (*api.AuthVersionResponse, error)
}

// Client is the HTTP client for the devicelink server.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates an API client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// Recognize asks the server to recognize this device.
func (c *Client) Recognize(ctx context.Context, req api.RecognizeRequest) (*api.RecognizeResponse, error) {
	var resp api.RecognizeResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/device/recognize", "", req, &resp); err != nil {
		return nil, fmt.Errorf("recognize request failed: %w", err)
	}
	return &resp, nil
}

// IssueVerification requests a verification code for a phone.
func (c *Client) IssueVerification(ctx context.Context, req api.IssueVerificationRequest) error {
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/verify/issue", "", req, nil); err != nil {
		return fmt.Errorf("issue verification request failed: %w", err)
	}
	return nil
}

// ConsumeVerification submits a received code.
func (c *Client) ConsumeVerification(ctx context.Context, req api.ConsumeVerificationRequest) (*api.ConsumeVerificationResponse, error) {
	var resp api.ConsumeVerificationResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/verify/consume", "", req, &resp); err != nil {
		return nil, fmt.Errorf("consume verification request failed: %w", err)
	}
	return &resp, nil
}

// Sync pushes queued changes and pulls server deltas.
func (c *Client) Sync(ctx context.Context, accessToken string, req api.SyncRequest) (*api.SyncResponse, error) {
	var resp api.SyncResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/sync", accessToken, req, &resp); err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	return &resp, nil
}

// UpdateHandle renames the user's handle.
func (c *Client) UpdateHandle(ctx context.Context, accessToken string, req api.UpdateHandleRequest) (*api.AuthVersionResponse, error) {
	var resp api.AuthVersionResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/user/handle", accessToken, req, &resp); err != nil {
		return nil, fmt.Errorf("update handle request failed: %w", err)
	}
	return &resp, nil
}

// SetPIN sets the user's PIN.
func (c *Client) SetPIN(ctx context.Context, accessToken string, req api.SetPINRequest) (*api.AuthVersionResponse, error) {
	var resp api.AuthVersionResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/user/pin", accessToken, req, &resp); err != nil {
		return nil, fmt.Errorf("set pin request failed: %w", err)
	}
	return &resp, nil
}

// Reset unlinks this device and revokes every session of the user.
func (c *Client) Reset(ctx context.Context, accessToken string) (*api.AuthVersionResponse, error) {
	var resp api.AuthVersionResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/user/reset", accessToken, struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("reset request failed: %w", err)
	}
	return &resp, nil
}

// doRequest performs one HTTP exchange. A 401 carrying the stale_auth code
// maps onto ErrStaleAuth.
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, body, result interface{}) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != "" {
			if errResp.Error == api.ErrorCodeStaleAuth {
				return ErrStaleAuth
			}
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
