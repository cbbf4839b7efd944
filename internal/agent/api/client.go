// Package api is the agent's HTTP client for the remote broker and
// reconciliation endpoints. It owns the device access token and maps
// transport and status failures onto the shared error taxonomy, so callers
// can decide between retrying, surfacing, and giving up with errors.Is.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/logging"
)

type Client struct {
	baseURL      string
	deviceID     string
	deviceSecret string
	httpc        *http.Client
	log          logging.Logger

	mu          sync.Mutex
	accessToken string
}

func New(baseURL, deviceID, deviceSecret string, timeout time.Duration, log logging.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		deviceID:     deviceID,
		deviceSecret: deviceSecret,
		httpc:        &http.Client{Timeout: timeout},
		log:          log.With("component", "api_client"),
	}
}

type loginRequest struct {
	DeviceID string `json:"deviceId"`
	Secret   string `json:"secret"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
}

// SignUploadRequest asks the broker for a short-lived upload destination.
type SignUploadRequest struct {
	AttachmentID string `json:"attachmentId"`
	MediaType    string `json:"mediaType"`
}

// SignUploadResponse carries the signed single-use target.
type SignUploadResponse struct {
	UploadURL string    `json:"uploadUrl"`
	RemoteURL string    `json:"remoteUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// OperationPayload is one operation log entry on the wire.
type OperationPayload struct {
	ID            string            `json:"id"`
	OperationType string            `json:"operationType"`
	AttachmentID  string            `json:"attachmentId"`
	RemoteURL     string            `json:"remoteUrl,omitempty"`
	OwnerMetadata map[string]string `json:"ownerMetadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// OperationResult is the per-entry delivery outcome. Batch failures report
// which entries failed, never just "batch failed".
type OperationResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

const (
	StatusApplied  = "applied"
	StatusRejected = "rejected"
)

type operationsRequest struct {
	Entries []OperationPayload `json:"entries"`
}

type operationsResponse struct {
	Results []OperationResult `json:"results"`
}

type deleteRequest struct {
	AttachmentID string `json:"attachmentId"`
	RemoteURL    string `json:"remoteUrl,omitempty"`
}

// Login obtains a fresh access token for the configured device.
func (c *Client) Login(ctx context.Context) error {
	var resp loginResponse
	err := c.post(ctx, "/v1/devices/login", loginRequest{DeviceID: c.deviceID, Secret: c.deviceSecret}, &resp, false)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	c.mu.Lock()
	c.accessToken = resp.AccessToken
	c.mu.Unlock()
	return nil
}

// Ping probes server reachability.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w: %w", common.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping: status %s: %w", resp.Status, common.ErrTransient)
	}
	return nil
}

// SignUpload requests a signed upload target from the broker. Broker
// rejection (auth) fails distinctly from the broker being unreachable.
func (c *Client) SignUpload(ctx context.Context, attachmentID, mediaType string) (*SignUploadResponse, error) {
	var resp SignUploadResponse
	err := c.post(ctx, "/v1/uploads/sign", SignUploadRequest{AttachmentID: attachmentID, MediaType: mediaType}, &resp, true)
	if err != nil {
		return nil, fmt.Errorf("sign upload %s: %w", attachmentID, err)
	}
	return &resp, nil
}

// SubmitOperations delivers a batch of operation log entries, in order, and
// returns the per-entry outcomes.
func (c *Client) SubmitOperations(ctx context.Context, entries []OperationPayload) ([]OperationResult, error) {
	var resp operationsResponse
	err := c.post(ctx, "/v1/operations", operationsRequest{Entries: entries}, &resp, true)
	if err != nil {
		return nil, fmt.Errorf("submit operations: %w", err)
	}
	return resp.Results, nil
}

// DeleteAttachment asks the remote side to remove the object. Deleting an
// already-deleted object is not an error.
func (c *Client) DeleteAttachment(ctx context.Context, attachmentID, remoteURL string) error {
	err := c.post(ctx, "/v1/attachments/delete", deleteRequest{AttachmentID: attachmentID, RemoteURL: remoteURL}, nil, true)
	if err != nil {
		return fmt.Errorf("delete attachment %s: %w", attachmentID, err)
	}
	return nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// post sends a JSON POST. Authenticated calls log in lazily on first use and
// retry exactly once after a re-login when the server answers 401 with an
// expired-token body.
func (c *Client) post(ctx context.Context, path string, in, out any, authed bool) error {
	if authed && c.token() == "" {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}
	err := c.doPost(ctx, path, in, out, authed)
	if authed && isTokenExpired(err) {
		c.log.Debug(ctx, "access token expired, re-authenticating")
		if loginErr := c.Login(ctx); loginErr != nil {
			return loginErr
		}
		return c.doPost(ctx, path, in, out, authed)
	}
	return err
}

func (c *Client) doPost(ctx context.Context, path string, in, out any, authed bool) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+c.token())
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w: %w", path, common.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(path, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("post %s: decoding response: %w", path, err)
	}
	return nil
}

type apiError struct {
	Error string `json:"error"`
}

func statusError(path string, resp *http.Response) error {
	var body apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)
	reason := body.Error
	if reason == "" {
		reason = strings.TrimSpace(string(raw))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized && reason == common.ErrTokenExpired.Error():
		return fmt.Errorf("post %s: %w", path, common.ErrTokenExpired)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("post %s: %s: %w", path, reason, common.ErrUnauthorized)
	case resp.StatusCode >= 500:
		return fmt.Errorf("post %s: status %d: %w", path, resp.StatusCode, common.ErrTransient)
	default:
		return fmt.Errorf("post %s: status %d: %s: %w", path, resp.StatusCode, reason, common.ErrPermanentRejected)
	}
}

func isTokenExpired(err error) bool {
	return errors.Is(err, common.ErrTokenExpired)
}
