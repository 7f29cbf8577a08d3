// Package backend is the HTTP client for the pipeline backend's workflow
// endpoints: status polling and stall recovery.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"radtrack/internal/token"
)

const userAgent = "RadTrack-Go/0.1.0"

// Workflow status values returned by the backend.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Recovery outcomes returned by the backend.
const (
	RecoveryRecovered = "recovered"
	RecoveryRestarted = "restarted"
	RecoveryFailed    = "failed"
)

// ErrNotFound indicates the backend has no record of the workflow yet.
var ErrNotFound = errors.New("workflow not found")

// WorkflowStatus is the coarse state returned by the status endpoint.
type WorkflowStatus struct {
	Status  string `json:"status"`
	Details string `json:"details"`
}

// RecoveryResult is the backend's answer to a recovery request.
type RecoveryResult struct {
	Status string `json:"status"`
}

// Client talks to the backend workflow API. Every call is bounded by the
// client timeout so a hung backend produces an error event instead of a
// stuck dispatcher.
type Client struct {
	baseURL string
	client  *http.Client
	tokens  token.Provider
}

// New builds a client for the given API base URL.
func New(baseURL string, tokens token.Provider, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

// WorkflowStatus fetches the coarse status for a workflow. A 404 maps to
// ErrNotFound so the poller can treat it as "not yet created".
func (c *Client) WorkflowStatus(ctx context.Context, workflowID string) (*WorkflowStatus, error) {
	endpoint := c.baseURL + "/workflow/status/" + url.PathEscape(workflowID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch workflow status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, workflowID)
	}
	if resp.StatusCode >= 300 {
		return nil, responseError("status endpoint", resp)
	}

	var status WorkflowStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode workflow status: %w", err)
	}
	status.Status = strings.ToLower(strings.TrimSpace(status.Status))
	return &status, nil
}

// Recover asks the backend to report true status or restart a stalled
// workflow. The backend contract names the identifier field caseId; it
// carries the canonical workflow id.
func (c *Client) Recover(ctx context.Context, workflowID, action string) (*RecoveryResult, error) {
	body, err := json.Marshal(struct {
		CaseID string `json:"caseId"`
		Action string `json:"action"`
	}{CaseID: workflowID, Action: action})
	if err != nil {
		return nil, fmt.Errorf("encode recovery request: %w", err)
	}

	endpoint := c.baseURL + "/workflow/recover"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build recovery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send recovery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, responseError("recovery endpoint", resp)
	}

	var result RecoveryResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode recovery response: %w", err)
	}
	result.Status = strings.ToLower(strings.TrimSpace(result.Status))
	return &result, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	req.Header.Set("User-Agent", userAgent)
	if c.tokens == nil {
		return nil
	}
	credential, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtain credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	return nil
}

func responseError(label string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("%s returned %d: %s", label, resp.StatusCode, strings.TrimSpace(string(body)))
}
