package caseflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Caseflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// FormVersion represents a published form version (partial).
type FormVersion struct {
	ID      string `json:"id"`
	FormKey string `json:"form_key"`
	Version int    `json:"version"`
	Title   string `json:"title,omitempty"`
}

// Case represents a running case.
type Case struct {
	ID            string `json:"id"`
	FormVersionID string `json:"form_version_id"`
	StartedBy     string `json:"started_by"`
	StartedAt     string `json:"started_at"`
}

// CaseBlock represents one instantiated block within a case.
type CaseBlock struct {
	ID              string  `json:"id"`
	CaseID          string  `json:"case_id"`
	BlockKey        string  `json:"block_key"`
	BlockVersion    int     `json:"block_version"`
	Title           string  `json:"title,omitempty"`
	DataJSON        string  `json:"data_json,omitempty"`
	Status          string  `json:"status"`
	AssigneeUserID  *string `json:"assignee_user_id,omitempty"`
	AssigneeGroupID *string `json:"assignee_group_id,omitempty"`
	DueAt           *string `json:"due_at,omitempty"`
	Version         int64   `json:"version"`
}

// CompleteBlockResult is the outcome of completing a block.
type CompleteBlockResult struct {
	Block          CaseBlock   `json:"block"`
	Opened         []CaseBlock `json:"opened,omitempty"`
	SkippedTargets []string    `json:"skipped_targets,omitempty"`
}

// TaskItem is the worklist mirror of a case block.
type TaskItem struct {
	ID             string  `json:"id"`
	CaseBlockID    string  `json:"case_block_id"`
	Status         string  `json:"status"`
	AssigneeUserID *string `json:"assignee_user_id,omitempty"`
	DueAt          *string `json:"due_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateFormVersion publishes a form version with its block pins. Pins are
// maps with block_key, block_version and optional title.
func (c *Client) CreateFormVersion(ctx context.Context, formKey string, version int, title string, pins []map[string]any) (FormVersion, error) {
	body := map[string]any{
		"form_key": formKey,
		"version":  version,
		"title":    title,
		"pins":     pins,
	}
	var resp FormVersion
	err := c.do(ctx, http.MethodPost, "v0/forms", body, &resp)
	return resp, err
}

// StartCase starts a case for a form version, opening one block per start
// key.
func (c *Client) StartCase(ctx context.Context, formVersionID string, startKeys []string) (Case, error) {
	body := map[string]any{
		"form_version_id":  formVersionID,
		"start_block_keys": startKeys,
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "v0/cases", body, &resp)
	return resp, err
}

// ListBlocks returns the blocks of a case.
func (c *Client) ListBlocks(ctx context.Context, caseID string) ([]CaseBlock, error) {
	var resp []CaseBlock
	endpoint := fmt.Sprintf("v0/cases/%s/blocks", url.PathEscape(caseID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetBlockData replaces the data payload of a block.
func (c *Client) SetBlockData(ctx context.Context, blockID string, data map[string]any) (CaseBlock, error) {
	var resp CaseBlock
	endpoint := fmt.Sprintf("v0/blocks/%s/data", url.PathEscape(blockID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"data": data}, &resp)
	return resp, err
}

// CompleteBlock completes a block and returns what the routing opened.
func (c *Client) CompleteBlock(ctx context.Context, blockID string) (CompleteBlockResult, error) {
	var resp CompleteBlockResult
	endpoint := fmt.Sprintf("v0/blocks/%s/complete", url.PathEscape(blockID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// AssignBlock sets the assignee and due date of a block. A nil dueAt
// keeps the current due date.
func (c *Client) AssignBlock(ctx context.Context, blockID string, userID, groupID, dueAt *string) (CaseBlock, error) {
	body := map[string]any{}
	if userID != nil {
		body["assignee_user_id"] = *userID
	}
	if groupID != nil {
		body["assignee_group_id"] = *groupID
	}
	if dueAt != nil {
		body["due_at"] = *dueAt
	}
	var resp CaseBlock
	endpoint := fmt.Sprintf("v0/blocks/%s/assign", url.PathEscape(blockID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SetBlockStatus moves a block through its working statuses.
func (c *Client) SetBlockStatus(ctx context.Context, blockID, status string) (CaseBlock, error) {
	var resp CaseBlock
	endpoint := fmt.Sprintf("v0/blocks/%s/status", url.PathEscape(blockID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// ListTasks returns the task mirror for a case.
func (c *Client) ListTasks(ctx context.Context, caseID string) ([]TaskItem, error) {
	var resp []TaskItem
	endpoint := fmt.Sprintf("v0/cases/%s/tasks", url.PathEscape(caseID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns events after the given id, oldest first.
func (c *Client) Events(ctx context.Context, afterID int64, limit int) ([]Event, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if afterID > 0 {
		params.Set("after_id", fmt.Sprintf("%d", afterID))
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
