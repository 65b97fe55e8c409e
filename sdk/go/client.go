package dealdesksdk

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

// Client is a minimal DealDesk HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// Role sets the X-Role header, honored only by servers running with
	// allow_role_header enabled.
	Role       string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Lead represents the API lead model.
type Lead struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Company              string  `json:"company"`
	Value                int64   `json:"value"`
	Stage                string  `json:"stage"`
	Probability          int     `json:"probability"`
	Notes                string  `json:"notes,omitempty"`
	QualificationScore   *int    `json:"qualification_score,omitempty"`
	QualificationSummary *string `json:"qualification_summary,omitempty"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// CommandResult is the envelope returned for a processed command.
type CommandResult struct {
	Kind    string          `json:"kind"`
	Text    string          `json:"text"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuditEntry represents one row of the audit trail.
type AuditEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	Severity  string `json:"severity"`
	Details   string `json:"details,omitempty"`
}

// PipelineSummary is the per-stage aggregate.
type PipelineSummary struct {
	Stages []struct {
		Stage string `json:"stage"`
		Count int    `json:"count"`
	} `json:"stages"`
	Total int `json:"total"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Command submits a free-text command.
func (c *Client) Command(ctx context.Context, text string) (CommandResult, error) {
	var resp CommandResult
	err := c.do(ctx, http.MethodPost, "v1/commands", map[string]any{"text": text}, &resp)
	return resp, err
}

// CreateLead creates a lead through the direct form path.
func (c *Client) CreateLead(ctx context.Context, name, company string, value int64, notes string) (Lead, error) {
	body := map[string]any{
		"name":    name,
		"company": company,
		"value":   value,
		"notes":   notes,
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, "v1/leads", body, &resp)
	return resp, err
}

// Leads lists every lead in insertion order.
func (c *Client) Leads(ctx context.Context) ([]Lead, error) {
	var resp []Lead
	err := c.do(ctx, http.MethodGet, "v1/leads", nil, &resp)
	return resp, err
}

// Lead fetches one lead by id.
func (c *Client) Lead(ctx context.Context, id string) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodGet, "v1/leads/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Advance moves a lead one stage forward.
func (c *Client) Advance(ctx context.Context, id string) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodPost, "v1/leads/"+url.PathEscape(id)+"/advance", nil, &resp)
	return resp, err
}

// Pipeline returns per-stage lead counts.
func (c *Client) Pipeline(ctx context.Context) (PipelineSummary, error) {
	var resp PipelineSummary
	err := c.do(ctx, http.MethodGet, "v1/pipeline", nil, &resp)
	return resp, err
}

// Audit lists audit entries, optionally filtered by status and severity.
func (c *Client) Audit(ctx context.Context, status, severity string, limit int) ([]AuditEntry, error) {
	endpoint := "v1/audit"
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if severity != "" {
		q.Set("severity", severity)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []AuditEntry
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
	case c.Role != "":
		req.Header.Set("X-Role", c.Role)
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
