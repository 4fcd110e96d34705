// Package client is a typed HTTP client for the drey API.
//
// Read-only calls are retried with exponential backoff on transport errors and 5xx
// responses. Mutating calls are sent exactly once.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dyluth/drey/pkg/objective"
)

// DefaultBaseURL is the address `drey serve` listens on by default.
const DefaultBaseURL = "http://localhost:8080"

const defaultRetries = 3

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("drey API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("drey API returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// StagingStatus reports where an objective currently lives.
type StagingStatus struct {
	Status    string               `json:"status"`
	Source    string               `json:"source,omitempty"`
	Objective *objective.Objective `json:"objective,omitempty"`
	PlanDraft *struct {
		Steps []objective.PlanStep `json:"steps"`
	} `json:"plan_draft,omitempty"`
}

// SearchResult is one semantic search hit.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Health is the /healthz response.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Error  string            `json:"error,omitempty"`
}

// Client talks to a drey server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	retries uint64
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetries sets how many times a read-only call is retried. Zero disables retries.
func WithRetries(n uint64) Option {
	return func(c *Client) { c.retries = n }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retries: defaultRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit ingests free-form text and returns the new objective id.
func (c *Client) Submit(ctx context.Context, text string) (string, error) {
	var out struct {
		ObjectiveID string `json:"objective_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/objectives", map[string]string{"text": text}, &out); err != nil {
		return "", err
	}
	return out.ObjectiveID, nil
}

// Confirm approves or rejects the drafted plan. Non-empty steps replace the draft.
func (c *Client) Confirm(ctx context.Context, id string, approved bool, steps []objective.PlanStep) (*objective.Objective, error) {
	type stepInput struct {
		StepNumber  int     `json:"step_number"`
		Description string  `json:"description,omitempty"`
		Weight      float64 `json:"weight,omitempty"`
	}
	body := struct {
		Approved      bool        `json:"approved"`
		Modifications []stepInput `json:"modifications,omitempty"`
	}{Approved: approved}
	for _, s := range steps {
		body.Modifications = append(body.Modifications, stepInput{
			StepNumber:  s.StepNumber,
			Description: s.Description,
			Weight:      s.Weight,
		})
	}

	var obj objective.Objective
	if err := c.do(ctx, http.MethodPost, "/v1/objectives/"+url.PathEscape(id)+"/confirm", body, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// CompleteStep marks a plan step completed and returns the updated objective.
func (c *Client) CompleteStep(ctx context.Context, id string, step int) (*objective.Objective, error) {
	var obj objective.Objective
	path := fmt.Sprintf("/v1/objectives/%s/steps/%d/complete", url.PathEscape(id), step)
	if err := c.do(ctx, http.MethodPost, path, nil, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// Get returns a committed objective.
func (c *Client) Get(ctx context.Context, id string) (*objective.Objective, error) {
	var obj objective.Objective
	if err := c.get(ctx, "/v1/objectives/"+url.PathEscape(id), nil, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// List returns up to limit committed objectives, newest first.
func (c *Client) List(ctx context.Context, limit int) ([]*objective.Objective, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var objs []*objective.Objective
	if err := c.get(ctx, "/v1/objectives", q, &objs); err != nil {
		return nil, err
	}
	return objs, nil
}

// StagingStatus reports whether the objective is staged, committed or unknown.
func (c *Client) StagingStatus(ctx context.Context, id string) (*StagingStatus, error) {
	var status StagingStatus
	if err := c.get(ctx, "/v1/objectives/"+url.PathEscape(id)+"/staging", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Search runs a semantic search over committed objectives, decisions and learnings.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var results []SearchResult
	if err := c.get(ctx, "/v1/search", q, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// DecisionRequest is a decision to record.
type DecisionRequest struct {
	Decision          string   `json:"decision"`
	Why               string   `json:"why"`
	Context           string   `json:"context,omitempty"`
	Alternatives      []string `json:"alternatives_considered,omitempty"`
	ExpectedOutcome   string   `json:"expected_outcome,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	SourceObjectiveID string   `json:"source_objective_id,omitempty"`
}

// LearningRequest is a learning to capture.
type LearningRequest struct {
	Content           string   `json:"content"`
	Category          string   `json:"category,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	SourceObjectiveID string   `json:"source_objective_id,omitempty"`
}

// LogDecision records a decision and returns it with its assigned id.
func (c *Client) LogDecision(ctx context.Context, req DecisionRequest) (*objective.Decision, error) {
	var d objective.Decision
	if err := c.do(ctx, http.MethodPost, "/v1/decisions", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Decisions returns up to limit decisions, newest first.
func (c *Client) Decisions(ctx context.Context, limit int) ([]*objective.Decision, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var ds []*objective.Decision
	if err := c.get(ctx, "/v1/decisions", q, &ds); err != nil {
		return nil, err
	}
	return ds, nil
}

// CaptureLearning records a learning and returns it with its assigned id and category.
func (c *Client) CaptureLearning(ctx context.Context, req LearningRequest) (*objective.Learning, error) {
	var l objective.Learning
	if err := c.do(ctx, http.MethodPost, "/v1/learnings", req, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Learnings returns up to limit learnings, newest first.
func (c *Client) Learnings(ctx context.Context, limit int) ([]*objective.Learning, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var ls []*objective.Learning
	if err := c.get(ctx, "/v1/learnings", q, &ls); err != nil {
		return nil, err
	}
	return ls, nil
}

// Health returns the server health report. An unhealthy server is not an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach drey server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &h, nil
}

// get performs a read-only call with retries.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var policy backoff.BackOff = backoff.NewExponentialBackOff()
	policy = backoff.WithMaxRetries(policy, c.retries)
	policy = backoff.WithContext(policy, ctx)

	return backoff.Retry(func() error {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach drey server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
