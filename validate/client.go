package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/vistoamigo/tutor/formstate"
)

// Client calls the remote validation endpoint.
type Client struct {
	url    string
	client *http.Client
	policy *bluemonday.Policy
}

// NewClient creates a Client for the given endpoint URL.
// If httpClient is nil, a default client with a 5s timeout is used.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{
		url:    url,
		client: httpClient,
		policy: bluemonday.StrictPolicy(),
	}
}

// checkRequest is the wire shape of the validation request.
type checkRequest struct {
	StepID   string         `json:"step_id"`
	FormData map[string]any `json:"form_data"`
}

// Check validates a snapshot against the remote service. Transport failures
// and non-2xx responses return an error; callers fall back to
// [NetworkFailure] and skip the cache.
func (c *Client) Check(ctx context.Context, snap *formstate.Snapshot) (Result, error) {
	body, err := json.Marshal(checkRequest{
		StepID:   snap.StepID,
		FormData: snap.FormData(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("validate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("validate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("validate: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("%w: %d", ErrRemoteStatus, resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("validate: decode response: %w", err)
	}

	c.sanitize(&result)
	return result, nil
}

// sanitize strips any markup from remote strings before they can reach the
// host UI. The remote service is trusted for semantics, not for HTML.
func (c *Client) sanitize(r *Result) {
	for i := range r.Errors {
		r.Errors[i].Message = c.clean(r.Errors[i].Message)
	}
	for i := range r.Suggestions {
		r.Suggestions[i] = c.clean(r.Suggestions[i])
	}
}

func (c *Client) clean(s string) string {
	// StrictPolicy strips tags but entity-escapes the remainder; unescape to
	// keep the messages plain text.
	return html.UnescapeString(c.policy.Sanitize(s))
}
