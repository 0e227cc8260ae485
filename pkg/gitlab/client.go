// Package gitlab is the client for the source-code platform's REST API.
// Responses are returned as raw JSON so downstream stages forward the
// platform's exact bytes instead of a re-serialized struct.
package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotFound marks a 404 from the platform: the object is gone and the
// call must not be retried.
var ErrNotFound = errors.New("object not found")

// ErrDecode marks a response body that is not valid JSON.
var ErrDecode = errors.New("malformed response body")

// RetryPolicy bounds the exponential backoff applied to every API call.
// The delays form the prefix of 1, 2, 4, ... seconds clamped at
// MaxInterval, with MaxAttempts total attempts.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint64
}

// DefaultRetryPolicy is the production policy: 1s initial, doubling to a
// 32s cap, five attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Second,
		MaxInterval:     32 * time.Second,
		MaxAttempts:     5,
	}
}

// backOff materializes the policy's delay schedule: InitialInterval
// doubling each attempt, clamped at MaxInterval, no jitter.
func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = p.MaxInterval
	bo.MaxElapsedTime = 0
	return bo
}

// Client calls the platform API with a private token and bounded retry.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      RetryPolicy
	logger     *slog.Logger
}

// New creates a platform API client. timeout applies per request.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		retry:      DefaultRetryPolicy(),
		logger:     slog.Default().With("component", "gitlab-client"),
	}
}

// SetRetryPolicy overrides the retry policy. Tests shrink the intervals.
func (c *Client) SetRetryPolicy(p RetryPolicy) {
	c.retry = p
}

// GetJSON fetches path (relative to the base URL) and returns the raw
// response body. 404 maps to ErrNotFound without retry; other HTTP and
// network failures are retried until the policy is exhausted.
func (c *Client) GetJSON(ctx context.Context, path string) (json.RawMessage, error) {
	var body json.RawMessage

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("PRIVATE-TOKEN", c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: GET %s", ErrNotFound, path))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if !json.Valid(data) {
			return backoff.Permanent(fmt.Errorf("%w: GET %s", ErrDecode, path))
		}
		body = data
		return nil
	}

	// MaxAttempts includes the initial try.
	retries := c.retry.MaxAttempts
	if retries > 0 {
		retries--
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(c.retry.backOff(), retries), ctx))
	if err != nil {
		c.logger.Debug("Platform API call failed", "path", path, "error", err)
		return nil, err
	}
	return body, nil
}

// User fetches a user by ID.
func (c *Client) User(ctx context.Context, id int64) (json.RawMessage, error) {
	return c.GetJSON(ctx, fmt.Sprintf("/api/v4/users/%d", id))
}

// Project fetches a project by ID.
func (c *Client) Project(ctx context.Context, id int64) (json.RawMessage, error) {
	return c.GetJSON(ctx, fmt.Sprintf("/api/v4/projects/%d", id))
}

// Issue fetches one issue of a project.
func (c *Client) Issue(ctx context.Context, projectID, issueID int64) (json.RawMessage, error) {
	return c.GetJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/issues/%d", projectID, issueID))
}

// IssueNote fetches one note on an issue.
func (c *Client) IssueNote(ctx context.Context, projectID, issueID, noteID int64) (json.RawMessage, error) {
	return c.GetJSON(ctx, fmt.Sprintf("/api/v4/projects/%d/issues/%d/notes/%d", projectID, issueID, noteID))
}

// Group fetches a group by ID.
func (c *Client) Group(ctx context.Context, id int64) (json.RawMessage, error) {
	return c.GetJSON(ctx, fmt.Sprintf("/api/v4/groups/%d", id))
}

// Member is one entry of a group's member list.
type Member struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	AccessLevel int    `json:"access_level"`
}

// GroupMembers fetches the full member list of a group, inherited members
// included.
func (c *Client) GroupMembers(ctx context.Context, groupID int64) ([]Member, error) {
	body, err := c.GetJSON(ctx, fmt.Sprintf("/api/v4/groups/%d/members/all", groupID))
	if err != nil {
		return nil, err
	}
	var members []Member
	if err := json.Unmarshal(body, &members); err != nil {
		return nil, fmt.Errorf("%w: group %d member list: %v", ErrDecode, groupID, err)
	}
	return members, nil
}

// UserEmail fetches a user record and returns its email field. Used as the
// fallback when a group member entry carries no email.
func (c *Client) UserEmail(ctx context.Context, id int64) (string, error) {
	body, err := c.User(ctx, id)
	if err != nil {
		return "", err
	}
	var user struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &user); err != nil {
		return "", fmt.Errorf("%w: user %d: %v", ErrDecode, id, err)
	}
	return user.Email, nil
}

// SnippetAuthor identifies who created a public snippet.
type SnippetAuthor struct {
	Email string `json:"email"`
}

// Snippet is one entry of the public snippet list. Raw preserves the
// platform's exact JSON for emission downstream.
type Snippet struct {
	ID     int64
	Author SnippetAuthor
	Raw    json.RawMessage
}

// PublicSnippets lists all public snippets.
func (c *Client) PublicSnippets(ctx context.Context) ([]Snippet, error) {
	body, err := c.GetJSON(ctx, "/api/v4/snippets")
	if err != nil {
		return nil, err
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("%w: snippet list: %v", ErrDecode, err)
	}

	snippets := make([]Snippet, 0, len(raws))
	for _, raw := range raws {
		var s struct {
			ID     int64         `json:"id"`
			Author SnippetAuthor `json:"author"`
		}
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: snippet entry: %v", ErrDecode, err)
		}
		snippets = append(snippets, Snippet{ID: s.ID, Author: s.Author, Raw: raw})
	}
	return snippets, nil
}
