// Package client is a Go client for the scrape-job REST API, including the
// polling loop that drives a request to a terminal state.
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
	"strings"
	"time"
)

// DefaultPollInterval is used when the server does not suggest one.
const DefaultPollInterval = 2 * time.Second

// ErrNotFound is returned for unknown or foreign request ids.
var ErrNotFound = errors.New("scrape job not found")

// ErrUnauthorized is returned when the server rejects the caller.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response other than 401 and 404.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scrape api: %d %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the call may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// StartRequest is the body of a start-search call.
type StartRequest struct {
	LinkedinURL  string   `json:"linkedinUrl,omitempty"`
	Keyword      string   `json:"keyword,omitempty"`
	Location     string   `json:"location,omitempty"`
	WorkType     string   `json:"workType,omitempty"`
	ResumeText   string   `json:"resumeText,omitempty"`
	JobCount     *int     `json:"jobCount,omitempty"`
	ExcludeTerms []string `json:"excludeTerms,omitempty"`
}

// Job is one enriched job posting.
type Job struct {
	ExternalID  string   `json:"externalId"`
	Title       string   `json:"title"`
	Company     string   `json:"company"`
	Location    string   `json:"location"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	PostedAt    string   `json:"postedAt,omitempty"`
	Salary      string   `json:"salary,omitempty"`
	Emails      []string `json:"emails,omitempty"`
	HasContact  bool     `json:"hasContact,omitempty"`
	MatchScore  int      `json:"matchScore,omitempty"`
	Locked      bool     `json:"locked,omitempty"`
}

// Results is the enriched payload of a completed request.
type Results struct {
	Jobs           []Job `json:"jobs"`
	TotalJobsFound int   `json:"totalJobsFound"`
	ContactsFound  int   `json:"contactsFound"`
	LockedJobs     int   `json:"lockedJobs"`
}

// Snapshot is the status of a request as returned by the poll endpoint.
type Snapshot struct {
	RequestID       string          `json:"requestId"`
	Status          string          `json:"status"`
	SearchParams    json.RawMessage `json:"searchParams,omitempty"`
	Results         []Job           `json:"results,omitempty"`
	FilteredResults []Job           `json:"filteredResults,omitempty"`
	EnrichedResults *Results        `json:"enrichedResults,omitempty"`
	ErrorMessage    *string         `json:"errorMessage,omitempty"`
	TotalJobsFound  *int            `json:"totalJobsFound,omitempty"`
	AbortRequested  bool            `json:"abortRequested"`
	PollIntervalMs  int64           `json:"pollIntervalMs"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Terminal reports whether the request reached completed, failed or cancelled.
func (s *Snapshot) Terminal() bool {
	switch s.Status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithToken sends "Authorization: Bearer <token>" on every call.
func WithToken(token string) Option {
	return func(c *Client) { c.header.Set("Authorization", "Bearer "+token) }
}

// WithUserID sends the Gateway's x-user-id header on every call.
func WithUserID(userID string) Option {
	return func(c *Client) { c.header.Set("x-user-id", userID) }
}

// Client calls one scrape service.
type Client struct {
	base   string
	http   *http.Client
	header http.Header
}

// New returns a Client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: invalid base URL %q", baseURL)
	}
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   http.DefaultClient,
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start creates a request and returns its id.
func (c *Client) Start(ctx context.Context, req StartRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	var out struct {
		RequestID string `json:"requestId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/scrape-job", body, &out); err != nil {
		return "", err
	}
	return out.RequestID, nil
}

// Get returns the current snapshot of a request.
func (c *Client) Get(ctx context.Context, requestID string) (*Snapshot, error) {
	var snap Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/scrape-job/"+url.PathEscape(requestID), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Abort requests cancellation. It succeeds on terminal requests too.
func (c *Client) Abort(ctx context.Context, requestID string) error {
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/scrape-job/"+url.PathEscape(requestID)+"/abort", nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return errors.New("scrape api: abort not acknowledged")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
