// Package apify runs a LinkedIn jobs scraper actor on the Apify platform.
//
// A scrape is one actor run: Start launches it and returns the run id as the
// handle, Wait long-polls the run until it finishes and then reads its
// default dataset, Abort asks Apify to stop the run.
package apify

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

	"golang.org/x/time/rate"

	"jobmate/scrape-service/internal/scrapejob"
)

const (
	DefaultBaseURL = "https://api.apify.com"
	DefaultActorID = "curious_coder/linkedin-jobs-scraper"

	httpTimeout   = 90 * time.Second
	maxWaitSecond = 60
	maxErrorBody  = 512
)

// Run statuses reported by the Apify API.
const (
	runSucceeded = "SUCCEEDED"
	runFailed    = "FAILED"
	runTimedOut  = "TIMED-OUT"
	runAborted   = "ABORTED"
)

// Config configures a Client.
type Config struct {
	Token             string
	ActorID           string
	BaseURL           string
	PollInterval      time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client implements scrapejob.Scraper on the Apify REST API.
type Client struct {
	token   string
	actorID string
	baseURL string
	wait    time.Duration
	limiter *rate.Limiter
	http    *http.Client
}

// New builds a Client, filling unset fields with defaults.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("apify: token is required")
	}
	if cfg.ActorID == "" {
		cfg.ActorID = DefaultActorID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: httpTimeout}
	}

	return &Client{
		token:   cfg.Token,
		actorID: strings.ReplaceAll(cfg.ActorID, "/", "~"),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		wait:    cfg.PollInterval,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		http:    cfg.HTTPClient,
	}, nil
}

// runInput is the actor input of the LinkedIn jobs scraper.
type runInput struct {
	URLs          []string `json:"urls"`
	Count         int      `json:"count"`
	ScrapeCompany bool     `json:"scrapeCompany"`
}

// run mirrors the "data" object of actor-run responses.
type run struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	DefaultDatasetID string `json:"defaultDatasetId"`
}

type runEnvelope struct {
	Data run `json:"data"`
}

// item mirrors one dataset item produced by the actor.
type item struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	CompanyName     string   `json:"companyName"`
	Location        string   `json:"location"`
	Link            string   `json:"link"`
	DescriptionText string   `json:"descriptionText"`
	PostedAt        string   `json:"postedAt"`
	SalaryInfo      []string `json:"salaryInfo"`
}

// Start launches an actor run for the search and returns its run id.
func (c *Client) Start(ctx context.Context, params scrapejob.SearchParams) (string, error) {
	body, err := json.Marshal(runInput{
		URLs:          []string{params.LinkedInSearchURL()},
		Count:         params.JobCount,
		ScrapeCompany: true,
	})
	if err != nil {
		return "", err
	}

	var env runEnvelope
	if err := c.do(ctx, http.MethodPost, "/v2/acts/"+c.actorID+"/runs", nil, body, &env); err != nil {
		return "", fmt.Errorf("start actor run: %w", err)
	}
	if env.Data.ID == "" {
		return "", errors.New("start actor run: response has no run id")
	}
	return env.Data.ID, nil
}

// Wait blocks until the run finishes and returns the scraped listings.
func (c *Client) Wait(ctx context.Context, handle string) (scrapejob.ScrapeResult, error) {
	secs := int(c.wait / time.Second)
	if secs < 1 {
		secs = 1
	}
	if secs > maxWaitSecond {
		secs = maxWaitSecond
	}
	q := url.Values{"waitForFinish": {strconv.Itoa(secs)}}

	for {
		var env runEnvelope
		if err := c.do(ctx, http.MethodGet, "/v2/actor-runs/"+url.PathEscape(handle), q, nil, &env); err != nil {
			return scrapejob.ScrapeResult{}, fmt.Errorf("poll actor run %s: %w", handle, err)
		}

		switch env.Data.Status {
		case runSucceeded:
			return c.items(ctx, env.Data.DefaultDatasetID)
		case runFailed:
			return scrapejob.ScrapeResult{}, &scrapejob.AdapterError{
				Msg: "The job scraper could not complete this search. Please try again.",
				Err: fmt.Errorf("actor run %s failed", handle),
			}
		case runTimedOut:
			return scrapejob.ScrapeResult{}, &scrapejob.AdapterError{
				Msg: "The job scraper took too long to respond. Please try again.",
				Err: fmt.Errorf("actor run %s timed out", handle),
			}
		case runAborted:
			return scrapejob.ScrapeResult{}, fmt.Errorf("actor run %s was aborted", handle)
		}

		if err := ctx.Err(); err != nil {
			return scrapejob.ScrapeResult{}, err
		}
	}
}

// Abort asks Apify to stop the run. Aborting a finished run is an error on
// Apify's side and is reported as-is.
func (c *Client) Abort(ctx context.Context, handle string) error {
	if err := c.do(ctx, http.MethodPost, "/v2/actor-runs/"+url.PathEscape(handle)+"/abort", nil, nil, nil); err != nil {
		return fmt.Errorf("abort actor run %s: %w", handle, err)
	}
	return nil
}

func (c *Client) items(ctx context.Context, datasetID string) (scrapejob.ScrapeResult, error) {
	if datasetID == "" {
		return scrapejob.ScrapeResult{}, errors.New("actor run has no dataset")
	}
	q := url.Values{"clean": {"true"}, "format": {"json"}}

	var items []item
	if err := c.do(ctx, http.MethodGet, "/v2/datasets/"+url.PathEscape(datasetID)+"/items", q, nil, &items); err != nil {
		return scrapejob.ScrapeResult{}, fmt.Errorf("read dataset %s: %w", datasetID, err)
	}

	listings := make([]scrapejob.Listing, 0, len(items))
	for _, it := range items {
		listings = append(listings, scrapejob.Listing{
			ExternalID:  it.ID,
			Title:       strings.TrimSpace(it.Title),
			Company:     strings.TrimSpace(it.CompanyName),
			Location:    strings.TrimSpace(it.Location),
			URL:         it.Link,
			Description: it.DescriptionText,
			PostedAt:    it.PostedAt,
			Salary:      strings.Join(it.SalaryInfo, " - "),
		})
	}
	return scrapejob.ScrapeResult{Listings: listings}, nil
}

// do performs one rate-limited API call and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("apify returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ scrapejob.Scraper = (*Client)(nil)
