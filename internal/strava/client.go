package strava

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"trainer/internal/provider"
	"trainer/internal/store"
)

const BaseURL = "https://www.strava.com/api/v3"

const (
	DefaultListTimeout     = 30 * time.Second
	DefaultValidateTimeout = 15 * time.Second
)

var pageSchema = provider.MustCompileSchema("https://trainer.invalid/schemas/strava-activities.json", provider.ArrayOfObjectsSchema)

// Client is a Strava API client
type Client struct {
	baseURL         string
	httpClient      *http.Client
	rateLimiter     *RateLimiter
	listTimeout     time.Duration
	validateTimeout time.Duration
	now             func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at a different API root (tests, proxies)
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeouts sets the per-request timeouts for listing and validation
func WithTimeouts(list, validate time.Duration) Option {
	return func(c *Client) {
		if list > 0 {
			c.listTimeout = list
		}
		if validate > 0 {
			c.validateTimeout = validate
		}
	}
}

// WithRateLimiter shares a limiter between clients for the same application
func WithRateLimiter(rl *RateLimiter) Option {
	return func(c *Client) { c.rateLimiter = rl }
}

// NewClient creates a new Strava API client
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:         BaseURL,
		httpClient:      http.DefaultClient,
		rateLimiter:     NewRateLimiter(),
		listTimeout:     DefaultListTimeout,
		validateTimeout: DefaultValidateTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements provider.Client
func (c *Client) Name() provider.Name {
	return provider.Strava
}

// Validate checks the access token against the authenticated athlete endpoint
func (c *Client) Validate(ctx context.Context, cred store.Credential) (provider.PageResult, error) {
	result, _, err := c.get(ctx, cred, "/athlete", nil, c.validateTimeout)
	return result, err
}

// FetchActivityPage fetches one page of the athlete's activities
func (c *Client) FetchActivityPage(ctx context.Context, cred store.Credential, req provider.PageRequest) (provider.PageResult, error) {
	params := url.Values{}
	if !req.Since.IsZero() {
		params.Set("after", strconv.FormatInt(req.Since.Unix(), 10))
	}
	params.Set("page", strconv.Itoa(req.Page))
	params.Set("per_page", strconv.Itoa(req.PageSize))

	result, body, err := c.get(ctx, cred, "/athlete/activities", params, c.listTimeout)
	if err != nil || result.Outcome != provider.OutcomeOK {
		return result, err
	}

	if err := pageSchema.Validate(body); err != nil {
		return provider.Malformed(result.Status, err, cred.AccessToken, cred.RefreshToken), nil
	}
	records, err := provider.SplitRecords(body)
	if err != nil {
		return provider.Malformed(result.Status, err, cred.AccessToken, cred.RefreshToken), nil
	}
	return provider.Ok(records), nil
}

// RateLimitStatus returns the current rate limit status
func (c *Client) RateLimitStatus() (shortRemaining, dailyRemaining int) {
	return c.rateLimiter.Status()
}

// get issues an authenticated GET. The body is only returned for 200 responses.
func (c *Client) get(ctx context.Context, cred store.Credential, path string, params url.Values, timeout time.Duration) (provider.PageResult, []byte, error) {
	now := c.now()
	if ok, wait := c.rateLimiter.Allow(now); !ok {
		return provider.PageResult{
			Outcome:    provider.OutcomeRateLimited,
			Status:     http.StatusTooManyRequests,
			RetryAfter: wait,
			Detail:     "request budget exhausted",
		}, nil, nil
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return provider.PageResult{}, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	(&oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"}).SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		result, err := provider.TransportFailure(ctx, err)
		return result, nil, err
	}
	defer resp.Body.Close()

	// Update rate limiter from response headers
	c.rateLimiter.UpdateFromHeaders(resp.Header, c.now())

	body, err := provider.ReadBody(resp)
	if err != nil {
		result, err := provider.TransportFailure(ctx, err)
		return result, nil, err
	}

	if resp.StatusCode != http.StatusOK {
		result := provider.ClassifyStatus(resp, body, c.now(), cred.AccessToken, cred.RefreshToken)
		if result.Outcome == provider.OutcomeRateLimited && result.RetryAfter == 0 {
			result.RetryAfter = c.rateLimiter.RetryHint(c.now())
		}
		return result, nil, nil
	}

	return provider.PageResult{Outcome: provider.OutcomeOK, Status: resp.StatusCode}, body, nil
}
