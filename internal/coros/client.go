// Package coros implements the COROS Open API activity client.
//
// COROS passes the access token and open id as query parameters and wraps every
// response in an envelope whose "result" code carries the real status.
package coros

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"trainer/internal/provider"
	"trainer/internal/store"
)

const BaseURL = "https://open.coros.com"

const (
	DefaultListTimeout     = 30 * time.Second
	DefaultValidateTimeout = 15 * time.Second
)

const (
	resultOK = "0000"
	// token invalid / token expired
	resultTokenInvalid = "5001"
	resultTokenExpired = "5003"
)

const dateLayout = "20060102"

var (
	envelopeSchema = provider.MustCompileSchema("https://trainer.invalid/schemas/coros-envelope.json", `{
		"type": "object",
		"required": ["result"],
		"properties": {"result": {"type": "string"}}
	}`)
	listSchema = provider.MustCompileSchema("https://trainer.invalid/schemas/coros-sport-list.json", `{
		"type": "object",
		"required": ["result"],
		"properties": {
			"result": {"type": "string"},
			"data": {"type": ["array", "null"], "items": {"type": "object"}}
		}
	}`)
)

type envelope struct {
	Result  string          `json:"result"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client is a COROS Open API client
type Client struct {
	baseURL         string
	httpClient      *http.Client
	listTimeout     time.Duration
	validateTimeout time.Duration
	now             func() time.Time
}

// Option configures a Client
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

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

// NewClient creates a COROS client
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:         BaseURL,
		httpClient:      http.DefaultClient,
		listTimeout:     DefaultListTimeout,
		validateTimeout: DefaultValidateTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() provider.Name {
	return provider.Coros
}

// Validate fetches the account profile
func (c *Client) Validate(ctx context.Context, cred store.Credential) (provider.PageResult, error) {
	result, _, err := c.get(ctx, cred, "/v2/coros/userinfosim", url.Values{}, c.validateTimeout, envelopeSchema)
	return result, err
}

// FetchActivityPage lists one page of sport records between Since and today
func (c *Client) FetchActivityPage(ctx context.Context, cred store.Credential, req provider.PageRequest) (provider.PageResult, error) {
	now := c.now().UTC()
	start := req.Since
	if start.IsZero() {
		start = now.AddDate(-10, 0, 0)
	}

	params := url.Values{}
	params.Set("startDate", start.UTC().Format(dateLayout))
	params.Set("endDate", now.Format(dateLayout))
	params.Set("pageNumber", strconv.Itoa(req.Page))
	params.Set("size", strconv.Itoa(req.PageSize))

	result, data, err := c.get(ctx, cred, "/v2/coros/sport/list", params, c.listTimeout, listSchema)
	if err != nil || result.Outcome != provider.OutcomeOK {
		return result, err
	}

	if len(data) == 0 || string(data) == "null" {
		return provider.Ok(nil), nil
	}
	records, err := provider.SplitRecords(data)
	if err != nil {
		return provider.Malformed(result.Status, err, cred.AccessToken, cred.RefreshToken), nil
	}
	return provider.Ok(records), nil
}

// get issues a GET with the token in the query string and unwraps the envelope.
// data is only returned for successful envelopes.
func (c *Client) get(ctx context.Context, cred store.Credential, path string, params url.Values, timeout time.Duration, schema *provider.PageSchema) (provider.PageResult, json.RawMessage, error) {
	secrets := []string{cred.AccessToken, cred.RefreshToken}

	params.Set("token", cred.AccessToken)
	params.Set("openId", cred.ExternalAccountID)
	reqURL := c.baseURL + path + "?" + params.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return provider.PageResult{}, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		result, ferr := provider.TransportFailure(ctx, err)
		// url.Error embeds the request URL, token included
		if errors.Is(ferr, provider.ErrUnreachable) {
			ferr = fmt.Errorf("%w: %s", provider.ErrUnreachable, provider.Redact(err.Error(), secrets...))
		}
		return result, nil, ferr
	}
	defer resp.Body.Close()

	body, err := provider.ReadBody(resp)
	if err != nil {
		result, err := provider.TransportFailure(ctx, err)
		return result, nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return provider.ClassifyStatus(resp, body, c.now(), secrets...), nil, nil
	}

	if err := schema.Validate(body); err != nil {
		return provider.Malformed(resp.StatusCode, err, secrets...), nil, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return provider.Malformed(resp.StatusCode, err, secrets...), nil, nil
	}

	switch env.Result {
	case resultOK:
		return provider.PageResult{Outcome: provider.OutcomeOK, Status: resp.StatusCode}, env.Data, nil
	case resultTokenInvalid, resultTokenExpired:
		return provider.PageResult{
			Outcome: provider.OutcomeAuthExpired,
			Status:  http.StatusUnauthorized,
			Detail:  fmt.Sprintf("result %s: %s", env.Result, provider.Excerpt([]byte(env.Message), secrets...)),
		}, nil, nil
	default:
		return provider.PageResult{
			Outcome: provider.OutcomeMalformed,
			Status:  resp.StatusCode,
			Detail:  fmt.Sprintf("result %s: %s", env.Result, provider.Excerpt([]byte(env.Message), secrets...)),
		}, nil, nil
	}
}
