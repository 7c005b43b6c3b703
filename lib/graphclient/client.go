package graphclient

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"socialmetrics-backend/lib/telemetry"
)

const (
	statusTooManyRequests = 429
	// Meta's Graph API signals application-level throttling with this
	// non-standard status alongside the usual 429.
	statusVendorRateLimit = 613
)

// Credentials is the token material a platform client is constructed with.
// Resolution order: explicit argument, then Token, then Fallbacks in order.
// The orchestrator resolves these from its config once; the client never
// touches the environment.
type Credentials struct {
	Token     string
	Fallbacks []string
}

func (c Credentials) Resolve(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if c.Token != "" {
		return c.Token, nil
	}
	for _, t := range c.Fallbacks {
		if t != "" {
			return t, nil
		}
	}
	return "", ErrMissingCredential
}

// AuthStyle selects how the resolved token is attached to requests.
type AuthStyle int

const (
	// AuthQueryParam appends access_token=<token> (Graph API style).
	AuthQueryParam AuthStyle = iota
	// AuthBearerHeader sets Authorization: Bearer <token>.
	AuthBearerHeader
)

type ClientOptions struct {
	BaseURL     string
	Credentials Credentials
	AuthStyle   AuthStyle
	// Timeout bounds each individual request. Defaults to 60s.
	Timeout time.Duration
	// RetryCount is the number of retries after the initial attempt when
	// the upstream answers with a rate-limit status. Defaults to 5.
	RetryCount int
	// RetryBase is the exponent base for backoff waits. Defaults to 2.
	RetryBase int
	// RetryWaitUnit scales backoff waits: the n-th retry sleeps
	// RetryWaitUnit * RetryBase^(n-1). Defaults to 1s. Tests shrink it.
	RetryWaitUnit time.Duration
}

// Client issues authenticated GETs against one vendor REST API, retrying
// rate-limited responses with exponential backoff. It keeps no local state
// beyond the connection pool: no caching, no cursor memory.
type Client struct {
	http      *resty.Client
	token     string
	authStyle AuthStyle
}

func NewClient(opts ClientOptions) (*Client, error) {
	token, err := opts.Credentials.Resolve("")
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 60
	}
	retryCount := opts.RetryCount
	if retryCount == 0 {
		retryCount = 5
	}
	base := opts.RetryBase
	if base == 0 {
		base = 2
	}
	unit := opts.RetryWaitUnit
	if unit == 0 {
		unit = time.Second
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	client.SetTimeout(timeout)
	client.SetRetryCount(retryCount)
	client.SetRetryWaitTime(unit)
	client.SetRetryMaxWaitTime(unit * time.Duration(intPow(base, retryCount)))
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil || res == nil {
			return false
		}
		return isRateLimited(res.StatusCode())
	})
	client.SetRetryAfter(func(_ *resty.Client, res *resty.Response) (time.Duration, error) {
		// Attempt is 1-based, so the first retry waits unit * base^0 and
		// every subsequent wait is strictly longer.
		return unit * time.Duration(intPow(base, res.Request.Attempt-1)), nil
	})

	if opts.AuthStyle == AuthBearerHeader {
		client.SetHeader("Authorization", "Bearer "+token)
	}

	telemetry.InstrumentResty(client, "lib/graphclient")

	return &Client{
		http:      client,
		token:     token,
		authStyle: opts.AuthStyle,
	}, nil
}

func isRateLimited(status int) bool {
	return status == statusTooManyRequests || status == statusVendorRateLimit
}

// Get issues one authenticated GET for `path` under the client's base URL
// and decodes the JSON body into out (skipped when out is nil). Rate-limit
// statuses are retried internally; exhausting the budget returns
// *RateLimitError, any other non-2xx returns *UpstreamError immediately.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if c.authStyle == AuthQueryParam {
		req.SetQueryParam("access_token", c.token)
	}

	res, err := req.Get("/" + strings.TrimLeft(path, "/"))
	return decodeResponse(res, err, out)
}

// FetchURL issues a GET against a fully-formed URL, bypassing both the base
// URL and credential injection. Continuation URLs from paging metadata
// already embed the required auth and query state.
func (c *Client) FetchURL(ctx context.Context, rawURL string, out any) error {
	res, err := c.http.R().SetContext(ctx).Get(rawURL)
	return decodeResponse(res, err, out)
}

func decodeResponse(res *resty.Response, err error, out any) error {
	if err != nil {
		return err
	}
	status := res.StatusCode()
	if isRateLimited(status) {
		return &RateLimitError{Attempts: res.Request.Attempt}
	}
	if !res.IsSuccess() {
		return &UpstreamError{Status: status, Body: res.String()}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(res.Body(), out)
}

func intPow(base, exp int) int64 {
	out := int64(1)
	for i := 0; i < exp; i++ {
		out *= int64(base)
	}
	return out
}
