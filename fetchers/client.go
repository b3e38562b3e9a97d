package fetchers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const defaultRetryAfter = 10 * time.Second

// Client is the HTTP client shared by all adapters of a provider. It owns its
// connection pool, applies the per-request timeout, enforces a client-side
// per-host rate limit, and classifies failures into the adapter error
// taxonomy.
type Client struct {
	httpClient *http.Client

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	hostLimits map[string]rate.Limit
}

// NewClient creates a client with the given per-request timeout and per-host
// connection pool size.
func NewClient(timeout time.Duration, poolSizePerHost int) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: poolSizePerHost,
				MaxConnsPerHost:     poolSizePerHost,
			},
		},
		limiters:   make(map[string]*rate.Limiter),
		hostLimits: make(map[string]rate.Limit),
	}
}

// SetHostRateLimit overrides the client-side request rate for one host.
func (c *Client) SetHostRateLimit(host string, requestsPerSecond float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hostLimits[host] = rate.Limit(requestsPerSecond)
	delete(c.limiters, host)
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limiter, ok := c.limiters[host]; ok {
		return limiter
	}
	limit, ok := c.hostLimits[host]
	if !ok {
		limit = rate.Limit(4) // conservative default for free-tier explorers
	}
	limiter := rate.NewLimiter(limit, 1)
	c.limiters[host] = limiter
	return limiter
}

// GetJSON performs a GET request and decodes the JSON response into target.
func (c *Client) GetJSON(ctx context.Context, rawURL string, target interface{}) error {
	return c.doJSON(ctx, http.MethodGet, rawURL, nil, target)
}

// PostJSON performs a POST request with a JSON body and decodes the JSON
// response into target.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body interface{}, target interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return &BadResponseError{Err: errors.Wrap(err, "encoding request body")}
	}
	return c.doJSON(ctx, http.MethodPost, rawURL, encoded, target)
}

func (c *Client) doJSON(ctx context.Context, method, rawURL string, body []byte, target interface{}) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &BadResponseError{Err: errors.Wrap(err, "parsing request url")}
	}
	if err := c.limiter(parsed.Host).Wait(ctx); err != nil {
		return &NetworkError{Err: err}
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return &NetworkError{Err: err}
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	log.Debugf("Querying %s", rawURL)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusTooManyRequests {
		return &RateLimitedError{RetryAfter: retryAfter(response)}
	}
	if response.StatusCode >= 500 {
		return &NetworkError{Err: errors.Errorf("%s returned status %d", rawURL, response.StatusCode)}
	}
	if response.StatusCode != http.StatusOK {
		return &BadResponseError{Err: errors.Errorf("%s returned status %d", rawURL, response.StatusCode)}
	}

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}
	if err := json.Unmarshal(responseBody, target); err != nil {
		return &BadResponseError{Err: errors.Wrapf(err, "%s returned malformed json", rawURL)}
	}
	return nil
}

func retryAfter(response *http.Response) time.Duration {
	header := response.Header.Get("Retry-After")
	if header == "" {
		return defaultRetryAfter
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}
