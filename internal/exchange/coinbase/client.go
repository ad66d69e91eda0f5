// Package coinbase implements exchange.Connector and marketdata.Provider on
// the Coinbase Advanced Trade REST API, plus a WebSocket ticker feed.
package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trader/internal/exchange"
	"coinbase-trader/internal/marketdata"
	"coinbase-trader/internal/observability"
)

// Default configuration values.
const (
	DefaultBaseURL    = "https://api.coinbase.com"
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 250 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second

	apiPrefix = "/api/v3/brokerage"
)

// Client talks to the Advanced Trade REST API. Reads are retried with the
// configured policy; order submission and cancellation are single-shot and
// retried by the caller with the same client order id.
type Client struct {
	baseURL  *url.URL
	client   *http.Client
	signer   *Signer
	readOnly bool
	retry    exchange.RetryPolicy
	logger   zerolog.Logger

	// maxPages bounds cursor pagination of list endpoints.
	maxPages int
}

var (
	_ exchange.Connector  = (*Client)(nil)
	_ marketdata.Provider = (*Client)(nil)
)

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithRetryPolicy sets the policy used for read requests.
func WithRetryPolicy(p exchange.RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// WithMaxRetries sets maximum retry attempts for reads.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.retry.MaxAttempts = n + 1
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retry.BaseDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retry.MaxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithSigner enables authenticated endpoints.
func WithSigner(s *Signer) ClientOption {
	return func(c *Client) {
		c.signer = s
	}
}

// WithReadOnly makes every mutating call fail with exchange.ErrReadOnly.
func WithReadOnly(readOnly bool) ClientOption {
	return func(c *Client) {
		c.readOnly = readOnly
	}
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMaxPages bounds list pagination.
func WithMaxPages(n int) ClientOption {
	return func(c *Client) {
		c.maxPages = n
	}
}

// NewClient creates a REST client. An empty baseURL selects production.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		baseURL: u,
		client:  &http.Client{Timeout: DefaultTimeout},
		retry: exchange.RetryPolicy{
			MaxAttempts: DefaultMaxRetries + 1,
			BaseDelay:   DefaultRetryDelay,
			MaxDelay:    DefaultMaxDelay,
		},
		logger:   zerolog.Nop(),
		maxPages: 50,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ReadOnly reports whether mutating calls are disabled.
func (c *Client) ReadOnly() bool {
	return c.readOnly
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// get performs an idempotent request with retries.
func (c *Client) get(ctx context.Context, op, path string, query url.Values, auth bool, out interface{}) error {
	attempts, err := c.retry.Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, op, http.MethodGet, path, query, nil, auth, out)
	})
	if err != nil && attempts > 1 {
		return fmt.Errorf("%s: %d attempts: %w", op, attempts, err)
	}
	return err
}

// post performs a single non-retried request.
func (c *Client) post(ctx context.Context, op, path string, body, out interface{}) error {
	return c.do(ctx, op, http.MethodPost, path, nil, body, true, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body interface{}, auth bool, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordExchangeCall(op, time.Since(start).Seconds(), err)
	}()

	u := *c.baseURL
	u.Path = apiPrefix + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		if c.signer == nil {
			return &exchange.APIError{Op: op, Status: http.StatusUnauthorized, Message: "no api credentials configured"}
		}
		token, err := c.signer.Token(method, u.Host, u.Path)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http request: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &exchange.APIError{Op: op, Status: resp.StatusCode, Message: string(respBody)}
		var eb errorBody
		if json.Unmarshal(respBody, &eb) == nil {
			apiErr.Code = eb.Error
			if apiErr.Code == "" {
				apiErr.Code = eb.Code
			}
			if eb.Message != "" {
				apiErr.Message = eb.Message
			}
		}
		c.logger.Debug().
			Str("op", op).
			Int("status", resp.StatusCode).
			Str("code", apiErr.Code).
			Msg("coinbase request failed")
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("%s: unmarshal response: %w", op, err)
		}
	}
	return nil
}
