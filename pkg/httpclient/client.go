package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	herrors "harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/ratelimit"
	"harvester/pkg/retry"
)

// DefaultUserAgent is sent when a source configures none.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// maxPageSize bounds how much of a page body is read into memory.
const maxPageSize = 16 << 20

// Client performs paced, retried GET requests for one source.
type Client struct {
	httpClient *http.Client
	transport  *pacedTransport
	retry      *retry.Config
	logger     logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithLimiter paces every request, including those made through HTTPClient.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.transport.limiter = l
		}
	}
}

// WithRetry sets the retry policy used for page requests.
func WithRetry(cfg *retry.Config) Option {
	return func(c *Client) {
		if cfg != nil {
			c.retry = cfg
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTransport replaces the underlying round tripper; tests use it to stub the network.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.transport.base = rt
		}
	}
}

// WithUserAgent overrides the default browser user agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.transport.headers["User-Agent"] = ua
		}
	}
}

// New creates a client whose requests time out after timeout.
func New(timeout time.Duration, opts ...Option) *Client {
	transport := &pacedTransport{
		base:    http.DefaultTransport,
		limiter: ratelimit.Unlimited(),
		headers: map[string]string{
			"User-Agent":      DefaultUserAgent,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.9,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
	}

	c := &Client{
		transport: transport,
		retry:     retry.DefaultConfig(),
		logger:    logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	transport.logger = c.logger

	c.httpClient = &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
	return c
}

// SetHeader sets a custom header for the client
func (c *Client) SetHeader(key, value string) {
	c.transport.headers[key] = value
}

// SetHeaders sets multiple headers at once
func (c *Client) SetHeaders(headers map[string]string) {
	for key, value := range headers {
		c.transport.headers[key] = value
	}
}

// HTTPClient exposes the paced client for third-party SDKs that take an *http.Client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Fetch retrieves a page body, retrying transient failures.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	return retry.DoWithResult(ctx, func(ctx context.Context) ([]byte, error) {
		return c.fetchOnce(ctx, url)
	}, c.retry)
}

func (c *Client) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, herrors.Transport(err, "failed to read response body from %s", url)
	}
	return body, nil
}

// Open starts a single-attempt download and returns the response body.
// The caller must close it.
func (c *Client) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetJSON fetches url and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v interface{}) error {
	body, err := c.Fetch(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		c.logDecodeFailure(url, body, err)
		return herrors.Transport(err, "failed to parse JSON from %s", url)
	}
	return nil
}

// GetXML fetches url and decodes the XML body into v.
func (c *Client) GetXML(ctx context.Context, url string, v interface{}) error {
	body, err := c.Fetch(ctx, url)
	if err != nil {
		return err
	}
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		c.logDecodeFailure(url, body, err)
		return herrors.Transport(err, "failed to parse XML from %s", url)
	}
	return nil
}

func (c *Client) logDecodeFailure(url string, body []byte, err error) {
	preview := string(body)
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	c.logger.ErrorWithFields("failed to parse response", map[string]interface{}{
		"url":          url,
		"error":        err.Error(),
		"body_preview": preview,
	})
}

// get performs one GET and converts non-2xx statuses into transport errors.
func (c *Client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, herrors.Transport(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, herrors.Cancelled(ctxErr)
		}
		return nil, herrors.Transport(err, "request to %s failed", url)
	}

	if err := c.checkResponseStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// checkResponseStatus maps the HTTP status onto the error taxonomy
func (c *Client) checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	fields := map[string]interface{}{
		"status": resp.StatusCode,
		"url":    resp.Request.URL.String(),
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.WarnWithFields("access denied", fields)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		c.logger.WarnWithFields("resource not found", fields)
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", fields)
	case resp.StatusCode >= 500:
		c.logger.ErrorWithFields("server error", fields)
	default:
		c.logger.ErrorWithFields("unexpected status", fields)
	}
	return herrors.TransportStatus(resp.StatusCode, resp.Request.URL.String())
}

// pacedTransport waits on the limiter and applies default headers before each round trip.
type pacedTransport struct {
	base    http.RoundTripper
	limiter ratelimit.Limiter
	headers map[string]string
	logger  logger.Logger
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req = req.Clone(req.Context())
	for key, value := range t.headers {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	fields := map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"duration": time.Since(start),
	}
	if err != nil {
		t.logger.WithError(err).DebugWithFields("HTTP request failed", fields)
		return nil, err
	}
	fields["status"] = resp.StatusCode
	t.logger.DebugWithFields("HTTP request completed", fields)
	return resp, nil
}
