package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const maxRESTBody = 32 << 20

// StatusError reports a non-2xx REST response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d %s", e.Code, e.Body)
}

// RESTClient performs the metadata and snapshot GETs of every venue.
// Requests share one rate limiter; each host gets its own circuit breaker.
type RESTClient struct {
	httpClient *http.Client
	limiter    *RateLimiter
	retries    int
	backoff    Backoff

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRESTClient builds a client honoring the configured proxy and timeout.
func NewRESTClient(cfg *Config) (*RESTClient, error) {
	proxyURL, err := cfg.ProxyURL()
	if err != nil {
		return nil, err
	}
	proxy := http.ProxyFromEnvironment
	if proxyURL != nil {
		proxy = http.ProxyURL(proxyURL)
	}
	tr := &http.Transport{
		Proxy:                 proxy,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	timeout := time.Duration(cfg.Network.RESTTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return newRESTClient(&http.Client{Transport: tr, Timeout: timeout}), nil
}

func newRESTClient(hc *http.Client) *RESTClient {
	return &RESTClient{
		httpClient: hc,
		limiter:    NewRateLimiter(10, 10),
		retries:    2,
		backoff:    Backoff{Base: 250 * time.Millisecond, Max: 2 * time.Second},
		breakers:   make(map[string]*CircuitBreaker),
	}
}

// GetJSON fetches rawURL and decodes the body into out.
func (c *RESTClient) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", redactQuery(rawURL), err)
	}
	return nil
}

// Get fetches rawURL, retrying transport failures and 5xx responses.
func (c *RESTClient) Get(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	breaker := c.breaker(u.Host)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Delay(attempt - 1)
			slog.Debug("Retrying REST request",
				slog.String("host", u.Host),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var body []byte
		err := breaker.Execute(func() error {
			var ferr error
			body, ferr = c.do(ctx, u)
			return ferr
		})
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("GET %s: %w", redactQuery(rawURL), lastErr)
}

func (c *RESTClient) do(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", GetUserAgent())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	RESTLatencyMs.WithLabelValues(u.Host).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		RESTRequestsTotal.WithLabelValues(u.Host, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRESTBody))
	if err != nil {
		RESTRequestsTotal.WithLabelValues(u.Host, "error").Inc()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		RESTRequestsTotal.WithLabelValues(u.Host, "status").Inc()
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(snippet)}
	}
	RESTRequestsTotal.WithLabelValues(u.Host, "ok").Inc()
	return body, nil
}

func (c *RESTClient) breaker(host string) *CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[host]
	if !ok {
		cb = NewCircuitBreaker(DefaultCircuitBreakerConfig(host))
		c.breakers[host] = cb
	}
	return cb
}

func retryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

func redactQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
