package bangumi

import (
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

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"

	"epcal/internal/metrics"
)

const (
	DefaultBaseURL   = "https://api.bgm.tv"
	DefaultUserAgent = "trim21/bangumi-episode-calendar"

	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 8 << 20
)

// ErrNotFound is returned when the API answers 404 for the requested user,
// subject or episode list.
var ErrNotFound = errors.New("bangumi: not found")

// StatusError is any non-200, non-404 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("bangumi: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("bangumi: unexpected status %d: %s", e.Code, e.Body)
}

// Client is a thin JSON client for the Bangumi v0 API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	attempts   uint
	delay      time.Duration
	metrics    *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua = strings.TrimSpace(ua); ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRateLimit caps outbound requests per second. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the total number of attempts for transient failures and
// the initial backoff delay. attempts < 1 is treated as 1.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.attempts = uint(attempts)
		if delay > 0 {
			c.delay = delay
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		userAgent:  DefaultUserAgent,
		limiter:    rate.NewLimiter(rate.Inf, 0),
		attempts:   3,
		delay:      200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetCollections(ctx context.Context, username string, collectionType, offset, limit int) (*Paged[Collection], error) {
	q := url.Values{}
	q.Set("type", strconv.Itoa(collectionType))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var res Paged[Collection]
	path := "/v0/users/" + url.PathEscape(username) + "/collections"
	if err := c.getJSON(ctx, "collections", path, q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetSubject(ctx context.Context, id int) (*Subject, error) {
	var res Subject
	if err := c.getJSON(ctx, "subject", "/v0/subjects/"+strconv.Itoa(id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetEpisodes(ctx context.Context, subjectID, offset, limit int) (*Paged[Episode], error) {
	q := url.Values{}
	q.Set("subject_id", strconv.Itoa(subjectID))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var res Paged[Episode]
	if err := c.getJSON(ctx, "episodes", "/v0/episodes", q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	var body []byte
	err = retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
			b, err := c.fetch(req)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.metrics.CatalogRequest(op, "not_found")
			return ErrNotFound
		}
		c.metrics.CatalogRequest(op, "error")
		return fmt.Errorf("GET %s: %w", path, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.CatalogRequest(op, "error")
		return fmt.Errorf("decode %s: %w", path, err)
	}
	c.metrics.CatalogRequest(op, "ok")
	return nil
}

// fetch performs one attempt. req has no body, so it can be sent again.
func (c *Client) fetch(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{Code: resp.StatusCode, Body: snippet(body)}
	case err != nil:
		return nil, err
	}
	return body, nil
}

// retryable reports whether a failed attempt is worth repeating: transport
// errors, 429 and 5xx are; 404, other 4xx and cancellation are not.
func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
