package taskstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Iron-Ham/friendflow/internal/config"
	"github.com/Iron-Ham/friendflow/internal/logging"
)

// tokenRefreshMargin refreshes the tenant token this long before it expires.
const tokenRefreshMargin = 60 * time.Second

// Options configures a Client.
type Options struct {
	BaseURL   string
	AppID     string
	AppSecret string
	TableURL  string

	MinInterval time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Timeout     time.Duration
	PageSize    int

	ProxyURL       string
	UseSystemProxy bool
	VerifyTLS      bool

	Fields   config.FieldsConfig
	Statuses config.StatusesConfig
}

// OptionsFromConfig maps the task store configuration section to Options.
func OptionsFromConfig(cfg config.TaskStoreConfig) Options {
	return Options{
		BaseURL:        cfg.BaseURL,
		AppID:          cfg.AppID,
		AppSecret:      cfg.AppSecret,
		TableURL:       cfg.TableURL,
		MinInterval:    cfg.MinInterval(),
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.BackoffBase(),
		BackoffMax:     cfg.BackoffMax(),
		Timeout:        cfg.Timeout(),
		PageSize:       cfg.PageSize,
		ProxyURL:       cfg.ProxyURL,
		UseSystemProxy: cfg.UseSystemProxy,
		VerifyTLS:      cfg.VerifyTLS,
		Fields:         cfg.Fields,
		Statuses:       cfg.Statuses,
	}
}

// Client talks to the bitable task store. It is safe for concurrent use;
// all requests, including retries and token refreshes, share one spacing
// limiter.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	schema  schema
	logger  *logging.Logger

	// sleep waits between retry attempts; replaced in tests.
	sleep func(context.Context, time.Duration) error
	now   func() time.Time

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time

	tableMu sync.Mutex
	table   *TableRef
}

// New creates a Client. The logger may be nil.
func New(opts Options, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	httpClient, err := newHTTPClient(opts)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}

	return &Client{
		opts:    opts,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		schema:  schema{fields: opts.Fields, labels: NewLabels(opts.Statuses)},
		logger:  logger.WithComponent("taskstore"),
		sleep:   sleepContext,
		now:     time.Now,
	}, nil
}

func newHTTPClient(opts Options) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	switch {
	case opts.ProxyURL != "":
		proxy, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	case opts.UseSystemProxy:
		transport.Proxy = http.ProxyFromEnvironment
	default:
		transport.Proxy = nil
	}
	if !opts.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for intercepting proxies
	}

	return &http.Client{Transport: transport, Timeout: opts.Timeout}, nil
}

// Fields returns the configured column names.
func (c *Client) Fields() config.FieldsConfig {
	return c.opts.Fields
}

// Labels returns the status label mapping in use.
func (c *Client) Labels() Labels {
	return c.schema.labels
}

// Ping checks credentials and the table link.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.tenantToken(ctx); err != nil {
		return err
	}
	_, err := c.Table(ctx)
	return err
}

func (c *Client) tenantToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != "" && c.now().Add(tokenRefreshMargin).Before(c.tokenExpiry) {
		return c.token, nil
	}
	if c.opts.AppID == "" || c.opts.AppSecret == "" {
		return "", fmt.Errorf("%w: app id and secret are required", ErrNotConfigured)
	}

	payload := map[string]string{"app_id": c.opts.AppID, "app_secret": c.opts.AppSecret}
	body, err := c.call(ctx, "fetch token", http.MethodPost, "/open-apis/auth/v3/tenant_access_token/internal", payload, false)
	if err != nil {
		return "", err
	}

	var resp struct {
		Token  string `json:"tenant_access_token"`
		Expire int    `json:"expire"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		return "", &Error{Op: "fetch token", Category: CategoryPermanent, Msg: "response has no tenant_access_token", Err: err}
	}

	c.token = resp.Token
	c.tokenExpiry = c.now().Add(time.Duration(resp.Expire) * time.Second)
	c.logger.Debug("tenant token refreshed", "expires_in_s", resp.Expire)
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenMu.Unlock()
}

// envelope is the common response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// call performs one logical request with spacing and retries and returns
// the raw response body of a successful (code 0) response.
func (c *Client) call(ctx context.Context, op, method, path string, payload any, auth bool) ([]byte, error) {
	var encoded []byte
	if payload != nil {
		var err error
		if encoded, err = json.Marshal(payload); err != nil {
			return nil, &Error{Op: op, Category: CategoryPermanent, Msg: "encode request", Err: err}
		}
	}

	for attempt := 1; ; attempt++ {
		var token string
		if auth {
			var err error
			if token, err = c.tenantToken(ctx); err != nil {
				return nil, err
			}
		}

		body, retryAfter, err := c.attempt(ctx, op, method, path, encoded, token)
		if err == nil {
			return body, nil
		}

		var serr *Error
		if !errors.As(err, &serr) || !serr.Retryable() || attempt > c.opts.MaxRetries {
			if serr != nil {
				serr.Attempts = attempt
			}
			return nil, err
		}

		delay := c.backoff(attempt, retryAfter)
		c.logger.Warn("task store request failed, retrying",
			"op", op, "attempt", attempt, "status", serr.StatusCode, "delay_ms", delay.Milliseconds(), "error", err.Error())
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// attempt sends a single HTTP request. An empty token sends no
// Authorization header.
func (c *Client) attempt(ctx context.Context, op, method, path string, payload []byte, token string) ([]byte, time.Duration, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
	if err != nil {
		return nil, 0, &Error{Op: op, Category: CategoryPermanent, Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, &Error{Op: op, Category: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, 0, &Error{Op: op, Category: CategoryTransient, StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	_ = json.Unmarshal(body, &env)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, retryAfterHeader(resp.Header), &Error{Op: op, Category: CategoryTransient, StatusCode: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidateToken()
		return nil, 0, &Error{Op: op, Category: CategoryPermanent, StatusCode: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, 0, &Error{Op: op, Category: CategoryPermanent, StatusCode: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}

	if err := json.Unmarshal(body, &env); err != nil {
		return nil, 0, &Error{Op: op, Category: CategoryPermanent, StatusCode: resp.StatusCode, Msg: "malformed response", Err: err}
	}
	if env.Code != 0 {
		return nil, 0, &Error{Op: op, Category: CategoryBusiness, StatusCode: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	return body, 0, nil
}

// classifyTransportError treats timeouts and connection-level failures as
// transient. Anything else (bad URL, TLS misconfiguration) is permanent.
func classifyTransportError(err error) Category {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryTransient
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return CategoryTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CategoryTransient
	}
	return CategoryPermanent
}

// backoff returns base·2^(attempt-1) with up to 20% jitter, capped at the
// configured maximum. A server-provided Retry-After wins when longer.
func (c *Client) backoff(attempt int, retryAfter time.Duration) time.Duration {
	d := c.opts.BackoffBase << (attempt - 1)
	if d <= 0 || d > c.opts.BackoffMax {
		d = c.opts.BackoffMax
	}
	if jitter := int64(d) / 5; jitter > 0 {
		d += time.Duration(rand.Int64N(jitter))
	}
	if retryAfter > d {
		d = retryAfter
	}
	if d > c.opts.BackoffMax {
		d = c.opts.BackoffMax
	}
	return d
}

func retryAfterHeader(h http.Header) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
