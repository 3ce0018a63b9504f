package steam

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	logx "steamwatch/pkg/logx"
)

const (
	DefaultAPIBase   = "https://api.steampowered.com"
	DefaultStoreBase = "https://store.steampowered.com"

	maxBody = 8 << 20
)

type Config struct {
	APIKey    string
	APIBase   string
	StoreBase string
	// BridgeURL points at a session bridge serving product info and forum
	// listings. Empty disables those calls.
	BridgeURL string
	Language  string
	Timeout   time.Duration

	RatePerSec float64
	Burst      int

	// BreakerFailures consecutive failures open the breaker for
	// BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client talks to the Web API, the storefront and the optional bridge.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if strings.TrimSpace(cfg.StoreBase) == "" {
		cfg.StoreBase = DefaultStoreBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	cfg.StoreBase = strings.TrimRight(cfg.StoreBase, "/")
	cfg.BridgeURL = strings.TrimRight(cfg.BridgeURL, "/")
	if cfg.Language == "" {
		cfg.Language = "english"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		log:     log,
	}
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "steam",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Client errors say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			var he *HTTPError
			if errors.As(err, &he) {
				return he.Status != http.StatusTooManyRequests && he.Status < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("upstream breaker state change",
				logx.String("breaker", name), logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
	return c
}

// Connected reports whether calls are currently let through.
func (c *Client) Connected() bool {
	return c.cb.State() != gobreaker.StateOpen
}

func (c *Client) hasBridge() bool { return c.cfg.BridgeURL != "" }

func (c *Client) apiURL(path string, q url.Values) string {
	if c.cfg.APIKey != "" {
		q.Set("key", c.cfg.APIKey)
	}
	return c.cfg.APIBase + path + "?" + q.Encode()
}

// getJSON fetches u and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	return c.doJSON(ctx, http.MethodGet, u, "", nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, u, contentType string, body []byte, out any) error {
	b, err := c.cb.Execute(func() ([]byte, error) {
		return c.fetch(ctx, method, u, contentType, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ErrNotConnected
		}
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("steam: decode %s: %w", redact(u), err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, method, u, contentType string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &HTTPError{Status: resp.StatusCode, URL: redact(u)}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

// redact strips the query string so API keys never reach logs.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
