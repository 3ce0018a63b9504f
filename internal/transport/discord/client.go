// Package discord posts messages through channel webhooks and classifies
// API failures.
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"steamwatch/internal/transport"
	logx "steamwatch/pkg/logx"
)

const (
	DefaultAPIBase = "https://discord.com/api/v10"
	cdnBase        = "https://cdn.discordapp.com"
)

type Config struct {
	APIBase    string
	BotToken   string // only used to resolve the bot identity
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// APIError is a non-2xx response. Code is the platform's JSON error code,
// zero when the body carried none.
type APIError struct {
	Status     int
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("discord: http %d code %d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("discord: http %d: %s", e.Status, e.Message)
}

// Client is a rate-limited webhook client.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

var _ transport.Poster = (*Client)(nil)

func New(cfg Config, log logx.Logger) *Client {
	if strings.TrimSpace(cfg.APIBase) == "" {
		cfg.APIBase = DefaultAPIBase
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		log:     log,
	}
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

type webhookPayload struct {
	transport.Message
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

// Post executes the webhook for the target.
func (c *Client) Post(ctx context.Context, to transport.Target, msg transport.Message) error {
	if to.WebhookID == "" || to.Token == "" {
		return &APIError{Status: http.StatusNotFound, Code: CodeUnknownWebhook, Message: "missing webhook credentials"}
	}
	body, err := json.Marshal(webhookPayload{
		Message:         msg,
		AllowedMentions: allowedMentions{Parse: []string{"everyone", "roles", "users"}},
	})
	if err != nil {
		return err
	}

	u := c.cfg.APIBase + "/webhooks/" + url.PathEscape(to.WebhookID) + "/" + url.PathEscape(to.Token)
	if to.ThreadID != "" {
		u += "?thread_id=" + url.QueryEscape(to.ThreadID)
	}
	resp, err := c.do(ctx, http.MethodPost, u, body, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Identity resolves the bot's display name and avatar. Without a bot token
// it returns a zero identity.
func (c *Client) Identity(ctx context.Context) (transport.Identity, error) {
	if strings.TrimSpace(c.cfg.BotToken) == "" {
		return transport.Identity{}, nil
	}
	resp, err := c.do(ctx, http.MethodGet, c.cfg.APIBase+"/users/@me", nil, http.Header{
		"Authorization": []string{"Bot " + c.cfg.BotToken},
	})
	if err != nil {
		return transport.Identity{}, err
	}
	defer resp.Body.Close()

	var u struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
		Avatar     string `json:"avatar"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return transport.Identity{}, fmt.Errorf("discord: decode identity: %w", err)
	}
	id := transport.Identity{Name: u.Username}
	if u.GlobalName != "" {
		id.Name = u.GlobalName
	}
	if u.Avatar != "" {
		id.AvatarURL = cdnBase + "/avatars/" + u.ID + "/" + u.Avatar + ".png"
	}
	return id, nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, hdr http.Header) (*http.Response, error) {
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
	for k, v := range hdr {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "DiscordBot (steamwatch, 1.0)")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Code       int     `json:"code"`
		Message    string  `json:"message"`
		RetryAfter float64 `json:"retry_after"`
	}
	if len(b) > 0 && json.Unmarshal(b, &body) == nil {
		apiErr.Code = body.Code
		if body.Message != "" {
			apiErr.Message = body.Message
		}
		if body.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(body.RetryAfter * float64(time.Second))
		}
	}
	if apiErr.RetryAfter == 0 {
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.ParseFloat(s, 64); err == nil {
				apiErr.RetryAfter = time.Duration(secs * float64(time.Second))
			}
		}
	}
	return apiErr
}
