// Package social is the thin HTTP client for the social platform. It has no
// scheduling or quota logic of its own: callers gate every mutating call
// through the quota governor and the content-policy filter first.
package social

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/petrijr/flock/internal/quota"
	"github.com/petrijr/flock/pkg/api"
)

// MaxPostLen is the platform's text length ceiling.
const MaxPostLen = 300

// Post identifies a piece of content created by a mutating call.
type Post struct {
	ID       string `json:"id"`
	Revision string `json:"revision"`
}

// FeedItem is one content item read from the platform.
type FeedItem struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	AuthorHandle string    `json:"author_handle"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
}

// Config holds one persona account's connection settings.
type Config struct {
	BaseURL  string
	Handle   string
	Password string
	Timeout  time.Duration
}

// Client talks to the platform API for one persona account. Sessions are
// established lazily; authentication failures feed the exponential login
// backoff, and an expired session is re-established once per call.
type Client struct {
	http    *resty.Client
	cfg     Config
	backoff *quota.LoginBackoff
	logger  *zap.Logger

	token string
}

// NewClient creates a Client for one account.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		cfg:     cfg,
		backoff: quota.NewLoginBackoff(),
		logger:  logger,
	}
}

type sessionResponse struct {
	Token string `json:"token"`
}

// Login establishes a session, honoring the login backoff.
func (c *Client) Login(ctx context.Context) error {
	if err := c.backoff.Attempt(); err != nil {
		return err
	}

	var out sessionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"handle":   c.cfg.Handle,
			"password": c.cfg.Password,
		}).
		SetResult(&out).
		Post("/v1/session")
	if err != nil {
		c.backoff.Failure()
		return fmt.Errorf("login: %w", err)
	}
	if resp.IsError() {
		c.backoff.Failure()
		return fmt.Errorf("login: %s (handle %s)", resp.Status(), c.cfg.Handle)
	}

	c.backoff.Success()
	c.token = out.Token
	return nil
}

// call performs one authenticated request, logging in first when no session
// exists and retrying once after a 401.
func (c *Client) call(ctx context.Context, build func(r *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	if c.token == "" {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	req := func() (*resty.Response, error) {
		return build(c.http.R().SetContext(ctx).SetAuthToken(c.token))
	}

	resp, err := req()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		resp, err = req()
		if err != nil {
			return nil, err
		}
	}
	if resp.IsError() {
		return resp, fmt.Errorf("platform: %s", resp.Status())
	}
	return resp, nil
}

// Publish creates a standalone post, optionally with an attached image.
func (c *Client) Publish(ctx context.Context, text string, media []byte) (Post, error) {
	body := map[string]any{"text": truncate(text)}
	if len(media) > 0 {
		body["media"] = base64.StdEncoding.EncodeToString(media)
	}

	var out Post
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(body).SetResult(&out).Post("/v1/posts")
	})
	return out, err
}

// Reply creates a reply to an existing item.
func (c *Client) Reply(ctx context.Context, text, replyTo string) (Post, error) {
	var out Post
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{
			"text":     truncate(text),
			"reply_to": replyTo,
		}).SetResult(&out).Post("/v1/replies")
	})
	return out, err
}

// Quote creates a quote post referencing an existing item.
func (c *Client) Quote(ctx context.Context, text, targetID string) (Post, error) {
	var out Post
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{
			"text":   truncate(text),
			"target": targetID,
		}).SetResult(&out).Post("/v1/quotes")
	})
	return out, err
}

// Like likes an existing item.
func (c *Client) Like(ctx context.Context, targetID string) error {
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]any{"target": targetID}).Post("/v1/likes")
	})
	return err
}

// RecentOwnContent returns the account's latest items, newest first.
func (c *Client) RecentOwnContent(ctx context.Context, limit int) ([]FeedItem, error) {
	var out []FeedItem
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("limit", fmt.Sprint(limit)).
			SetResult(&out).Get("/v1/me/posts")
	})
	return out, err
}

// Thread returns the items of one conversation thread, oldest first.
func (c *Client) Thread(ctx context.Context, rootID string) ([]FeedItem, error) {
	var out []FeedItem
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&out).Get("/v1/threads/" + rootID)
	})
	return out, err
}

// AuthorFeed returns another account's latest items.
func (c *Client) AuthorFeed(ctx context.Context, authorHandle string, limit int) ([]FeedItem, error) {
	var out []FeedItem
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("limit", fmt.Sprint(limit)).
			SetResult(&out).Get("/v1/authors/" + authorHandle + "/posts")
	})
	return out, err
}

// HomeFeed returns the account's home timeline.
func (c *Client) HomeFeed(ctx context.Context, limit int) ([]FeedItem, error) {
	var out []FeedItem
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("limit", fmt.Sprint(limit)).
			SetResult(&out).Get("/v1/feed")
	})
	return out, err
}

// SearchPosts searches recent items for a query.
func (c *Client) SearchPosts(ctx context.Context, query string, limit int) ([]FeedItem, error) {
	var out []FeedItem
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("q", query).
			SetQueryParam("limit", fmt.Sprint(limit)).
			SetResult(&out).Get("/v1/search")
	})
	return out, err
}

// Trending returns the platform's trending items.
func (c *Client) Trending(ctx context.Context, limit int) ([]FeedItem, error) {
	var out []FeedItem
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("limit", fmt.Sprint(limit)).
			SetResult(&out).Get("/v1/trending")
	})
	return out, err
}

// UnreadNotifications returns unread notifications for the account.
func (c *Client) UnreadNotifications(ctx context.Context, limit int) ([]api.Notification, error) {
	var out []api.Notification
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("limit", fmt.Sprint(limit)).
			SetResult(&out).Get("/v1/notifications")
	})
	return out, err
}

// MarkRead marks all notifications read.
func (c *Client) MarkRead(ctx context.Context) error {
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Post("/v1/notifications/read")
	})
	return err
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxPostLen {
		return text
	}
	return string(runes[:MaxPostLen-1]) + "…"
}
