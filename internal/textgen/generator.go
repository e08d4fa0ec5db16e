// Package textgen is the HTTP client for the content-generation service. The
// service owns voice and wording; this package only carries persona context
// across the wire and maps responses onto engage/decline decisions.
package textgen

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// PostRequest asks for a standalone post in a persona's voice. Reflections
// carry the persona's accumulated memory notes for the service to fold in.
type PostRequest struct {
	PersonaID   string   `json:"persona_id"`
	Handle      string   `json:"handle"`
	Bio         string   `json:"bio"`
	Topics      []string `json:"topics"`
	Mood        float64  `json:"mood"`
	Digest      string   `json:"digest,omitempty"`
	Reflections []string `json:"reflections,omitempty"`
	Recent      []string `json:"recent,omitempty"`
	Thread      bool     `json:"thread"`
}

// PostDraft is generated post content. When Thread is non-empty the draft is
// a multi-part thread and Text holds the opening part.
type PostDraft struct {
	Text       string   `json:"text"`
	Thread     []string `json:"thread,omitempty"`
	Mood       string   `json:"mood"`
	IntentType string   `json:"intent_type"`
	TopicTag   string   `json:"topic_tag"`
	Digest     string   `json:"digest,omitempty"`
}

// ReplyRequest asks whether and how to reply within a conversation thread.
type ReplyRequest struct {
	PersonaID string   `json:"persona_id"`
	Handle    string   `json:"handle"`
	Bio       string   `json:"bio"`
	Thread    []string `json:"thread"`
	Inbound   string   `json:"inbound"`
	Digest    string   `json:"digest,omitempty"`
}

// ReplyDecision carries the service's reply-or-decline verdict.
type ReplyDecision struct {
	Engage bool   `json:"engage"`
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// InteractionRequest asks whether one managed persona should initiate
// contact with another.
type InteractionRequest struct {
	PersonaID    string   `json:"persona_id"`
	Handle       string   `json:"handle"`
	Bio          string   `json:"bio"`
	TargetID     string   `json:"target_id"`
	TargetHandle string   `json:"target_handle"`
	TargetBio    string   `json:"target_bio"`
	TargetRecent []string `json:"target_recent,omitempty"`
	PriorCount   int      `json:"prior_count"`
}

// InteractionDecision is the initiate-or-decline verdict.
type InteractionDecision struct {
	Engage  bool   `json:"engage"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// EngagementRequest asks the service to pick actions for a bounded candidate
// set during an engagement session.
type EngagementRequest struct {
	PersonaID  string                `json:"persona_id"`
	Handle     string                `json:"handle"`
	Bio        string                `json:"bio"`
	Topics     []string              `json:"topics"`
	MaxActions int                   `json:"max_actions"`
	Candidates []EngagementCandidate `json:"candidates"`
}

// EngagementCandidate is one discovered item offered for selection.
type EngagementCandidate struct {
	ContentID        string `json:"content_id"`
	AuthorHandle     string `json:"author_handle"`
	Text             string `json:"text"`
	FirstInteraction bool   `json:"first_interaction"`
}

// EngagementPick is one selected action. Action is one of like, comment,
// quote, quote_and_like, skip.
type EngagementPick struct {
	ContentID string `json:"content_id"`
	Action    string `json:"action"`
	Comment   string `json:"comment,omitempty"`
}

// Config holds the generation service connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the content-generation service.
type Client struct {
	http *resty.Client
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		c.SetAuthToken(cfg.APIKey)
	}
	return &Client{http: c}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		Post(path)
	if err != nil {
		return fmt.Errorf("textgen %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("textgen %s: %s", path, resp.Status())
	}
	return nil
}

// GeneratePost drafts a standalone post or thread.
func (c *Client) GeneratePost(ctx context.Context, req PostRequest) (PostDraft, error) {
	var out PostDraft
	err := c.post(ctx, "/v1/generate/post", req, &out)
	return out, err
}

// GenerateReply decides whether to reply in a thread and drafts the text.
func (c *Client) GenerateReply(ctx context.Context, req ReplyRequest) (ReplyDecision, error) {
	var out ReplyDecision
	err := c.post(ctx, "/v1/generate/reply", req, &out)
	return out, err
}

// DecideInteraction decides whether to initiate persona-to-persona contact.
func (c *Client) DecideInteraction(ctx context.Context, req InteractionRequest) (InteractionDecision, error) {
	var out InteractionDecision
	err := c.post(ctx, "/v1/generate/interaction", req, &out)
	return out, err
}

// SelectEngagements picks actions for a candidate set.
func (c *Client) SelectEngagements(ctx context.Context, req EngagementRequest) ([]EngagementPick, error) {
	var out []EngagementPick
	err := c.post(ctx, "/v1/generate/engagements", req, &out)
	return out, err
}

type imageResponse struct {
	Image []byte `json:"image"`
}

// GenerateImage renders an illustrative image for a drafted post.
func (c *Client) GenerateImage(ctx context.Context, personaID, prompt string) ([]byte, error) {
	var out imageResponse
	err := c.post(ctx, "/v1/generate/image", map[string]string{
		"persona_id": personaID,
		"prompt":     prompt,
	}, &out)
	return out.Image, err
}
