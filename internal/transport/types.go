// Package transport defines the chat-platform message model the delivery
// pipeline hands to a poster.
package transport

import "context"

// Target addresses a webhook-style delivery sink.
type Target struct {
	ChannelID string
	WebhookID string
	Token     string
	ThreadID  string // optional thread / forum post
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type EmbedMedia struct {
	URL string `json:"url"`
}

type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// Embed is a rich message block. Field names follow the webhook payload.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
	Image       *EmbedMedia  `json:"image,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// Message is one outgoing post.
type Message struct {
	Content   string  `json:"content,omitempty"`
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []Embed `json:"embeds,omitempty"`
}

// Identity is the display name and avatar of the posting bot.
type Identity struct {
	Name      string
	AvatarURL string
}

// Poster delivers messages to webhook targets.
type Poster interface {
	Post(ctx context.Context, to Target, msg Message) error
	Identity(ctx context.Context) (Identity, error)
}
