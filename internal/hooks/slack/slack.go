// Package slack posts broadcast notices to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/gavel/internal/hooks"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Poster implements hooks.Poster for one Slack channel.
type Poster struct {
	client    slackClient
	channelID string
}

// PosterOpts holds parameters for creating a Slack Poster.
type PosterOpts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Poster.
func New(opts PosterOpts) (*Poster, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	p := &Poster{client: opts.Client, channelID: opts.ChannelID}
	if p.client == nil {
		p.client = slackapi.New(opts.BotToken)
	}
	return p, nil
}

// Post sends n as a message with one attachment.
func (p *Poster) Post(ctx context.Context, n hooks.Notice) error {
	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(n.Title, false),
		slackapi.MsgOptionAttachments(noticeToAttachment(n)),
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := p.client.PostMessage(p.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func noticeToAttachment(n hooks.Notice) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    n.Title,
		Text:     n.Body,
		Color:    n.Color,
		Fallback: n.Title,
	}
	for _, f := range n.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
