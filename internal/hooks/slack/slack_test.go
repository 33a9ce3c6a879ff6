package slack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/gavel/internal/hooks"
)

type mockSlackClient struct {
	mu      sync.Mutex
	posted  []string
	errs    []error // returned in order, then nil
	options [][]slackapi.MsgOption
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", "", err
	}
	m.posted = append(m.posted, channelID)
	m.options = append(m.options, options)
	return channelID, "1234567890.123456", nil
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(PosterOpts{ChannelID: "C1"}); err == nil {
		t.Error("expected error without token")
	}
	if _, err := New(PosterOpts{BotToken: "xoxb-1"}); err == nil {
		t.Error("expected error without channel")
	}
	if _, err := New(PosterOpts{BotToken: "xoxb-1", ChannelID: "C1"}); err != nil {
		t.Errorf("New: %v", err)
	}
}

func TestPost(t *testing.T) {
	client := &mockSlackClient{}
	p, err := New(PosterOpts{ChannelID: "C_COURT", Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = p.Post(context.Background(), hooks.Notice{
		Title:  "Now: Closings",
		Color:  "#5bc0de",
		Fields: []hooks.NoticeField{{Name: "Phase", Value: "closings", Short: true}},
	})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(client.posted) != 1 || client.posted[0] != "C_COURT" {
		t.Errorf("posted = %v", client.posted)
	}
	if len(client.options[0]) != 2 {
		t.Errorf("options = %d, want 2", len(client.options[0]))
	}
}

func TestPost_RetriesRateLimit(t *testing.T) {
	client := &mockSlackClient{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	p, _ := New(PosterOpts{ChannelID: "C1", Client: client})
	if err := p.Post(context.Background(), hooks.Notice{Title: "x"}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(client.posted) != 1 {
		t.Errorf("posted = %d, want 1 after retry", len(client.posted))
	}
}

func TestPost_OtherErrorsNotRetried(t *testing.T) {
	client := &mockSlackClient{errs: []error{errors.New("channel_not_found")}}
	p, _ := New(PosterOpts{ChannelID: "C1", Client: client})
	if err := p.Post(context.Background(), hooks.Notice{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if len(client.posted) != 0 {
		t.Errorf("posted = %d, want 0", len(client.posted))
	}
}

func TestNoticeToAttachment(t *testing.T) {
	att := noticeToAttachment(hooks.Notice{
		Title:  "Moderation",
		Body:   "redacted",
		Color:  "#d9534f",
		Fields: []hooks.NoticeField{{Name: "Reasons", Value: "profanity"}},
	})
	if att.Title != "Moderation" || att.Text != "redacted" || att.Fallback != "Moderation" {
		t.Errorf("att = %+v", att)
	}
	if len(att.Fields) != 1 || att.Fields[0].Value != "profanity" {
		t.Errorf("fields = %+v", att.Fields)
	}
}
