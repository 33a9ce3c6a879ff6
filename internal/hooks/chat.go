package hooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/gavel/internal/court"
)

// Notice is a chat-platform independent broadcast message.
type Notice struct {
	Title  string
	Body   string
	Color  string // hex, e.g. "#d9534f"
	Fields []NoticeField
}

// NoticeField is a short key/value attached to a Notice.
type NoticeField struct {
	Name  string
	Value string
	Short bool
}

// Poster delivers notices to one chat channel.
type Poster interface {
	Post(ctx context.Context, n Notice) error
}

const (
	colorPhase      = "#5bc0de"
	colorScene      = "#777777"
	colorModeration = "#d9534f"
)

// ChatBroadcaster implements Broadcaster by posting notices to one or more
// chat channels. Delivery stops at the first failing poster.
type ChatBroadcaster struct {
	Posters []Poster
}

func (b *ChatBroadcaster) TriggerPhaseStinger(ctx context.Context, sessionID string, phase court.Phase) error {
	return b.post(ctx, Notice{
		Title: "Now: " + phaseTitle(phase),
		Color: colorPhase,
		Fields: []NoticeField{
			{Name: "Session", Value: sessionID, Short: true},
			{Name: "Phase", Value: string(phase), Short: true},
		},
	})
}

func (b *ChatBroadcaster) TriggerSceneSwitch(ctx context.Context, sessionID, scene string) error {
	return b.post(ctx, Notice{
		Title: "Scene: " + scene,
		Color: colorScene,
		Fields: []NoticeField{
			{Name: "Session", Value: sessionID, Short: true},
		},
	})
}

func (b *ChatBroadcaster) TriggerModerationAlert(ctx context.Context, sessionID, speaker string, reasons []string) error {
	return b.post(ctx, Notice{
		Title: "Moderation: line redacted",
		Body:  fmt.Sprintf("A line from %s was redacted.", speaker),
		Color: colorModeration,
		Fields: []NoticeField{
			{Name: "Session", Value: sessionID, Short: true},
			{Name: "Reasons", Value: strings.Join(reasons, ", "), Short: true},
		},
	})
}

func (b *ChatBroadcaster) post(ctx context.Context, n Notice) error {
	for _, p := range b.Posters {
		if err := p.Post(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func phaseTitle(p court.Phase) string {
	words := strings.Split(string(p), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
