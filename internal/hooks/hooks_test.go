package hooks

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/gavel/internal/court"
)

type fakeEmitter struct {
	mu     sync.Mutex
	events []court.Payload
}

func (f *fakeEmitter) Emit(_ string, p court.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, p)
	return nil
}

func (f *fakeEmitter) types() []court.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []court.EventType
	for _, p := range f.events {
		out = append(out, p.EventType())
	}
	return out
}

type fakeNarrator struct {
	err   error
	panic bool
	block bool
}

func (f *fakeNarrator) SpeakCue(ctx context.Context, _, _ string) error {
	if f.panic {
		panic("tts crashed")
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeNarrator) SpeakVerdict(context.Context, string, court.FinalRuling) error {
	return f.err
}

func (f *fakeNarrator) SpeakRecap(context.Context, string, string) error {
	return f.err
}

func TestGuard_Narrate(t *testing.T) {
	tests := []struct {
		name     string
		narrator *fakeNarrator
		want     court.EventType
	}{
		{"success", &fakeNarrator{}, court.EventNarrationTriggered},
		{"failure", &fakeNarrator{err: errors.New("tts down")}, court.EventNarrationFailed},
		{"panic", &fakeNarrator{panic: true}, court.EventNarrationFailed},
		{"timeout", &fakeNarrator{block: true}, court.EventNarrationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			em := &fakeEmitter{}
			g := &Guard{Emitter: em, Narrator: tt.narrator, Timeout: 20 * time.Millisecond}
			g.Narrate(context.Background(), "s1", "speak_cue", func(ctx context.Context, n Narrator) error {
				return n.SpeakCue(ctx, "s1", "All rise.")
			})
			got := em.types()
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("events = %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestGuard_NilCollaboratorsSkip(t *testing.T) {
	em := &fakeEmitter{}
	g := &Guard{Emitter: em}
	called := false
	g.Narrate(context.Background(), "s1", "speak_cue", func(context.Context, Narrator) error { called = true; return nil })
	g.Broadcast(context.Background(), "s1", "phase_stinger", func(context.Context, Broadcaster) error { called = true; return nil })
	if called {
		t.Error("expected no call without collaborators")
	}
	if len(em.types()) != 0 {
		t.Errorf("events = %v, want none", em.types())
	}

	var nilGuard *Guard
	nilGuard.Narrate(context.Background(), "s1", "speak_cue", nil)
}

type recordingPoster struct {
	mu      sync.Mutex
	notices []Notice
	err     error
}

func (p *recordingPoster) Post(_ context.Context, n Notice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.notices = append(p.notices, n)
	return nil
}

func TestGuard_BroadcastThroughChat(t *testing.T) {
	em := &fakeEmitter{}
	poster := &recordingPoster{}
	g := &Guard{Emitter: em, Broadcaster: &ChatBroadcaster{Posters: []Poster{poster}}}

	g.Broadcast(context.Background(), "s1", "phase_stinger", func(ctx context.Context, b Broadcaster) error {
		return b.TriggerPhaseStinger(ctx, "s1", court.PhaseWitnessExam)
	})
	g.Broadcast(context.Background(), "s1", "moderation_alert", func(ctx context.Context, b Broadcaster) error {
		return b.TriggerModerationAlert(ctx, "s1", "witness_1", []string{"profanity", "pii_email"})
	})

	if len(poster.notices) != 2 {
		t.Fatalf("notices = %d, want 2", len(poster.notices))
	}
	if poster.notices[0].Title != "Now: Witness Exam" {
		t.Errorf("title = %q", poster.notices[0].Title)
	}
	if v := poster.notices[1].Fields[1].Value; v != "profanity, pii_email" {
		t.Errorf("reasons field = %q", v)
	}
	for _, typ := range em.types() {
		if typ != court.EventBroadcastTriggered {
			t.Errorf("event = %s, want broadcast_triggered", typ)
		}
	}
}

func TestChatBroadcaster_StopsOnError(t *testing.T) {
	bad := &recordingPoster{err: errors.New("channel gone")}
	good := &recordingPoster{}
	b := &ChatBroadcaster{Posters: []Poster{bad, good}}
	if err := b.TriggerSceneSwitch(context.Background(), "s1", "jury_box"); err == nil {
		t.Fatal("expected error")
	}
	if len(good.notices) != 0 {
		t.Errorf("second poster received %d notices", len(good.notices))
	}
}

func TestLogNarrator(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNarrator{Out: &buf}
	ctx := context.Background()
	n.SpeakCue(ctx, "0123456789abcdef", "All rise.")
	n.SpeakVerdict(ctx, "s1", court.FinalRuling{Verdict: "guilty", Sentence: "fine"})
	n.SpeakRecap(ctx, "s1", "So far...")

	out := buf.String()
	for _, want := range []string{
		"[narration 01234567] cue: All rise.",
		"verdict: The verdict is guilty. The sentence is fine.",
		"recap: So far...",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
