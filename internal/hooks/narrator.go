package hooks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/zulandar/gavel/internal/court"
)

// LogNarrator writes narration cues to a writer instead of speaking them.
// Useful for local runs and as a transcript of what a TTS engine would say.
type LogNarrator struct {
	mu  sync.Mutex
	Out io.Writer
}

func (n *LogNarrator) SpeakCue(_ context.Context, sessionID, text string) error {
	return n.write(sessionID, "cue", text)
}

func (n *LogNarrator) SpeakVerdict(_ context.Context, sessionID string, r court.FinalRuling) error {
	return n.write(sessionID, "verdict", fmt.Sprintf("The verdict is %s. The sentence is %s.", r.Verdict, r.Sentence))
}

func (n *LogNarrator) SpeakRecap(_ context.Context, sessionID, text string) error {
	return n.write(sessionID, "recap", text)
}

func (n *LogNarrator) write(sessionID, kind, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.Out, "[narration %s] %s: %s\n", shortID(sessionID), kind, text)
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
