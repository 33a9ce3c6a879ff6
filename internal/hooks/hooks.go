// Package hooks wraps the best-effort collaborators of a proceeding:
// narration (text-to-speech) and broadcast automation. A failing hook is
// logged and reported as telemetry; it never fails the session.
package hooks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/gavel/internal/court"
)

// Narrator speaks lines aloud.
type Narrator interface {
	SpeakCue(ctx context.Context, sessionID, text string) error
	SpeakVerdict(ctx context.Context, sessionID string, ruling court.FinalRuling) error
	SpeakRecap(ctx context.Context, sessionID, text string) error
}

// Broadcaster drives scene automation and audience notifications.
type Broadcaster interface {
	TriggerPhaseStinger(ctx context.Context, sessionID string, phase court.Phase) error
	TriggerSceneSwitch(ctx context.Context, sessionID, scene string) error
	TriggerModerationAlert(ctx context.Context, sessionID, speaker string, reasons []string) error
}

// Emitter publishes telemetry events. store.Store satisfies it.
type Emitter interface {
	Emit(id string, p court.Payload) error
}

// DefaultTimeout bounds one hook attempt.
const DefaultTimeout = 5 * time.Second

// Guard runs hook calls for one session. Either collaborator may be nil, in
// which case calls to it are skipped without telemetry.
type Guard struct {
	Emitter     Emitter
	Narrator    Narrator
	Broadcaster Broadcaster
	Timeout     time.Duration
}

// Narrate calls fn against the narrator, best effort.
func (g *Guard) Narrate(ctx context.Context, sessionID, action string, fn func(context.Context, Narrator) error) {
	if g == nil || g.Narrator == nil {
		return
	}
	g.run(ctx, "narration", sessionID, action, func(ctx context.Context) error {
		return fn(ctx, g.Narrator)
	})
}

// Broadcast calls fn against the broadcaster, best effort.
func (g *Guard) Broadcast(ctx context.Context, sessionID, action string, fn func(context.Context, Broadcaster) error) {
	if g == nil || g.Broadcaster == nil {
		return
	}
	g.run(ctx, "broadcast", sessionID, action, func(ctx context.Context) error {
		return fn(ctx, g.Broadcaster)
	})
}

func (g *Guard) run(ctx context.Context, hook, sessionID, action string, fn func(context.Context) error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := safeCall(callCtx, fn)
	latency := time.Since(start)

	if err != nil {
		log.Printf("hooks: %s %s failed after %s: %v", hook, action, latency.Round(time.Millisecond), err)
	}
	if g.Emitter == nil {
		return
	}
	if emitErr := g.Emitter.Emit(sessionID, court.NewHookPayload(hook, sessionID, action, latency, err)); emitErr != nil {
		log.Printf("hooks: emit %s telemetry for %s: %v", hook, sessionID, emitErr)
	}
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
