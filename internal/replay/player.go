package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/gavel/internal/court"
)

// NewReplayID returns a fresh session id for a replayed stream.
func NewReplayID() string {
	return "replay-" + uuid.NewString()
}

// Player re-emits recorded frames with their original spacing divided by
// Speed.
type Player struct {
	// Speed scales playback; 2 plays twice as fast. Zero means 1.
	Speed float64
	// SessionID is the id the replay is served under. Every string in a
	// frame equal to the recorded session id is rewritten to it. Empty
	// keeps the recorded id.
	SessionID string

	sleep func(ctx context.Context, d time.Duration) error
}

// Play emits a replay_started event, every frame in order, then
// replay_finished. It returns early when ctx is done or emit fails.
func (p *Player) Play(ctx context.Context, frames []Frame, emit func(Event) error) error {
	speed := p.Speed
	if speed == 0 {
		speed = 1
	}
	if speed < 0 {
		return court.Validationf("replay speed must be positive, got %g", speed)
	}
	if len(frames) == 0 {
		return court.Validationf("recording has no frames")
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	source := frames[0].Event.SessionID
	target := p.SessionID
	if target == "" {
		target = source
	}

	started, err := bracket(court.NewReplayStarted(target, source, len(frames), speed))
	if err != nil {
		return err
	}
	if err := emit(started); err != nil {
		return err
	}

	var prev int64
	for _, fr := range frames {
		if gap := fr.DelayMs - prev; gap > 0 {
			d := time.Duration(float64(gap) / speed * float64(time.Millisecond))
			if err := sleep(ctx, d); err != nil {
				return err
			}
		}
		prev = max(prev, fr.DelayMs)

		ev, err := RewriteSessionID(fr.Event, source, target)
		if err != nil {
			return err
		}
		if err := emit(ev); err != nil {
			return err
		}
	}

	finished, err := bracket(court.NewReplayFinished(target, source, len(frames), speed))
	if err != nil {
		return err
	}
	return emit(finished)
}

func bracket(p court.ReplayPayload) (Event, error) {
	e, err := court.NewEvent(p.SessionID, p)
	if err != nil {
		return Event{}, err
	}
	return FromEvent(e)
}

// RewriteSessionID returns ev with its session id and every payload string
// equal to from replaced by to.
func RewriteSessionID(ev Event, from, to string) (Event, error) {
	if from == to {
		return ev, nil
	}
	if ev.SessionID == from {
		ev.SessionID = to
	}
	if len(ev.Payload) == 0 {
		return ev, nil
	}
	dec := json.NewDecoder(bytes.NewReader(ev.Payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Event{}, fmt.Errorf("replay: decode %s payload: %w", ev.Type, err)
	}
	b, err := json.Marshal(rewrite(v, from, to))
	if err != nil {
		return Event{}, fmt.Errorf("replay: encode %s payload: %w", ev.Type, err)
	}
	ev.Payload = b
	return ev, nil
}

func rewrite(v any, from, to string) any {
	switch x := v.(type) {
	case string:
		if x == from {
			return to
		}
		return x
	case map[string]any:
		for k, val := range x {
			x[k] = rewrite(val, from, to)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = rewrite(val, from, to)
		}
		return x
	default:
		return v
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
