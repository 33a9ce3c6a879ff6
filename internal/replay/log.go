// Package replay records the event stream of a session to a JSON lines log
// and re-emits recorded logs under a new session id.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zulandar/gavel/internal/court"
)

// Ext is the file extension of recordings.
const Ext = ".jsonl"

// maxLine bounds one encoded frame. Snapshots carry the full transcript.
const maxLine = 8 << 20

// Event is a recorded event. The payload stays raw JSON so recordings can be
// replayed without knowing every payload type.
type Event struct {
	Seq       uint64          `json:"seq"`
	SessionID string          `json:"sessionId"`
	Type      court.EventType `json:"type"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

// Frame is one line of a recording: an event and its delay since the
// recording started.
type Frame struct {
	DelayMs int64 `json:"delay_ms"`
	Event   Event `json:"event"`
}

// FromEvent converts a live event into its recorded form.
func FromEvent(e court.Event) (Event, error) {
	payload, err := e.MarshalPayload()
	if err != nil {
		return Event{}, fmt.Errorf("replay: encode %s payload: %w", e.Type, err)
	}
	return Event{
		Seq:       e.Seq,
		SessionID: e.SessionID,
		Type:      e.Type,
		At:        e.At,
		Payload:   payload,
	}, nil
}

// LoadLog reads every frame of the recording at path.
func LoadLog(path string) ([]Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open %s: %w", path, err)
	}
	defer f.Close()
	frames, err := ReadFrames(f)
	if err != nil {
		return nil, fmt.Errorf("replay: %s: %w", path, err)
	}
	return frames, nil
}

// ReadFrames decodes JSON lines frames from r. Blank lines are skipped.
func ReadFrames(r io.Reader) ([]Frame, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	var frames []Frame
	n := 0
	for sc.Scan() {
		n++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var fr Frame
		if err := json.Unmarshal(line, &fr); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if fr.Event.Type == "" || fr.Event.SessionID == "" {
			return nil, fmt.Errorf("line %d: frame without event type or session id", n)
		}
		if fr.DelayMs < 0 {
			return nil, fmt.Errorf("line %d: negative delay", n)
		}
		frames = append(frames, fr)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

// WriteFrame encodes fr as one line.
func WriteFrame(w io.Writer, fr Frame) error {
	b, err := json.Marshal(fr)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
