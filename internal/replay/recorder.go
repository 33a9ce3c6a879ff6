package replay

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/store"
)

// Subscriber is the part of store.Store the recorder needs.
type Subscriber interface {
	Subscribe(id string, h store.Handler) store.Unsubscribe
}

// Recorder writes the event stream of live sessions to one file per session
// in a directory. A recording ends by itself when its session completes or
// fails.
type Recorder struct {
	dir string
	now func() time.Time

	mu     sync.Mutex
	active map[string]*recording
}

type recording struct {
	mu     sync.Mutex
	f      *os.File
	start  time.Time
	seq    uint64
	unsub  store.Unsubscribe
	closed bool
}

// NewRecorder creates dir if needed.
func NewRecorder(dir string) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("replay: recordings directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("replay: create %s: %w", dir, err)
	}
	return &Recorder{dir: dir, now: time.Now, active: make(map[string]*recording)}, nil
}

// Dir returns the recordings directory.
func (r *Recorder) Dir() string { return r.dir }

// Path returns the file a session is recorded to.
func (r *Recorder) Path(sessionID string) (string, error) {
	return PathIn(r.dir, sessionID)
}

// PathIn returns the recording path of sessionID inside dir.
func PathIn(dir, sessionID string) (string, error) {
	if sessionID == "" || sessionID != filepath.Base(sessionID) || strings.HasPrefix(sessionID, ".") {
		return "", court.Validationf("invalid recording id %q", sessionID)
	}
	return filepath.Join(dir, sessionID+Ext), nil
}

// Start begins recording sess. The file is truncated if it exists. The
// session_created event has already been published by the time a caller
// holds sess, so a pending session's recording opens with a session_created
// frame built from sess. Frames are numbered in recording order.
func (r *Recorder) Start(sub Subscriber, sess *court.Session) error {
	if sess == nil {
		return court.Validationf("session is required")
	}
	sessionID := sess.ID
	path, err := r.Path(sessionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[sessionID]; ok {
		return court.Validationf("session %s is already being recorded", sessionID)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("replay: create recording: %w", err)
	}
	rec := &recording{f: f, start: r.now()}
	if sess.Status == court.StatusPending {
		created, err := court.NewEvent(sessionID, court.SessionCreatedPayload{Session: *sess})
		if err != nil {
			f.Close()
			return fmt.Errorf("replay: %w", err)
		}
		r.write(rec, created)
	}
	r.active[sessionID] = rec
	rec.unsub = sub.Subscribe(sessionID, func(e court.Event) { r.write(rec, e) })
	log.Printf("replay: recording %s to %s", sessionID, path)
	return nil
}

func (r *Recorder) write(rec *recording, e court.Event) {
	ev, err := FromEvent(e)
	if err != nil {
		log.Printf("replay: %v", err)
		return
	}
	rec.mu.Lock()
	if rec.closed {
		rec.mu.Unlock()
		return
	}
	rec.seq++
	ev.Seq = rec.seq
	delay := r.now().Sub(rec.start).Milliseconds()
	if err := WriteFrame(rec.f, Frame{DelayMs: max(delay, 0), Event: ev}); err != nil {
		log.Printf("replay: write %s frame for %s: %v", e.Type, e.SessionID, err)
	}
	rec.mu.Unlock()

	if e.Type == court.EventSessionCompleted || e.Type == court.EventSessionFailed {
		if err := r.Stop(e.SessionID); err != nil {
			log.Printf("replay: stop %s: %v", e.SessionID, err)
		}
	}
}

// Stop ends the recording of sessionID. Stopping a session that is not being
// recorded is a no-op.
func (r *Recorder) Stop(sessionID string) error {
	r.mu.Lock()
	rec, ok := r.active[sessionID]
	delete(r.active, sessionID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	rec.unsub()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.closed = true
	return rec.f.Close()
}

// Recording reports whether sessionID is being recorded.
func (r *Recorder) Recording(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}

// Close stops every active recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.Stop(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Info describes a stored recording.
type Info struct {
	SessionID string    `json:"sessionId"`
	Bytes     int64     `json:"bytes"`
	UpdatedAt time.Time `json:"updatedAt"`
	Active    bool      `json:"active"`
}

// List returns the recordings in the directory, newest first.
func (r *Recorder) List() ([]Info, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("replay: list %s: %w", r.dir, err)
	}
	out := []Info{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(e.Name(), Ext)
		out = append(out, Info{
			SessionID: id,
			Bytes:     fi.Size(),
			UpdatedAt: fi.ModTime(),
			Active:    r.Recording(id),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
