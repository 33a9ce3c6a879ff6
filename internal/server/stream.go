package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/replay"
	"github.com/zulandar/gavel/internal/store"
)

// streamBuffer is how many events a slow client may fall behind before its
// stream is closed.
const streamBuffer = 256

const writeWait = 10 * time.Second

var errStreamLagged = errors.New("client fell behind the event stream")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// follower is a live subscription to one session. Handlers run on the
// store's publishing goroutine, so delivery never blocks: a full buffer
// marks the follower as lagged instead.
type follower struct {
	events chan court.Event
	lagged chan struct{}
	once   sync.Once
	unsub  store.Unsubscribe
}

// follow subscribes to an existing session and returns a snapshot of it
// taken after the subscription, so no later event is missed.
func (s *Server) follow(ctx context.Context, sessionID string) (*follower, court.Event, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, court.Event{}, err
	}
	f := &follower{
		events: make(chan court.Event, streamBuffer),
		lagged: make(chan struct{}),
	}
	f.unsub = s.store.Subscribe(sessionID, func(e court.Event) {
		select {
		case f.events <- e:
		default:
			f.once.Do(func() { close(f.lagged) })
		}
	})
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		f.unsub()
		return nil, court.Event{}, err
	}
	snap, err := court.NewEvent(sessionID, court.SnapshotPayload{Session: *sess})
	if err != nil {
		f.unsub()
		return nil, court.Event{}, err
	}
	return f, snap, nil
}

// pump delivers events to send until the session ends, the client goes away
// or the client lags. A nil heartbeat callback disables keep-alives.
func (s *Server) pump(ctx context.Context, f *follower, send func(court.Event) error, heartbeat func() error) error {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.lagged:
			return errStreamLagged
		case <-ticker.C:
			if heartbeat != nil {
				if err := heartbeat(); err != nil {
					return err
				}
			}
		case e := <-f.events:
			if err := send(e); err != nil {
				return err
			}
			if terminal(e.Type) {
				return nil
			}
		}
	}
}

func terminal(t court.EventType) bool {
	return t == court.EventSessionCompleted || t == court.EventSessionFailed
}

func snapshotTerminal(snap court.Event) bool {
	p, ok := snap.Payload.(court.SnapshotPayload)
	return ok && p.Session.Status.Terminal()
}

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

// handleEvents streams a session as SSE: a snapshot first, then every live
// event. The stream ends after session_completed or session_failed.
func (s *Server) handleEvents(c *gin.Context) {
	f, snap, err := s.follow(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.unsub()

	sseHeaders(c)
	c.Status(http.StatusOK)
	writeSSE(c.Writer, string(snap.Type), snap)
	c.Writer.Flush()
	if snapshotTerminal(snap) {
		return
	}

	err = s.pump(c.Request.Context(), f,
		func(e court.Event) error {
			writeSSE(c.Writer, string(e.Type), e)
			c.Writer.Flush()
			return nil
		},
		func() error {
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
			return nil
		})
	if err != nil {
		writeSSE(c.Writer, "error", map[string]string{"error": err.Error()})
		c.Writer.Flush()
	}
}

// handleWebSocket streams the same sequence as handleEvents over a
// WebSocket, one JSON event per text message.
func (s *Server) handleWebSocket(c *gin.Context) {
	// Resolve the session before upgrading so a missing id is a plain 404.
	f, snap, err := s.follow(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.unsub()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// The read loop only notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(e court.Event) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(e)
	}
	if err := send(snap); err != nil {
		return
	}
	if !snapshotTerminal(snap) {
		err = s.pump(ctx, f, send, func() error {
			return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		})
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err != nil {
		msg = websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
	}
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (s *Server) handleRecordings(c *gin.Context) {
	if s.recorder == nil {
		c.JSON(http.StatusOK, gin.H{"recordings": []replay.Info{}})
		return
	}
	list, err := s.recorder.List()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": list})
}

// handleReplay plays a recording back as SSE under a fresh replay id.
func (s *Server) handleReplay(c *gin.Context) {
	if s.recorder == nil {
		writeError(c, court.NotFoundf("recordings are disabled"))
		return
	}
	speed := 1.0
	if v := c.Query("speed"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeError(c, court.Validationf("speed must be a positive number, got %q", v))
			return
		}
		speed = f
	}
	path, err := s.recorder.Path(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	frames, err := replay.LoadLog(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = court.NotFoundf("no recording for session %s", c.Param("id"))
		}
		writeError(c, err)
		return
	}
	if len(frames) == 0 {
		writeError(c, court.Validationf("recording %s has no frames", c.Param("id")))
		return
	}

	p := &replay.Player{Speed: speed, SessionID: replay.NewReplayID()}
	sseHeaders(c)
	c.Header("X-Replay-Session-ID", p.SessionID)
	c.Status(http.StatusOK)
	err = p.Play(c.Request.Context(), frames, func(e replay.Event) error {
		writeSSE(c.Writer, string(e.Type), e)
		c.Writer.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		writeSSE(c.Writer, "error", map[string]string{"error": err.Error()})
		c.Writer.Flush()
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
