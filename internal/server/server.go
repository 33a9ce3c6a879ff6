// Package server exposes the HTTP control surface: session CRUD, audience
// votes, the live event stream (SSE and WebSocket) and recording replay.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/docket"
	"github.com/zulandar/gavel/internal/replay"
	"github.com/zulandar/gavel/internal/store"
	"github.com/zulandar/gavel/internal/voteguard"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultHeartbeat is the keep-alive interval of event streams.
const DefaultHeartbeat = 15 * time.Second

// Launcher starts orchestration of a pending session in the background.
type Launcher func(sessionID string)

// Options holds configuration for the server.
type Options struct {
	Store store.Store
	Votes *voteguard.Guard
	// Recorder is nil when recordings are disabled.
	Recorder *replay.Recorder
	// Launch is nil when sessions are only driven by hand.
	Launch    Launcher
	Docket    *docket.Docket
	Port      int
	Out       io.Writer
	Heartbeat time.Duration
}

// Server is the gin-backed control surface.
type Server struct {
	store     store.Store
	votes     *voteguard.Guard
	recorder  *replay.Recorder
	launch    Launcher
	docket    *docket.Docket
	port      int
	out       io.Writer
	heartbeat time.Duration
	router    *gin.Engine
}

// New validates opts and builds the router.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Votes == nil {
		opts.Votes = voteguard.New(0)
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	s := &Server{
		store:     opts.Store,
		votes:     opts.Votes,
		recorder:  opts.Recorder,
		launch:    opts.Launch,
		docket:    opts.Docket,
		port:      opts.Port,
		out:       opts.Out,
		heartbeat: opts.Heartbeat,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	s.registerRoutes(router)
	s.router = router
	return s, nil
}

// Handler returns the instrumented HTTP handler. Long-lived streams are
// served untraced so the connection keeps its Flusher and Hijacker.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "gavel",
		otelhttp.WithFilter(func(r *http.Request) bool { return !isStream(r.URL.Path) }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func isStream(path string) bool {
	for _, suffix := range []string{"/events", "/ws", "/replay"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if s.out != nil {
		fmt.Fprintf(s.out, "Gavel listening on http://localhost:%d\n", s.port)
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case court.IsValidation(err):
		status = http.StatusBadRequest
	case court.IsNotFound(err):
		status = http.StatusNotFound
	default:
		log.Printf("server: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func writeRejection(c *gin.Context, r *voteguard.Rejection) {
	if r.RetryAfter > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", int(math.Ceil(r.RetryAfter.Seconds()))))
	}
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":        r.Error(),
		"reason":       r.Reason,
		"retryAfterMs": r.RetryAfter.Milliseconds(),
	})
}
