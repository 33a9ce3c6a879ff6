package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/store"
	"github.com/zulandar/gavel/internal/voteguard"
)

// registerRoutes sets up all routes on the gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.POST("/sessions/:id/start", s.handleStartSession)
	api.POST("/sessions/:id/phase", s.handleSetPhase)
	api.POST("/sessions/:id/turns", s.handleAddTurn)
	api.POST("/sessions/:id/votes", s.handleVote)
	api.GET("/sessions/:id/events", s.handleEvents)
	api.GET("/sessions/:id/ws", s.handleWebSocket)

	api.GET("/recordings", s.handleRecordings)
	api.GET("/recordings/:id/replay", s.handleReplay)

	api.GET("/docket", s.handleDocket)
}

type createRequest struct {
	Topic           string            `json:"topic"`
	CaseType        string            `json:"caseType"`
	Participants    []string          `json:"participants"`
	SentenceOptions []string          `json:"sentenceOptions"`
	VoteWindows     court.VoteWindows `json:"voteWindows"`
	CaseFile        *court.CaseFile   `json:"caseFile"`
	// Start launches orchestration right away. Defaults to true.
	Start *bool `json:"start"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, court.Validationf("invalid request body: %v", err))
		return
	}
	caseType, err := court.ParseCaseType(req.CaseType)
	if err != nil {
		writeError(c, err)
		return
	}
	sess, err := s.store.CreateSession(c.Request.Context(), store.CreateInput{
		Topic:           req.Topic,
		CaseType:        caseType,
		Participants:    req.Participants,
		SentenceOptions: req.SentenceOptions,
		VoteWindows:     req.VoteWindows,
		CaseFile:        req.CaseFile,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	if s.recorder != nil {
		if err := s.recorder.Start(s.store, sess); err != nil {
			log.Printf("server: record session %s: %v", sess.ID, err)
		}
	}
	if s.launch != nil && (req.Start == nil || *req.Start) {
		s.launch(sess.ID)
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleListSessions(c *gin.Context) {
	var filter store.ListFilter
	if v := c.Query("status"); v != "" {
		filter.Status = court.Status(v)
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, court.Validationf("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}
	list, err := s.store.ListSessions(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleStartSession(c *gin.Context) {
	if s.launch == nil {
		writeError(c, court.Validationf("automatic orchestration is disabled"))
		return
	}
	sess, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if sess.Status != court.StatusPending {
		writeError(c, court.Validationf("session %s is %s, not pending", sess.ID, sess.Status))
		return
	}
	s.launch(sess.ID)
	c.JSON(http.StatusAccepted, gin.H{"sessionId": sess.ID, "status": "launching"})
}

type phaseRequest struct {
	Phase      string `json:"phase" binding:"required"`
	DurationMs *int64 `json:"durationMs"`
}

func (s *Server) handleSetPhase(c *gin.Context) {
	var req phaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, court.Validationf("invalid request body: %v", err))
		return
	}
	phase, err := court.ParsePhase(req.Phase)
	if err != nil {
		writeError(c, err)
		return
	}
	sess, err := s.store.SetPhase(c.Request.Context(), c.Param("id"), phase, req.DurationMs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type turnRequest struct {
	Speaker  string `json:"speaker" binding:"required"`
	Role     string `json:"role" binding:"required"`
	Dialogue string `json:"dialogue" binding:"required"`
}

func (s *Server) handleAddTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, court.Validationf("invalid request body: %v", err))
		return
	}
	role, err := court.ParseRole(req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	t, err := s.store.AddTurn(c.Request.Context(), store.TurnInput{
		SessionID: c.Param("id"),
		Speaker:   req.Speaker,
		Role:      role,
		Dialogue:  req.Dialogue,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

type voteRequest struct {
	Type     string `json:"type" binding:"required"`
	Choice   string `json:"choice" binding:"required"`
	ClientID string `json:"clientId"`
}

func (s *Server) handleVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, court.Validationf("invalid request body: %v", err))
		return
	}
	voteType, err := court.ParseVoteType(req.Type)
	if err != nil {
		writeError(c, err)
		return
	}
	id := c.Param("id")

	key := voteguard.Key{
		SessionID: id,
		ClientID:  clientID(c, req.ClientID),
		VoteType:  voteType,
	}
	release, err := s.votes.Reserve(key)
	if err != nil {
		var rej *voteguard.Rejection
		if errors.As(err, &rej) {
			writeRejection(c, rej)
			return
		}
		writeError(c, err)
		return
	}

	sess, err := s.store.CastVote(c.Request.Context(), id, voteType, req.Choice)
	if err != nil {
		if court.IsNotFound(err) {
			s.votes.Forget(key)
		} else {
			release()
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":     sess.ID,
		"verdictVotes":  sess.Metadata.VerdictVotes,
		"sentenceVotes": sess.Metadata.SentenceVotes,
	})
}

// clientID identifies the voter: the body field, then the X-Client-ID
// header, then the remote address.
func clientID(c *gin.Context, fromBody string) string {
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	if id := strings.TrimSpace(c.GetHeader("X-Client-ID")); id != "" {
		return id
	}
	return c.ClientIP()
}

type docketEntry struct {
	Schedule string    `json:"schedule"`
	Topic    string    `json:"topic"`
	CaseType string    `json:"caseType,omitempty"`
	Next     time.Time `json:"next"`
}

func (s *Server) handleDocket(c *gin.Context) {
	out := []docketEntry{}
	if s.docket != nil {
		for _, u := range s.docket.Upcoming(time.Now()) {
			out = append(out, docketEntry{
				Schedule: u.Entry.Schedule,
				Topic:    u.Entry.Topic,
				CaseType: string(u.Entry.CaseType),
				Next:     u.Next.UTC(),
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"docket": out})
}
