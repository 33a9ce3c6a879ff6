// Package turn produces one courtroom utterance at a time: prompt, length
// budget, generation, sanitizing, witness cap, moderation and persistence,
// with telemetry events along the way.
package turn

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/hooks"
	"github.com/zulandar/gavel/internal/llm"
	"github.com/zulandar/gavel/internal/policy"
	"github.com/zulandar/gavel/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// DecorumRedirect is the judge line added after a moderated turn.
const DecorumRedirect = "Order. Everyone in this courtroom will maintain decorum. Strike that from the record and continue."

// emptyFallback stands in for output that sanitizes to nothing.
const emptyFallback = "I have nothing further to add."

// Config holds generation settings.
type Config struct {
	Budget         policy.BudgetConfig
	Temperature    float64
	HistoryTurns   int
	USDPer1KTokens float64
}

// Request describes one utterance.
type Request struct {
	SessionID   string
	Speaker     string
	Role        court.Role
	Instruction string
	MaxTokens   *int              // optional override of the role default
	Cap         *policy.CapPolicy // witness answers only
	Prefix      string            // e.g. "Recap:"
	Hooks       *hooks.Guard      // receives moderation alerts
}

// Result is the outcome of Generate.
type Result struct {
	Turn     *court.Turn
	Budget   policy.Budget
	Capped   *policy.CapResult // set when the cap truncated the answer
	Flagged  bool
	Redirect *court.Turn // judge decorum turn after a flagged line
}

// Usage is a running token estimate for one session.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Generator is the per-utterance pipeline. It is safe for concurrent use
// across sessions.
type Generator struct {
	store     store.Store
	llm       llm.Generator
	moderator *policy.Moderator
	cfg       Config

	mu    sync.Mutex
	usage map[string]*Usage
}

// New creates a Generator.
func New(st store.Store, gen llm.Generator, mod *policy.Moderator, cfg Config) *Generator {
	if mod == nil {
		mod = policy.NewModerator(policy.ModerationTerms{})
	}
	return &Generator{
		store:     st,
		llm:       gen,
		moderator: mod,
		cfg:       cfg,
		usage:     make(map[string]*Usage),
	}
}

// Generate produces, moderates and persists one turn.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "generate turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("turn.speaker", req.Speaker),
		attribute.String("turn.role", string(req.Role)),
	)

	res, err := g.generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res, nil
}

func (g *Generator) generate(ctx context.Context, req Request) (*Result, error) {
	s, err := g.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("turn: load session: %w", err)
	}

	budget := g.cfg.Budget.Resolve(req.Role, s.Phase, req.MaxTokens)
	g.emit(s.ID, court.TokenBudgetPayload{
		SessionID: s.ID,
		Speaker:   req.Speaker,
		Role:      req.Role,
		Phase:     s.Phase,
		Requested: budget.Requested,
		Applied:   budget.Applied,
		RoleMax:   budget.RoleMax,
		Source:    budget.Source,
	})

	messages, err := BuildPrompt(PromptInput{
		Session:      s,
		Speaker:      req.Speaker,
		Role:         req.Role,
		Instruction:  req.Instruction,
		HistoryTurns: g.cfg.HistoryTurns,
	})
	if err != nil {
		return nil, err
	}

	raw, err := g.llm.Generate(ctx, messages, g.cfg.Temperature, budget.Applied)
	if err != nil {
		return nil, fmt.Errorf("turn: generate %s line: %w", req.Speaker, err)
	}

	text := Sanitize(raw, req.Speaker, req.Role)
	if text == "" {
		text = emptyFallback
	}
	var capped *policy.CapResult
	if req.Cap != nil {
		c := req.Cap.Apply(text)
		text = c.Text
		if c.Truncated {
			capped = &c
		}
	}
	if req.Prefix != "" {
		text = req.Prefix + " " + text
	}
	mod := g.moderator.Moderate(text)

	turn, err := g.store.AddTurn(ctx, store.TurnInput{
		SessionID:  s.ID,
		Speaker:    req.Speaker,
		Role:       req.Role,
		Dialogue:   mod.Text,
		Moderation: &court.ModerationOutcome{Flagged: mod.Flagged, Reasons: mod.Reasons},
	})
	if err != nil {
		return nil, fmt.Errorf("turn: persist %s line: %w", req.Speaker, err)
	}
	turnsGenerated.Add(ctx, 1, metric.WithAttributes(attribute.String("role", string(req.Role))))

	g.emit(s.ID, g.recordUsage(s.ID, messages, raw))

	res := &Result{Turn: turn, Budget: budget, Flagged: mod.Flagged}
	switch {
	case mod.Flagged:
		moderationFlags.Add(ctx, 1)
		if err := g.handleFlagged(ctx, s, req, mod, res); err != nil {
			return nil, err
		}
	case capped != nil:
		cappedTurns.Add(ctx, 1)
		res.Capped = capped
		g.emit(s.ID, court.WitnessCappedPayload{
			SessionID:     s.ID,
			TurnID:        turn.ID,
			Speaker:       req.Speaker,
			Limit:         capped.Limit,
			Reason:        capped.Reason,
			OriginalWords: capped.OriginalWords,
		})
	}
	return res, nil
}

func (g *Generator) handleFlagged(ctx context.Context, s *court.Session, req Request, mod policy.Moderation, res *Result) error {
	if _, err := g.store.IncrementObjectionCount(ctx, s.ID); err != nil {
		return fmt.Errorf("turn: count objection: %w", err)
	}
	req.Hooks.Broadcast(ctx, s.ID, "moderation_alert", func(ctx context.Context, b hooks.Broadcaster) error {
		return b.TriggerModerationAlert(ctx, s.ID, req.Speaker, mod.Reasons)
	})
	if req.Role == court.RoleJudge {
		return nil
	}
	judge := s.Metadata.Roles.Judge
	redirect, err := g.store.AddTurn(ctx, store.TurnInput{
		SessionID: s.ID,
		Speaker:   judge,
		Role:      court.RoleJudge,
		Dialogue:  DecorumRedirect,
	})
	if err != nil {
		return fmt.Errorf("turn: persist decorum redirect: %w", err)
	}
	res.Redirect = redirect
	return nil
}

// recordUsage adds one call to the session's running estimate and returns
// the event describing the new totals.
func (g *Generator) recordUsage(sessionID string, prompt []llm.Message, completion string) court.TokenEstimatePayload {
	chars := 0
	for _, m := range prompt {
		chars += len(m.Content)
	}

	g.mu.Lock()
	u, ok := g.usage[sessionID]
	if !ok {
		u = &Usage{}
		g.usage[sessionID] = u
	}
	u.PromptTokens += EstimateTokens(chars)
	u.CompletionTokens += EstimateTokens(len(completion))
	snapshot := *u
	g.mu.Unlock()

	total := snapshot.PromptTokens + snapshot.CompletionTokens
	return court.TokenEstimatePayload{
		SessionID:        sessionID,
		PromptTokens:     snapshot.PromptTokens,
		CompletionTokens: snapshot.CompletionTokens,
		TotalTokens:      total,
		EstimatedCostUSD: float64(total) / 1000 * g.cfg.USDPer1KTokens,
	}
}

// Usage returns the running estimate for a session.
func (g *Generator) Usage(sessionID string) Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	if u, ok := g.usage[sessionID]; ok {
		return *u
	}
	return Usage{}
}

// Forget drops the running estimate of a finished session.
func (g *Generator) Forget(sessionID string) {
	g.mu.Lock()
	delete(g.usage, sessionID)
	g.mu.Unlock()
}

func (g *Generator) emit(sessionID string, p court.Payload) {
	if err := g.store.Emit(sessionID, p); err != nil {
		log.Printf("turn: emit %s for %s: %v", p.EventType(), sessionID, err)
	}
}

// EstimateTokens approximates a token count from a character count.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return int(math.Ceil(float64(chars) / 4))
}
