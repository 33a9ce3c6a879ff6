package store

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/gavel/internal/court"
)

// The apply* functions hold the legality rules shared by both backends. Each
// mutates s in place and returns the payloads to publish once the mutation is
// durable.

// interruptedReason is recorded on sessions failed by startup recovery.
const interruptedReason = "interrupted: process restarted while session was running"

// newSession validates input and builds a pending session.
func newSession(in CreateInput, now time.Time) (*court.Session, []court.Payload, error) {
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, nil, court.Validationf("topic is required")
	}
	caseType, err := court.ParseCaseType(string(in.CaseType))
	if err != nil {
		return nil, nil, err
	}
	participants := in.Participants
	if len(participants) == 0 {
		participants = court.DefaultParticipants
	}
	roles, err := court.AssignRoles(participants)
	if err != nil {
		return nil, nil, err
	}
	seen := map[string]bool{}
	for _, opt := range in.SentenceOptions {
		if strings.TrimSpace(opt) == "" {
			return nil, nil, court.Validationf("sentence options must not be empty")
		}
		if seen[opt] {
			return nil, nil, court.Validationf("duplicate sentence option %q", opt)
		}
		seen[opt] = true
	}
	if in.VoteWindows.VerdictMs < 0 || in.VoteWindows.SentenceMs < 0 {
		return nil, nil, court.Validationf("vote windows must not be negative")
	}

	meta := court.NewMetadata(caseType, in.SentenceOptions, roles, in.VoteWindows)
	meta.PhaseTiming = court.PhaseTiming{Phase: court.PhaseCasePrompt, StartedAt: now}
	meta.CaseFile = in.CaseFile

	s := &court.Session{
		ID:           uuid.NewString(),
		Topic:        topic,
		Status:       court.StatusPending,
		Participants: slices.Clone(participants),
		Phase:        court.PhaseCasePrompt,
		Turns:        []court.Turn{},
		Metadata:     meta,
		CreatedAt:    now,
	}
	return s, []court.Payload{court.SessionCreatedPayload{Session: cloneSession(s)}}, nil
}

func checkMutable(s *court.Session) error {
	if s.Status.Terminal() {
		return court.Validationf("session %s is %s", s.ID, s.Status)
	}
	return nil
}

func applyStart(s *court.Session, now time.Time) ([]court.Payload, error) {
	if s.Status != court.StatusPending {
		return nil, court.Validationf("session %s is %s, only pending sessions can start", s.ID, s.Status)
	}
	s.Status = court.StatusRunning
	s.StartedAt = &now
	return []court.Payload{court.SessionStartedPayload{SessionID: s.ID, StartedAt: now}}, nil
}

func applySetPhase(s *court.Session, next court.Phase, durationMs *int64, now time.Time) ([]court.Payload, error) {
	if err := checkMutable(s); err != nil {
		return nil, err
	}
	if err := court.CheckTransition(s.Phase, next); err != nil {
		return nil, err
	}
	if durationMs != nil && *durationMs < 0 {
		return nil, court.Validationf("phase duration must not be negative")
	}
	prev := s.Phase
	s.Phase = next
	s.Metadata.PhaseTiming = court.PhaseTiming{Phase: next, StartedAt: now, DurationMs: durationMs}

	payloads := []court.Payload{court.PhaseChangedPayload{
		SessionID:  s.ID,
		From:       prev,
		To:         next,
		StartedAt:  now,
		DurationMs: durationMs,
	}}
	if prev != next {
		if vt, ok := court.PollFor(prev); ok {
			payloads = append(payloads, court.NewPollClosed(s.ID, vt))
		}
		if vt, ok := court.PollFor(next); ok {
			payloads = append(payloads, court.NewPollStarted(s.ID, vt))
		}
	}
	return payloads, nil
}

func applyTurn(s *court.Session, in TurnInput, now time.Time) (court.Turn, []court.Payload, error) {
	if err := checkMutable(s); err != nil {
		return court.Turn{}, nil, err
	}
	if s.Status != court.StatusRunning {
		return court.Turn{}, nil, court.Validationf("session %s is %s, turns require a running session", s.ID, s.Status)
	}
	if strings.TrimSpace(in.Dialogue) == "" {
		return court.Turn{}, nil, court.Validationf("dialogue is required")
	}
	if _, ok := s.Metadata.Roles.RoleOf(in.Speaker); !ok {
		return court.Turn{}, nil, court.Validationf("speaker %q is not a participant of session %s", in.Speaker, s.ID)
	}
	if _, err := court.ParseRole(string(in.Role)); err != nil {
		return court.Turn{}, nil, err
	}

	turn := court.Turn{
		ID:         uuid.NewString(),
		SessionID:  s.ID,
		Sequence:   s.TurnCount,
		Speaker:    in.Speaker,
		Role:       in.Role,
		Phase:      s.Phase,
		Dialogue:   in.Dialogue,
		CreatedAt:  now,
		Moderation: in.Moderation,
	}
	s.Turns = append(s.Turns, turn)
	s.TurnCount++

	payloads := []court.Payload{court.TurnPayload{Turn: turn}}
	if in.Moderation != nil && in.Moderation.Flagged {
		payloads = append(payloads, court.ModerationActionPayload{
			SessionID: s.ID,
			TurnID:    turn.ID,
			Speaker:   turn.Speaker,
			Reasons:   slices.Clone(in.Moderation.Reasons),
		})
	}
	return turn, payloads, nil
}

func applyVote(s *court.Session, t court.VoteType, choice string) ([]court.Payload, error) {
	if err := checkMutable(s); err != nil {
		return nil, err
	}
	if err := court.CheckVote(s.Phase, s.Metadata, t, choice); err != nil {
		return nil, err
	}
	s.Metadata.ApplyVote(t, choice)
	return []court.Payload{
		court.VoteUpdatedPayload{
			SessionID:     s.ID,
			VoteType:      t,
			Choice:        choice,
			VerdictVotes:  maps.Clone(s.Metadata.VerdictVotes),
			SentenceVotes: maps.Clone(s.Metadata.SentenceVotes),
		},
		court.VoteCompletedPayload{SessionID: s.ID, VoteType: t, Choice: choice},
	}, nil
}

func applyRecap(s *court.Session, turnID string, known bool) ([]court.Payload, error) {
	if err := checkMutable(s); err != nil {
		return nil, err
	}
	if !known {
		return nil, court.Validationf("turn %s does not belong to session %s", turnID, s.ID)
	}
	if slices.Contains(s.Metadata.RecapTurnIDs, turnID) {
		return nil, nil
	}
	s.Metadata.RecapTurnIDs = append(s.Metadata.RecapTurnIDs, turnID)
	return []court.Payload{court.JudgeRecapPayload{
		SessionID: s.ID,
		TurnID:    turnID,
		Witnesses: len(s.Metadata.RecapTurnIDs),
	}}, nil
}

func applyObjection(s *court.Session) (int, []court.Payload, error) {
	if err := checkMutable(s); err != nil {
		return 0, nil, err
	}
	s.Metadata.ObjectionCount++
	n := s.Metadata.ObjectionCount
	return n, []court.Payload{court.ObjectionCountPayload{SessionID: s.ID, Count: n}}, nil
}

func applyRuling(s *court.Session, r court.FinalRuling, now time.Time) ([]court.Payload, error) {
	if err := checkMutable(s); err != nil {
		return nil, err
	}
	if s.Phase != court.PhaseFinalRuling {
		return nil, court.Validationf("final ruling requires phase %s (current %s)", court.PhaseFinalRuling, s.Phase)
	}
	if s.Metadata.FinalRuling != nil {
		return nil, court.Validationf("session %s already has a final ruling", s.ID)
	}
	if !slices.Contains(s.Metadata.LegalChoices(court.VoteVerdict), r.Verdict) {
		return nil, court.Validationf("verdict %q is not legal for a %s case", r.Verdict, s.Metadata.CaseType)
	}
	if !slices.Contains(s.Metadata.LegalChoices(court.VoteSentence), r.Sentence) {
		return nil, court.Validationf("sentence %q is not a configured option", r.Sentence)
	}
	if r.DecidedAt.IsZero() {
		r.DecidedAt = now
	}
	s.Metadata.FinalRuling = &r
	return []court.Payload{court.FinalRulingPayload{SessionID: s.ID, Ruling: r}}, nil
}

func applyComplete(s *court.Session, now time.Time) ([]court.Payload, error) {
	if err := checkMutable(s); err != nil {
		return nil, err
	}
	s.Status = court.StatusCompleted
	s.CompletedAt = &now
	return []court.Payload{court.SessionCompletedPayload{SessionID: s.ID, CompletedAt: now}}, nil
}

func applyFail(s *court.Session, reason string, now time.Time) ([]court.Payload, error) {
	if err := checkMutable(s); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "unknown failure"
	}
	s.Status = court.StatusFailed
	s.CompletedAt = &now
	s.FailureReason = reason
	return []court.Payload{court.SessionFailedPayload{SessionID: s.ID, Reason: reason, FailedAt: now}}, nil
}

// cloneSession returns a copy that shares no mutable state with s.
func cloneSession(s *court.Session) court.Session {
	c := *s
	c.Participants = slices.Clone(s.Participants)
	c.Turns = make([]court.Turn, len(s.Turns))
	for i, t := range s.Turns {
		c.Turns[i] = cloneTurn(t)
	}
	c.Metadata = cloneMetadata(s.Metadata)
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

func cloneTurn(t court.Turn) court.Turn {
	if t.Moderation != nil {
		m := *t.Moderation
		m.Reasons = slices.Clone(t.Moderation.Reasons)
		t.Moderation = &m
	}
	return t
}

func cloneMetadata(m court.Metadata) court.Metadata {
	c := m
	c.SentenceOptions = slices.Clone(m.SentenceOptions)
	c.Roles.Witnesses = slices.Clone(m.Roles.Witnesses)
	c.VerdictVotes = maps.Clone(m.VerdictVotes)
	c.SentenceVotes = maps.Clone(m.SentenceVotes)
	c.RecapTurnIDs = slices.Clone(m.RecapTurnIDs)
	if m.PhaseTiming.DurationMs != nil {
		d := *m.PhaseTiming.DurationMs
		c.PhaseTiming.DurationMs = &d
	}
	if m.FinalRuling != nil {
		r := *m.FinalRuling
		c.FinalRuling = &r
	}
	if m.CaseFile != nil {
		cf := *m.CaseFile
		cf.Evidence = slices.Clone(m.CaseFile.Evidence)
		c.CaseFile = &cf
	}
	return c
}
