package court

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags a domain event.
type EventType string

const (
	EventSnapshot              EventType = "snapshot"
	EventSessionCreated        EventType = "session_created"
	EventSessionStarted        EventType = "session_started"
	EventPhaseChanged          EventType = "phase_changed"
	EventTurn                  EventType = "turn"
	EventVoteUpdated           EventType = "vote_updated"
	EventVoteClosed            EventType = "vote_closed"
	EventModerationAction      EventType = "moderation_action"
	EventWitnessCapped         EventType = "witness_response_capped"
	EventTokenBudgetApplied    EventType = "token_budget_applied"
	EventSessionTokenEstimate  EventType = "session_token_estimate"
	EventObjectionCountChanged EventType = "objection_count_changed"
	EventJudgeRecap            EventType = "judge_recap_emitted"
	EventRandomEvent           EventType = "random_event"
	EventJudgeInterrupt        EventType = "judge_interrupt"
	EventObjectionRuling       EventType = "objection_ruling"
	EventFinalRuling           EventType = "final_ruling"
	EventSessionCompleted      EventType = "session_completed"
	EventSessionFailed         EventType = "session_failed"
	EventPollStarted           EventType = "analytics_poll_started"
	EventPollClosed            EventType = "analytics_poll_closed"
	EventVoteCompleted         EventType = "analytics_vote_completed"
	EventNarrationTriggered    EventType = "narration_triggered"
	EventNarrationFailed       EventType = "narration_failed"
	EventBroadcastTriggered    EventType = "broadcast_triggered"
	EventBroadcastFailed       EventType = "broadcast_failed"
	EventReplayStarted         EventType = "replay_started"
	EventReplayFinished        EventType = "replay_finished"
)

// Payload is the tagged body of an event. Each tag has exactly one payload
// struct.
type Payload interface {
	EventType() EventType
}

// validator is implemented by payloads with construction-time invariants.
type validator interface {
	validate() error
}

// Event is an append-only, timestamped notification of a store mutation or
// orchestration milestone.
type Event struct {
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	Payload   Payload   `json:"payload"`
}

// NewEvent builds an event for sessionID, validating the payload.
func NewEvent(sessionID string, p Payload) (Event, error) {
	if sessionID == "" {
		return Event{}, Validationf("event session id is required")
	}
	if p == nil {
		return Event{}, Validationf("event payload is required")
	}
	if v, ok := p.(validator); ok {
		if err := v.validate(); err != nil {
			return Event{}, fmt.Errorf("%s event: %w", p.EventType(), err)
		}
	}
	return Event{
		SessionID: sessionID,
		Type:      p.EventType(),
		At:        time.Now().UTC(),
		Payload:   p,
	}, nil
}

// MarshalPayload returns the JSON body of the event's payload.
func (e Event) MarshalPayload() (json.RawMessage, error) {
	return json.Marshal(e.Payload)
}

// SnapshotPayload carries the full session state.
type SnapshotPayload struct {
	Session Session `json:"session"`
}

func (SnapshotPayload) EventType() EventType { return EventSnapshot }

// SessionCreatedPayload announces a new session.
type SessionCreatedPayload struct {
	Session Session `json:"session"`
}

func (SessionCreatedPayload) EventType() EventType { return EventSessionCreated }

// SessionStartedPayload announces that orchestration began.
type SessionStartedPayload struct {
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
}

func (SessionStartedPayload) EventType() EventType { return EventSessionStarted }

// PhaseChangedPayload records a phase transition.
type PhaseChangedPayload struct {
	SessionID  string    `json:"sessionId"`
	From       Phase     `json:"from"`
	To         Phase     `json:"to"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs *int64    `json:"durationMs,omitempty"`
}

func (PhaseChangedPayload) EventType() EventType { return EventPhaseChanged }

func (p PhaseChangedPayload) validate() error {
	if !p.To.Valid() {
		return Validationf("unknown phase %q", p.To)
	}
	return nil
}

// TurnPayload carries a newly persisted turn.
type TurnPayload struct {
	Turn Turn `json:"turn"`
}

func (TurnPayload) EventType() EventType { return EventTurn }

func (p TurnPayload) validate() error {
	if p.Turn.ID == "" {
		return Validationf("turn id is required")
	}
	return nil
}

// VoteUpdatedPayload carries the tallies after a vote.
type VoteUpdatedPayload struct {
	SessionID     string         `json:"sessionId"`
	VoteType      VoteType       `json:"voteType"`
	Choice        string         `json:"choice"`
	VerdictVotes  map[string]int `json:"verdictVotes"`
	SentenceVotes map[string]int `json:"sentenceVotes"`
}

func (VoteUpdatedPayload) EventType() EventType { return EventVoteUpdated }

// VoteClosedPayload is emitted when a poll window ends.
type VoteClosedPayload struct {
	SessionID string         `json:"sessionId"`
	VoteType  VoteType       `json:"voteType"`
	Tally     map[string]int `json:"tally"`
	Leader    string         `json:"leader"`
}

func (VoteClosedPayload) EventType() EventType { return EventVoteClosed }

// ModerationActionPayload reports flagged content on a persisted turn.
type ModerationActionPayload struct {
	SessionID string   `json:"sessionId"`
	TurnID    string   `json:"turnId"`
	Speaker   string   `json:"speaker"`
	Reasons   []string `json:"reasons"`
}

func (ModerationActionPayload) EventType() EventType { return EventModerationAction }

// WitnessCappedPayload reports a truncated witness answer.
type WitnessCappedPayload struct {
	SessionID     string `json:"sessionId"`
	TurnID        string `json:"turnId"`
	Speaker       string `json:"speaker"`
	Limit         int    `json:"limit"`
	Reason        string `json:"reason"`
	OriginalWords int    `json:"originalWords"`
}

func (WitnessCappedPayload) EventType() EventType { return EventWitnessCapped }

// TokenBudgetPayload records how a generation budget was resolved.
type TokenBudgetPayload struct {
	SessionID string `json:"sessionId"`
	Speaker   string `json:"speaker"`
	Role      Role   `json:"role"`
	Phase     Phase  `json:"phase"`
	Requested int    `json:"requested"`
	Applied   int    `json:"applied"`
	RoleMax   int    `json:"roleMax,omitempty"`
	Source    string `json:"source"`
}

func (TokenBudgetPayload) EventType() EventType { return EventTokenBudgetApplied }

// TokenEstimatePayload carries the running token and cost estimate.
type TokenEstimatePayload struct {
	SessionID        string  `json:"sessionId"`
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd"`
}

func (TokenEstimatePayload) EventType() EventType { return EventSessionTokenEstimate }

// ObjectionCountPayload reports the session objection counter.
type ObjectionCountPayload struct {
	SessionID string `json:"sessionId"`
	Count     int    `json:"count"`
}

func (ObjectionCountPayload) EventType() EventType { return EventObjectionCountChanged }

// JudgeRecapPayload marks a turn as canonical continuity context.
type JudgeRecapPayload struct {
	SessionID string `json:"sessionId"`
	TurnID    string `json:"turnId"`
	Witnesses int    `json:"witnessesCovered"`
}

func (JudgeRecapPayload) EventType() EventType { return EventJudgeRecap }

// RandomEventPayload describes an injected in-scene event.
type RandomEventPayload struct {
	SessionID string `json:"sessionId"`
	Kind      string `json:"kind"`
	Speaker   string `json:"speaker"`
}

func (RandomEventPayload) EventType() EventType { return EventRandomEvent }

// JudgeInterruptPayload records a judge interruption.
type JudgeInterruptPayload struct {
	SessionID string `json:"sessionId"`
	Witness   string `json:"witness"`
}

func (JudgeInterruptPayload) EventType() EventType { return EventJudgeInterrupt }

// ObjectionRulingPayload records the judge ruling on an objection cue.
type ObjectionRulingPayload struct {
	SessionID string `json:"sessionId"`
	RaisedBy  string `json:"raisedBy"`
	TurnID    string `json:"turnId"`
}

func (ObjectionRulingPayload) EventType() EventType { return EventObjectionRuling }

// FinalRulingPayload carries the winners of both polls.
type FinalRulingPayload struct {
	SessionID string      `json:"sessionId"`
	Ruling    FinalRuling `json:"ruling"`
}

func (FinalRulingPayload) EventType() EventType { return EventFinalRuling }

// SessionCompletedPayload is emitted once when a session completes.
type SessionCompletedPayload struct {
	SessionID   string    `json:"sessionId"`
	CompletedAt time.Time `json:"completedAt"`
}

func (SessionCompletedPayload) EventType() EventType { return EventSessionCompleted }

// SessionFailedPayload is emitted once when a session fails.
type SessionFailedPayload struct {
	SessionID string    `json:"sessionId"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failedAt"`
}

func (SessionFailedPayload) EventType() EventType { return EventSessionFailed }

// PollPayload is the analytics body for poll open and close.
type PollPayload struct {
	kind      EventType
	SessionID string   `json:"sessionId"`
	VoteType  VoteType `json:"voteType"`
	Phase     Phase    `json:"phase"`
}

// NewPollStarted builds the analytics payload emitted when a poll opens.
func NewPollStarted(sessionID string, t VoteType) PollPayload {
	return PollPayload{kind: EventPollStarted, SessionID: sessionID, VoteType: t, Phase: t.ActivePhase()}
}

// NewPollClosed builds the analytics payload emitted when a poll closes.
func NewPollClosed(sessionID string, t VoteType) PollPayload {
	return PollPayload{kind: EventPollClosed, SessionID: sessionID, VoteType: t, Phase: t.ActivePhase()}
}

func (p PollPayload) EventType() EventType { return p.kind }

func (p PollPayload) validate() error {
	if p.kind != EventPollStarted && p.kind != EventPollClosed {
		return Validationf("poll payload must be built with NewPollStarted or NewPollClosed")
	}
	return nil
}

// VoteCompletedPayload is the analytics record of one accepted vote.
type VoteCompletedPayload struct {
	SessionID string   `json:"sessionId"`
	VoteType  VoteType `json:"voteType"`
	Choice    string   `json:"choice"`
}

func (VoteCompletedPayload) EventType() EventType { return EventVoteCompleted }

// HookPayload reports the outcome of a best-effort collaborator call.
type HookPayload struct {
	kind      EventType
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// NewHookPayload builds a narration or broadcast outcome payload.
func NewHookPayload(hook, sessionID, action string, latency time.Duration, err error) HookPayload {
	p := HookPayload{SessionID: sessionID, Action: action, LatencyMs: latency.Milliseconds()}
	switch {
	case hook == "narration" && err == nil:
		p.kind = EventNarrationTriggered
	case hook == "narration":
		p.kind = EventNarrationFailed
	case err == nil:
		p.kind = EventBroadcastTriggered
	default:
		p.kind = EventBroadcastFailed
	}
	if err != nil {
		p.Error = err.Error()
	}
	return p
}

func (p HookPayload) EventType() EventType { return p.kind }

func (p HookPayload) validate() error {
	if p.kind == "" {
		return Validationf("hook payload must be built with NewHookPayload")
	}
	return nil
}

// ReplayPayload brackets a replayed stream.
type ReplayPayload struct {
	kind            EventType
	SessionID       string  `json:"sessionId"`
	SourceSessionID string  `json:"sourceSessionId"`
	Frames          int     `json:"frames"`
	Speed           float64 `json:"speed"`
}

// NewReplayStarted builds the payload sent before replayed frames.
func NewReplayStarted(sessionID, source string, frames int, speed float64) ReplayPayload {
	return ReplayPayload{kind: EventReplayStarted, SessionID: sessionID, SourceSessionID: source, Frames: frames, Speed: speed}
}

// NewReplayFinished builds the payload sent after the last replayed frame.
func NewReplayFinished(sessionID, source string, frames int, speed float64) ReplayPayload {
	return ReplayPayload{kind: EventReplayFinished, SessionID: sessionID, SourceSessionID: source, Frames: frames, Speed: speed}
}

func (p ReplayPayload) EventType() EventType { return p.kind }
