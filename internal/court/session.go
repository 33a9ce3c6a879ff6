package court

import (
	"slices"
	"time"
)

// Session is one courtroom proceeding.
type Session struct {
	ID            string     `json:"id"`
	Topic         string     `json:"topic"`
	Status        Status     `json:"status"`
	Participants  []string   `json:"participants"`
	Phase         Phase      `json:"phase"`
	TurnCount     int        `json:"turnCount"`
	Turns         []Turn     `json:"turns"`
	Metadata      Metadata   `json:"metadata"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
}

// Turn is one persisted utterance. Turns are immutable and strictly
// append-only; Sequence equals the session's turn count at insertion.
type Turn struct {
	ID         string             `json:"id"`
	SessionID  string             `json:"sessionId"`
	Sequence   int                `json:"sequence"`
	Speaker    string             `json:"speaker"`
	Role       Role               `json:"role"`
	Phase      Phase              `json:"phase"`
	Dialogue   string             `json:"dialogue"`
	CreatedAt  time.Time          `json:"createdAt"`
	Moderation *ModerationOutcome `json:"moderation,omitempty"`
}

// ModerationOutcome is attached to a turn whose text went through moderation.
type ModerationOutcome struct {
	Flagged bool     `json:"flagged"`
	Reasons []string `json:"reasons,omitempty"`
}

// Metadata is the per-session document: configuration chosen at creation and
// state accumulated while the proceeding runs.
type Metadata struct {
	CaseType        CaseType        `json:"caseType"`
	SentenceOptions []string        `json:"sentenceOptions"`
	Roles           RoleAssignments `json:"roleAssignments"`
	PhaseTiming     PhaseTiming     `json:"phaseTiming"`
	VoteWindows     VoteWindows     `json:"voteWindows"`
	VerdictVotes    map[string]int  `json:"verdictVotes"`
	SentenceVotes   map[string]int  `json:"sentenceVotes"`
	RecapTurnIDs    []string        `json:"recapTurnIds,omitempty"`
	FinalRuling     *FinalRuling    `json:"finalRuling,omitempty"`
	ObjectionCount  int             `json:"objectionCount"`
	CaseFile        *CaseFile       `json:"caseFile,omitempty"`
}

// PhaseTiming records when the current phase began and how long it is
// expected to last.
type PhaseTiming struct {
	Phase      Phase     `json:"phase"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs *int64    `json:"durationMs,omitempty"`
}

// VoteWindows holds the poll durations in milliseconds.
type VoteWindows struct {
	VerdictMs  int64 `json:"verdictMs"`
	SentenceMs int64 `json:"sentenceMs"`
}

// FinalRuling is the outcome of both polls.
type FinalRuling struct {
	Verdict   string    `json:"verdict"`
	Sentence  string    `json:"sentence"`
	DecidedAt time.Time `json:"decidedAt"`
}

// CaseFile holds optional evidence extras supplied at creation.
type CaseFile struct {
	Charge   string   `json:"charge,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Evidence []string `json:"evidence,omitempty"`
}

// RoleAssignments binds court roles to participant ids.
type RoleAssignments struct {
	Judge      string   `json:"judge"`
	Prosecutor string   `json:"prosecutor"`
	Defense    string   `json:"defense"`
	Bailiff    string   `json:"bailiff"`
	Witnesses  []string `json:"witnesses"`
}

// DefaultParticipants is the roster used when none is supplied.
var DefaultParticipants = []string{"judge", "prosecutor", "defense", "witness_1", "witness_2", "bailiff"}

// AssignRoles derives role assignments from an ordered participant list:
// judge, prosecutor, defense, then witnesses, with the last participant acting
// as bailiff once there are at least five. With four participants the judge
// also keeps order in the room.
func AssignRoles(participants []string) (RoleAssignments, error) {
	if len(participants) < 4 {
		return RoleAssignments{}, Validationf("at least 4 participants required, got %d", len(participants))
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p == "" {
			return RoleAssignments{}, Validationf("participant ids must not be empty")
		}
		if seen[p] {
			return RoleAssignments{}, Validationf("duplicate participant %q", p)
		}
		seen[p] = true
	}
	ra := RoleAssignments{
		Judge:      participants[0],
		Prosecutor: participants[1],
		Defense:    participants[2],
	}
	rest := participants[3:]
	if len(participants) >= 5 {
		ra.Bailiff = rest[len(rest)-1]
		rest = rest[:len(rest)-1]
	} else {
		ra.Bailiff = ra.Judge
	}
	ra.Witnesses = slices.Clone(rest)
	return ra, nil
}

// RoleOf returns the court role of a participant.
func (ra RoleAssignments) RoleOf(agentID string) (Role, bool) {
	switch agentID {
	case ra.Judge:
		return RoleJudge, true
	case ra.Prosecutor:
		return RoleProsecutor, true
	case ra.Defense:
		return RoleDefense, true
	case ra.Bailiff:
		return RoleBailiff, true
	}
	if slices.Contains(ra.Witnesses, agentID) {
		return RoleWitness, true
	}
	return "", false
}

// LegalChoices returns the allowed choices for a poll, in tie-break order.
func (m Metadata) LegalChoices(t VoteType) []string {
	switch t {
	case VoteVerdict:
		return m.CaseType.VerdictChoices()
	case VoteSentence:
		if len(m.SentenceOptions) > 0 {
			return m.SentenceOptions
		}
		return DefaultSentenceOptions
	}
	return nil
}

// Tally returns the tally map for a poll.
func (m Metadata) Tally(t VoteType) map[string]int {
	if t == VoteSentence {
		return m.SentenceVotes
	}
	return m.VerdictVotes
}

// CheckVote validates that a vote of type t for choice may be cast while the
// session is in phase.
func CheckVote(phase Phase, m Metadata, t VoteType, choice string) error {
	active := t.ActivePhase()
	if active == "" {
		return Validationf("unknown vote type %q", t)
	}
	if phase != active {
		return Validationf("%s votes are only accepted during %s (current phase %s)", t, active, phase)
	}
	if !slices.Contains(m.LegalChoices(t), choice) {
		return Validationf("choice %q is not legal for %s vote", choice, t)
	}
	return nil
}

// ApplyVote increments the tally for an already validated vote.
func (m *Metadata) ApplyVote(t VoteType, choice string) {
	if t == VoteSentence {
		if m.SentenceVotes == nil {
			m.SentenceVotes = map[string]int{}
		}
		m.SentenceVotes[choice]++
		return
	}
	if m.VerdictVotes == nil {
		m.VerdictVotes = map[string]int{}
	}
	m.VerdictVotes[choice]++
}

// Winner picks the most voted choice. Equal counts go to the choice listed
// first in choices; with no votes at all the first choice wins.
func Winner(choices []string, tally map[string]int) string {
	best, bestCount := "", -1
	for _, c := range choices {
		if n := tally[c]; n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// NewMetadata builds the initial metadata document, with empty tallies for
// every legal choice.
func NewMetadata(caseType CaseType, sentenceOptions []string, roles RoleAssignments, windows VoteWindows) Metadata {
	m := Metadata{
		CaseType:        caseType,
		SentenceOptions: slices.Clone(sentenceOptions),
		Roles:           roles,
		VoteWindows:     windows,
		VerdictVotes:    map[string]int{},
		SentenceVotes:   map[string]int{},
	}
	if len(m.SentenceOptions) == 0 {
		m.SentenceOptions = slices.Clone(DefaultSentenceOptions)
	}
	for _, c := range m.LegalChoices(VoteVerdict) {
		m.VerdictVotes[c] = 0
	}
	for _, c := range m.SentenceOptions {
		m.SentenceVotes[c] = 0
	}
	return m
}

// RecentTurns returns the last n turns of the session.
func (s *Session) RecentTurns(n int) []Turn {
	if n <= 0 || n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// LatestRecap returns the most recent recap turn, if any.
func (s *Session) LatestRecap() (Turn, bool) {
	if len(s.Metadata.RecapTurnIDs) == 0 {
		return Turn{}, false
	}
	id := s.Metadata.RecapTurnIDs[len(s.Metadata.RecapTurnIDs)-1]
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].ID == id {
			return s.Turns[i], true
		}
	}
	return Turn{}, false
}
