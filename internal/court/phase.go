// Package court defines the domain model of a simulated courtroom proceeding:
// phases, sessions, turns, vote legality and the typed event stream.
package court

// Phase is one named stage of a proceeding.
type Phase string

// Phases in their fixed forward order.
const (
	PhaseCasePrompt     Phase = "case_prompt"
	PhaseOpenings       Phase = "openings"
	PhaseWitnessExam    Phase = "witness_exam"
	PhaseEvidenceReveal Phase = "evidence_reveal"
	PhaseClosings       Phase = "closings"
	PhaseVerdictVote    Phase = "verdict_vote"
	PhaseSentenceVote   Phase = "sentence_vote"
	PhaseFinalRuling    Phase = "final_ruling"
)

// PhaseOrder is the strict forward order of a proceeding. evidence_reveal is
// part of the order but the orchestrator skips it.
var PhaseOrder = []Phase{
	PhaseCasePrompt,
	PhaseOpenings,
	PhaseWitnessExam,
	PhaseEvidenceReveal,
	PhaseClosings,
	PhaseVerdictVote,
	PhaseSentenceVote,
	PhaseFinalRuling,
}

// Index returns the position of p in PhaseOrder, or -1 if p is unknown.
func (p Phase) Index() int {
	for i, v := range PhaseOrder {
		if v == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool { return p.Index() >= 0 }

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", Validationf("unknown phase %q", s)
	}
	return p, nil
}

// CanTransition reports whether a session may move from one phase to another.
// Staying put and stepping to the immediate successor are allowed; the only
// skip permitted is witness_exam directly to closings.
func CanTransition(from, to Phase) bool {
	fi, ti := from.Index(), to.Index()
	if fi < 0 || ti < 0 {
		return false
	}
	if ti == fi || ti == fi+1 {
		return true
	}
	return from == PhaseWitnessExam && to == PhaseClosings
}

// CheckTransition returns a validation error when from → to is not allowed.
func CheckTransition(from, to Phase) error {
	if !to.Valid() {
		return Validationf("unknown phase %q", to)
	}
	if !CanTransition(from, to) {
		return Validationf("invalid phase transition from %q to %q", from, to)
	}
	return nil
}

// VoteType names one of the two audience polls.
type VoteType string

const (
	VoteVerdict  VoteType = "verdict"
	VoteSentence VoteType = "sentence"
)

// ParseVoteType validates a vote type name.
func ParseVoteType(s string) (VoteType, error) {
	switch VoteType(s) {
	case VoteVerdict, VoteSentence:
		return VoteType(s), nil
	}
	return "", Validationf("unknown vote type %q", s)
}

// ActivePhase is the only phase during which votes of type t are accepted.
func (t VoteType) ActivePhase() Phase {
	switch t {
	case VoteVerdict:
		return PhaseVerdictVote
	case VoteSentence:
		return PhaseSentenceVote
	}
	return ""
}

// PollFor returns the poll opened by phase p, if any.
func PollFor(p Phase) (VoteType, bool) {
	switch p {
	case PhaseVerdictVote:
		return VoteVerdict, true
	case PhaseSentenceVote:
		return VoteSentence, true
	}
	return "", false
}

// CaseType selects the legal verdict set.
type CaseType string

const (
	CaseCriminal CaseType = "criminal"
	CaseCivil    CaseType = "civil"
)

// VerdictChoices returns the legal verdicts for a case type, in registration
// order. The order is the tie-break order.
func (c CaseType) VerdictChoices() []string {
	switch c {
	case CaseCivil:
		return []string{"liable", "not_liable"}
	default:
		return []string{"guilty", "not_guilty"}
	}
}

// ParseCaseType validates a case type, defaulting empty to criminal.
func ParseCaseType(s string) (CaseType, error) {
	switch CaseType(s) {
	case "":
		return CaseCriminal, nil
	case CaseCriminal, CaseCivil:
		return CaseType(s), nil
	}
	return "", Validationf("unknown case type %q", s)
}

// DefaultSentenceOptions is used when a session does not configure its own.
var DefaultSentenceOptions = []string{"community_service", "probation", "fine", "jail_time"}

// Status is the lifecycle status of a session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further mutation is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Role is a court role bound to a participant.
type Role string

const (
	RoleJudge      Role = "judge"
	RoleProsecutor Role = "prosecutor"
	RoleDefense    Role = "defense"
	RoleWitness    Role = "witness"
	RoleBailiff    Role = "bailiff"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleJudge, RoleProsecutor, RoleDefense, RoleWitness, RoleBailiff:
		return Role(s), nil
	}
	return "", Validationf("unknown role %q", s)
}
