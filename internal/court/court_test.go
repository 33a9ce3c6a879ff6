package court

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Phase
		to   Phase
		want bool
	}{
		// Forward by one
		{PhaseCasePrompt, PhaseOpenings, true},
		{PhaseOpenings, PhaseWitnessExam, true},
		{PhaseWitnessExam, PhaseEvidenceReveal, true},
		{PhaseEvidenceReveal, PhaseClosings, true},
		{PhaseClosings, PhaseVerdictVote, true},
		{PhaseVerdictVote, PhaseSentenceVote, true},
		{PhaseSentenceVote, PhaseFinalRuling, true},

		// Staying put
		{PhaseOpenings, PhaseOpenings, true},
		{PhaseFinalRuling, PhaseFinalRuling, true},

		// The one permitted skip
		{PhaseWitnessExam, PhaseClosings, true},

		// Backward
		{PhaseOpenings, PhaseCasePrompt, false},
		{PhaseFinalRuling, PhaseVerdictVote, false},
		{PhaseClosings, PhaseWitnessExam, false},

		// Other skips
		{PhaseCasePrompt, PhaseWitnessExam, false},
		{PhaseClosings, PhaseSentenceVote, false},
		{PhaseOpenings, PhaseClosings, false},

		// Unknown
		{Phase("recess"), PhaseOpenings, false},
		{PhaseOpenings, Phase("recess"), false},
	}
	for _, tt := range tests {
		got := CanTransition(tt.from, tt.to)
		if got != tt.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCheckTransition_ValidationError(t *testing.T) {
	err := CheckTransition(PhaseVerdictVote, PhaseOpenings)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("CheckTransition error = %v, want ErrValidation", err)
	}
	if !strings.Contains(err.Error(), "invalid phase transition") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "invalid phase transition")
	}
}

func TestPhaseOrder_Complete(t *testing.T) {
	if len(PhaseOrder) != 8 {
		t.Fatalf("PhaseOrder has %d phases, want 8", len(PhaseOrder))
	}
	if PhaseOrder[0] != PhaseCasePrompt || PhaseOrder[len(PhaseOrder)-1] != PhaseFinalRuling {
		t.Errorf("PhaseOrder = %v, want case_prompt first and final_ruling last", PhaseOrder)
	}
}

func TestAssignRoles(t *testing.T) {
	tests := []struct {
		name      string
		in        []string
		judge     string
		bailiff   string
		witnesses []string
		wantErr   bool
	}{
		{
			name:      "default roster",
			in:        DefaultParticipants,
			judge:     "judge",
			bailiff:   "bailiff",
			witnesses: []string{"witness_1", "witness_2"},
		},
		{
			name:      "four participants judge keeps order",
			in:        []string{"j", "p", "d", "w"},
			judge:     "j",
			bailiff:   "j",
			witnesses: []string{"w"},
		},
		{
			name:    "too few",
			in:      []string{"j", "p", "d"},
			wantErr: true,
		},
		{
			name:    "duplicate",
			in:      []string{"j", "p", "d", "p"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ra, err := AssignRoles(tt.in)
			if tt.wantErr {
				if !IsValidation(err) {
					t.Fatalf("AssignRoles error = %v, want validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AssignRoles: %v", err)
			}
			if ra.Judge != tt.judge || ra.Bailiff != tt.bailiff {
				t.Errorf("judge/bailiff = %q/%q, want %q/%q", ra.Judge, ra.Bailiff, tt.judge, tt.bailiff)
			}
			if strings.Join(ra.Witnesses, ",") != strings.Join(tt.witnesses, ",") {
				t.Errorf("witnesses = %v, want %v", ra.Witnesses, tt.witnesses)
			}
		})
	}
}

func TestRoleOf(t *testing.T) {
	ra, _ := AssignRoles(DefaultParticipants)
	if r, ok := ra.RoleOf("witness_2"); !ok || r != RoleWitness {
		t.Errorf("RoleOf(witness_2) = %q, %v", r, ok)
	}
	if r, ok := ra.RoleOf("defense"); !ok || r != RoleDefense {
		t.Errorf("RoleOf(defense) = %q, %v", r, ok)
	}
	if _, ok := ra.RoleOf("stranger"); ok {
		t.Error("RoleOf(stranger) should not resolve")
	}
}

func TestCheckVote(t *testing.T) {
	ra, _ := AssignRoles(DefaultParticipants)
	criminal := NewMetadata(CaseCriminal, nil, ra, VoteWindows{})
	civil := NewMetadata(CaseCivil, []string{"damages", "apology"}, ra, VoteWindows{})

	tests := []struct {
		name   string
		phase  Phase
		meta   Metadata
		vt     VoteType
		choice string
		ok     bool
	}{
		{"verdict in verdict phase", PhaseVerdictVote, criminal, VoteVerdict, "guilty", true},
		{"verdict outside phase", PhaseClosings, criminal, VoteVerdict, "guilty", false},
		{"verdict during sentence phase", PhaseSentenceVote, criminal, VoteVerdict, "guilty", false},
		{"civil choice in criminal case", PhaseVerdictVote, criminal, VoteVerdict, "liable", false},
		{"civil verdict", PhaseVerdictVote, civil, VoteVerdict, "not_liable", true},
		{"default sentence option", PhaseSentenceVote, criminal, VoteSentence, "probation", true},
		{"custom sentence option", PhaseSentenceVote, civil, VoteSentence, "apology", true},
		{"default option not configured", PhaseSentenceVote, civil, VoteSentence, "probation", false},
		{"unknown type", PhaseVerdictVote, criminal, VoteType("mood"), "guilty", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckVote(tt.phase, tt.meta, tt.vt, tt.choice)
			if tt.ok && err != nil {
				t.Fatalf("CheckVote: %v", err)
			}
			if !tt.ok && !IsValidation(err) {
				t.Fatalf("CheckVote error = %v, want validation error", err)
			}
		})
	}
}

func TestWinner_TieBreakFirstRegistered(t *testing.T) {
	choices := []string{"guilty", "not_guilty"}
	tests := []struct {
		name  string
		tally map[string]int
		want  string
	}{
		{"clear winner", map[string]int{"guilty": 2, "not_guilty": 1}, "guilty"},
		{"second wins", map[string]int{"guilty": 0, "not_guilty": 3}, "not_guilty"},
		{"tie goes to first", map[string]int{"guilty": 2, "not_guilty": 2}, "guilty"},
		{"no votes", map[string]int{}, "guilty"},
		{"nil tally", nil, "guilty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Winner(choices, tt.tally); got != tt.want {
				t.Errorf("Winner() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewMetadata_SeedsTallies(t *testing.T) {
	ra, _ := AssignRoles(DefaultParticipants)
	m := NewMetadata(CaseCriminal, nil, ra, VoteWindows{VerdictMs: 1000})
	if len(m.VerdictVotes) != 2 {
		t.Errorf("VerdictVotes = %v, want 2 zeroed choices", m.VerdictVotes)
	}
	if len(m.SentenceVotes) != len(DefaultSentenceOptions) {
		t.Errorf("SentenceVotes = %v, want default options", m.SentenceVotes)
	}
	m.ApplyVote(VoteVerdict, "guilty")
	if m.VerdictVotes["guilty"] != 1 {
		t.Errorf("guilty = %d after ApplyVote, want 1", m.VerdictVotes["guilty"])
	}
}

func TestNewEvent(t *testing.T) {
	if _, err := NewEvent("", SessionStartedPayload{}); !IsValidation(err) {
		t.Errorf("empty session id error = %v, want validation", err)
	}
	if _, err := NewEvent("s1", nil); !IsValidation(err) {
		t.Errorf("nil payload error = %v, want validation", err)
	}
	if _, err := NewEvent("s1", TurnPayload{}); !IsValidation(err) {
		t.Errorf("turn without id error = %v, want validation", err)
	}
	if _, err := NewEvent("s1", PollPayload{}); !IsValidation(err) {
		t.Errorf("zero poll payload error = %v, want validation", err)
	}

	evt, err := NewEvent("s1", NewPollStarted("s1", VoteVerdict))
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if evt.Type != EventPollStarted {
		t.Errorf("Type = %q, want %q", evt.Type, EventPollStarted)
	}
	if evt.At.IsZero() {
		t.Error("At should be set")
	}
}

func TestNewHookPayload_Kinds(t *testing.T) {
	ok := NewHookPayload("narration", "s1", "speak_cue", 5*time.Millisecond, nil)
	if ok.EventType() != EventNarrationTriggered {
		t.Errorf("narration success = %q", ok.EventType())
	}
	failed := NewHookPayload("broadcast", "s1", "scene_switch", time.Millisecond, errors.New("obs offline"))
	if failed.EventType() != EventBroadcastFailed {
		t.Errorf("broadcast failure = %q", failed.EventType())
	}
	if failed.Error != "obs offline" {
		t.Errorf("Error = %q", failed.Error)
	}
}

func TestSession_LatestRecap(t *testing.T) {
	s := Session{
		Turns: []Turn{{ID: "t0"}, {ID: "t1", Dialogue: "Recap: so far"}, {ID: "t2"}},
	}
	if _, ok := s.LatestRecap(); ok {
		t.Error("LatestRecap should be empty without recap ids")
	}
	s.Metadata.RecapTurnIDs = []string{"t1"}
	got, ok := s.LatestRecap()
	if !ok || got.ID != "t1" {
		t.Errorf("LatestRecap = %+v, %v", got, ok)
	}
	if n := len(s.RecentTurns(2)); n != 2 {
		t.Errorf("RecentTurns(2) len = %d", n)
	}
}
