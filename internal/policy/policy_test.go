package policy

import (
	"math"
	"strings"
	"testing"

	"github.com/zulandar/gavel/internal/court"
)

func intPtr(n int) *int { return &n }

func TestResolve(t *testing.T) {
	cfg := BudgetConfig{
		RoleMax:  map[court.Role]int{court.RoleJudge: 18, court.RoleWitness: 120},
		PhaseMax: map[court.Phase]int{court.PhaseOpenings: 100},
	}
	tests := []struct {
		name      string
		role      court.Role
		phase     court.Phase
		requested *int
		want      Budget
	}{
		{
			name: "role cap forces lower", role: court.RoleJudge, phase: court.PhaseWitnessExam, requested: intPtr(260),
			want: Budget{Requested: 260, Applied: 18, RoleMax: 18, Source: SourceRoleCap},
		},
		{
			name: "request under cap", role: court.RoleWitness, phase: court.PhaseWitnessExam, requested: intPtr(80),
			want: Budget{Requested: 80, Applied: 80, RoleMax: 120, Source: SourceRequested},
		},
		{
			name: "role default without cap", role: court.RoleProsecutor, phase: court.PhaseClosings,
			want: Budget{Requested: 180, Applied: 180, Source: SourceRequested},
		},
		{
			name: "phase override narrows", role: court.RoleDefense, phase: court.PhaseOpenings,
			want: Budget{Requested: 180, Applied: 100, Source: SourcePhaseOverride},
		},
		{
			name: "phase override never widens", role: court.RoleBailiff, phase: court.PhaseOpenings,
			want: Budget{Requested: 60, Applied: 60, Source: SourceRequested},
		},
		{
			name: "role cap below phase override", role: court.RoleJudge, phase: court.PhaseOpenings,
			want: Budget{Requested: 120, Applied: 18, RoleMax: 18, Source: SourceRoleCap},
		},
		{
			name: "non-positive request falls back to default", role: court.RoleBailiff, phase: court.PhaseCasePrompt, requested: intPtr(0),
			want: Budget{Requested: 60, Applied: 60, Source: SourceRequested},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.Resolve(tt.role, tt.phase, tt.requested)
			if got != tt.want {
				t.Errorf("Resolve = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolve_RoleDefaultsOverride(t *testing.T) {
	cfg := BudgetConfig{RoleDefaults: map[court.Role]int{court.RoleJudge: 40}}
	got := cfg.Resolve(court.RoleJudge, court.PhaseCasePrompt, nil)
	if got.Applied != 40 || got.Requested != 40 {
		t.Errorf("Resolve = %+v, want 40", got)
	}
}

func TestParseRoleTokens(t *testing.T) {
	got, err := ParseRoleTokens("judge:18, witness:120")
	if err != nil {
		t.Fatalf("ParseRoleTokens: %v", err)
	}
	if got[court.RoleJudge] != 18 || got[court.RoleWitness] != 120 || len(got) != 2 {
		t.Errorf("got %v", got)
	}

	empty, err := ParseRoleTokens("")
	if err != nil || len(empty) != 0 {
		t.Errorf("empty: %v, %v", empty, err)
	}

	for _, bad := range []string{"judge", "jury:10", "judge:abc", "judge:-1"} {
		if _, err := ParseRoleTokens(bad); err == nil {
			t.Errorf("ParseRoleTokens(%q): expected error", bad)
		}
	}
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "word"
	}
	return strings.Join(w, " ")
}

func TestCapPolicy_Limit(t *testing.T) {
	tests := []struct {
		name       string
		p          CapPolicy
		wantLimit  int
		wantReason string
		wantOK     bool
	}{
		{"seconds smaller", CapPolicy{MaxTokens: 150, MaxSeconds: 10, TokensPerSecond: 3}, 30, CapReasonSeconds, true},
		{"tokens smaller", CapPolicy{MaxTokens: 20, MaxSeconds: 10, TokensPerSecond: 3}, 20, CapReasonTokens, true},
		{"tokens only", CapPolicy{MaxTokens: 50}, 50, CapReasonTokens, true},
		{"seconds only", CapPolicy{MaxSeconds: 4.5, TokensPerSecond: 2}, 9, CapReasonSeconds, true},
		{"both unlimited", CapPolicy{}, 0, "", false},
		{"seconds without rate", CapPolicy{MaxSeconds: 10}, 0, "", false},
		{"tiny limit keeps one word", CapPolicy{MaxSeconds: 0.1, TokensPerSecond: 1}, 1, CapReasonSeconds, true},
		{"huge seconds clamped", CapPolicy{MaxSeconds: 1e18, TokensPerSecond: 1e3}, math.MaxInt, CapReasonSeconds, true},
		{"huge tokens beside huge seconds", CapPolicy{MaxTokens: math.MaxInt, MaxSeconds: 1e30, TokensPerSecond: 1}, math.MaxInt, CapReasonTokens, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, reason, ok := tt.p.Limit()
			if limit != tt.wantLimit || reason != tt.wantReason || ok != tt.wantOK {
				t.Errorf("Limit() = (%d, %q, %v), want (%d, %q, %v)", limit, reason, ok, tt.wantLimit, tt.wantReason, tt.wantOK)
			}
		})
	}
}

func TestCapPolicy_Apply(t *testing.T) {
	p := CapPolicy{MaxTokens: 150, MaxSeconds: 10, TokensPerSecond: 3}

	res := p.Apply(words(40))
	if !res.Truncated {
		t.Fatal("expected truncation")
	}
	if res.Limit != 30 || res.Reason != CapReasonSeconds || res.OriginalWords != 40 {
		t.Errorf("res = %+v", res)
	}
	if !strings.HasSuffix(res.Text, TruncationMarker) {
		t.Errorf("text %q lacks marker", res.Text)
	}
	kept := strings.TrimSuffix(res.Text, " "+TruncationMarker)
	if n := len(strings.Fields(kept)); n != 30 {
		t.Errorf("kept %d words, want 30", n)
	}

	short := p.Apply(words(12))
	if short.Truncated || short.Text != words(12) {
		t.Errorf("short text changed: %+v", short)
	}

	huge := CapPolicy{MaxSeconds: 1e18, TokensPerSecond: 1e3}.Apply("one two three four five")
	if huge.Truncated || huge.Text != "one two three four five" {
		t.Errorf("practically unlimited cap truncated: %+v", huge)
	}

	tiny := CapPolicy{MaxSeconds: 0.1, TokensPerSecond: 1}.Apply("one two three")
	if !tiny.Truncated || tiny.Text != "one "+TruncationMarker {
		t.Errorf("sub-word cap = %+v, want one word kept", tiny)
	}

	unlimited := CapPolicy{}.Apply(words(500))
	if unlimited.Truncated || unlimited.Limit != 0 {
		t.Errorf("unlimited = %+v", unlimited)
	}
}

func TestModerator(t *testing.T) {
	m := NewModerator(ModerationTerms{Blocked: []string{"scoundrel"}})
	tests := []struct {
		name        string
		in          string
		wantReasons []string
		wantText    string
	}{
		{"clean", "The defendant was seen at noon.", nil, "The defendant was seen at noon."},
		{"profanity", "That is damn suspicious.", []string{ReasonProfanity}, "That is [redacted] suspicious."},
		{"longest profanity first", "Pure bullshit.", []string{ReasonProfanity}, "Pure [redacted]."},
		{"extra blocked term", "You scoundrel!", []string{ReasonProfanity}, "You [redacted]!"},
		{"word boundary", "Hello, Shell Oil.", nil, "Hello, Shell Oil."},
		{"threat", "I will hurt you if you lie.", []string{ReasonThreat}, "[redacted] if you lie."},
		{"email", "Write to jane.doe@example.com today.", []string{ReasonEmail}, "Write to [redacted] today."},
		{"phone", "Call 555-123-4567 now.", []string{ReasonPhone}, "Call [redacted] now."},
		{"multiple", "Damn, email me at a@b.io", []string{ReasonProfanity, ReasonEmail}, "[redacted], email me at [redacted]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Moderate(tt.in)
			if got.Flagged != (len(tt.wantReasons) > 0) {
				t.Errorf("Flagged = %v", got.Flagged)
			}
			if strings.Join(got.Reasons, ",") != strings.Join(tt.wantReasons, ",") {
				t.Errorf("Reasons = %v, want %v", got.Reasons, tt.wantReasons)
			}
			if got.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tt.wantText)
			}
		})
	}
}

// seq returns a Roll func yielding vals in order.
func seq(vals ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := vals[i%len(vals)]
		i++
		return v
	}
}

func TestDecider(t *testing.T) {
	tests := []struct {
		name  string
		d     Decider
		lines []string
		want  Interjection
		kind  string
	}{
		{"random event wins", Decider{RandomEventProb: 0.5, JudgeInterruptProb: 1, Roll: seq(0.1, 0.0)}, []string{"OBJECTION: leading"}, InterjectRandomEvent, "gallery_outburst"},
		{"random event picks by second roll", Decider{RandomEventProb: 0.5, Roll: seq(0.1, 0.99)}, nil, InterjectRandomEvent, "witness_composure"},
		{"judge interrupt", Decider{RandomEventProb: 0.1, JudgeInterruptProb: 0.5, Roll: seq(0.9, 0.2)}, []string{"Objection: hearsay"}, InterjectJudgeInterrupt, ""},
		{"objection cue", Decider{RandomEventProb: 0.1, JudgeInterruptProb: 0.1, Roll: seq(0.9)}, []string{"Where were you?", "OBJECTION! Speculation."}, InterjectObjection, ""},
		{"nothing", Decider{Roll: seq(0.0)}, []string{"I was at home."}, InterjectNone, ""},
		{"zero probabilities never roll", Decider{Roll: func() float64 { panic("rolled") }}, []string{"fine"}, InterjectNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.d.Decide(tt.lines...)
			if got.Kind != tt.want {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.want)
			}
			if got.Event.Kind != tt.kind {
				t.Errorf("Event.Kind = %q, want %q", got.Event.Kind, tt.kind)
			}
		})
	}
}

func TestHasObjectionCue(t *testing.T) {
	cases := map[string]bool{
		"OBJECTION: leading the witness": true,
		"objection! hearsay":             true,
		"I have no objection.":           false,
		"Objections are noted":           false,
	}
	for line, want := range cases {
		if got := HasObjectionCue(line); got != want {
			t.Errorf("HasObjectionCue(%q) = %v, want %v", line, got, want)
		}
	}
}
