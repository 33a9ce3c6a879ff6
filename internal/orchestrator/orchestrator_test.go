package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/db"
	"github.com/zulandar/gavel/internal/llm"
	"github.com/zulandar/gavel/internal/store"
	"github.com/zulandar/gavel/internal/turn"
)

type recorder struct {
	mu     sync.Mutex
	events []court.Event
}

func (r *recorder) handle(e court.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) count(t court.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) phases() []court.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []court.Phase
	for _, e := range r.events {
		if p, ok := e.Payload.(court.PhaseChangedPayload); ok {
			if len(out) == 0 || out[len(out)-1] != p.To {
				out = append(out, p.To)
			}
		}
	}
	return out
}

func openStore(t *testing.T, backend string) store.Store {
	t.Helper()
	if backend == "memory" {
		return store.NewMemoryStore()
	}
	gdb, err := db.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return store.NewGormStore(gdb)
}

// ballot is cast the first time the orchestrator waits during a poll phase.
type ballot map[court.VoteType][]string

// newTestOrchestrator returns an orchestrator that never sleeps. Votes in
// b are cast from inside the first wait of the matching poll phase.
func newTestOrchestrator(t *testing.T, st store.Store, gen llm.Generator, cfg Config, sessionID *string, b ballot) *Orchestrator {
	t.Helper()
	o := New(st, turn.New(st, gen, nil, turn.Config{USDPer1KTokens: 0.002}), cfg)
	cast := map[court.VoteType]bool{}
	o.sleep = func(ctx context.Context, _ time.Duration) {
		s, err := st.GetSession(ctx, *sessionID)
		if err != nil {
			return
		}
		vt, ok := court.PollFor(s.Phase)
		if !ok || cast[vt] {
			return
		}
		cast[vt] = true
		for _, choice := range b[vt] {
			if _, err := st.CastVote(ctx, *sessionID, vt, choice); err != nil {
				t.Errorf("CastVote(%s, %s): %v", vt, choice, err)
			}
		}
	}
	return o
}

func create(t *testing.T, st store.Store, in store.CreateInput) (*court.Session, *recorder) {
	t.Helper()
	if in.Topic == "" {
		in.Topic = "Who ate the office cake?"
	}
	s, err := st.CreateSession(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	rec := &recorder{}
	t.Cleanup(st.Subscribe(s.ID, rec.handle))
	return s, rec
}

func TestRun_EndToEnd(t *testing.T) {
	for _, backend := range []string{"memory", "gorm"} {
		t.Run(backend, func(t *testing.T) {
			st := openStore(t, backend)
			s, rec := create(t, st, store.CreateInput{})
			o := newTestOrchestrator(t, st, llm.NewOffline(), Config{RecapEvery: 1}, &s.ID, ballot{
				court.VoteVerdict:  {"guilty", "not_guilty", "guilty"},
				court.VoteSentence: {"probation", "fine", "fine"},
			})

			if err := o.Run(context.Background(), s.ID, RunOptions{}); err != nil {
				t.Fatalf("Run: %v", err)
			}

			got, err := st.GetSession(context.Background(), s.ID)
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if got.Status != court.StatusCompleted {
				t.Fatalf("Status = %s (%s), want completed", got.Status, got.FailureReason)
			}
			fr := got.Metadata.FinalRuling
			if fr == nil || fr.Verdict != "guilty" || fr.Sentence != "fine" {
				t.Fatalf("FinalRuling = %+v, want guilty/fine", fr)
			}

			if got.TurnCount != len(got.Turns) {
				t.Errorf("TurnCount = %d, len(Turns) = %d", got.TurnCount, len(got.Turns))
			}
			for i, tr := range got.Turns {
				if tr.Sequence != i {
					t.Fatalf("turn %d has sequence %d", i, tr.Sequence)
				}
			}
			last := got.Turns[len(got.Turns)-1]
			if last.Role != court.RoleJudge || !strings.HasPrefix(last.Dialogue, "Verdict: guilty. Sentence: fine.") {
				t.Errorf("last turn = %s: %q", last.Role, last.Dialogue)
			}

			want := []court.Phase{
				court.PhaseCasePrompt, court.PhaseOpenings, court.PhaseWitnessExam, court.PhaseClosings,
				court.PhaseVerdictVote, court.PhaseSentenceVote, court.PhaseFinalRuling,
			}
			if ph := rec.phases(); !equalPhases(ph, want) {
				t.Errorf("phases = %v, want %v", ph, want)
			}

			if n := rec.count(court.EventJudgeRecap); n != 2 {
				t.Errorf("recap events = %d, want 2 (one per witness)", n)
			}
			for _, typ := range []court.EventType{court.EventTokenBudgetApplied, court.EventSessionTokenEstimate} {
				if rec.count(typ) == 0 {
					t.Errorf("no %s events", typ)
				}
			}
			for _, typ := range []court.EventType{court.EventVoteClosed, court.EventPollStarted, court.EventPollClosed} {
				if n := rec.count(typ); n != 2 {
					t.Errorf("%s events = %d, want 2", typ, n)
				}
			}
			if n := rec.count(court.EventSessionCompleted); n != 1 {
				t.Errorf("completed events = %d, want 1", n)
			}
			if _, ok := got.LatestRecap(); !ok {
				t.Error("no recap turn recorded")
			}
		})
	}
}

func equalPhases(a, b []court.Phase) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRun_NoVotesFirstChoiceWins(t *testing.T) {
	st := store.NewMemoryStore()
	s, _ := create(t, st, store.CreateInput{CaseType: court.CaseCivil, SentenceOptions: []string{"apology", "damages"}})
	o := newTestOrchestrator(t, st, llm.NewOffline(), Config{}, &s.ID, nil)

	if err := o.Run(context.Background(), s.ID, RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := st.GetSession(context.Background(), s.ID)
	if fr := got.Metadata.FinalRuling; fr == nil || fr.Verdict != "liable" || fr.Sentence != "apology" {
		t.Errorf("FinalRuling = %+v, want liable/apology", fr)
	}
}

func TestRun_GenerationFailureFailsSession(t *testing.T) {
	st := store.NewMemoryStore()
	s, rec := create(t, st, store.CreateInput{})
	offline := llm.NewOffline()
	gen := llm.GeneratorFunc(func(ctx context.Context, msgs []llm.Message, temp float64, maxTokens int) (string, error) {
		if strings.Contains(msgs[0].Content, "Role: witness") {
			return "", errors.New("model overloaded")
		}
		return offline.Generate(ctx, msgs, temp, maxTokens)
	})
	o := newTestOrchestrator(t, st, gen, Config{}, &s.ID, nil)

	err := o.Run(context.Background(), s.ID, RunOptions{})
	if err == nil {
		t.Fatal("expected error")
	}
	got, _ := st.GetSession(context.Background(), s.ID)
	if got.Status != court.StatusFailed {
		t.Fatalf("Status = %s, want failed", got.Status)
	}
	if !strings.Contains(got.FailureReason, "model overloaded") || !strings.Contains(got.FailureReason, "witness_exam") {
		t.Errorf("FailureReason = %q", got.FailureReason)
	}
	if got.Phase != court.PhaseWitnessExam {
		t.Errorf("Phase = %s, want witness_exam", got.Phase)
	}
	if n := rec.count(court.EventSessionFailed); n != 1 {
		t.Errorf("failed events = %d, want 1", n)
	}

	// A failed session cannot be run again.
	if err := o.Run(context.Background(), s.ID, RunOptions{}); !court.IsValidation(err) {
		t.Errorf("second Run err = %v, want validation", err)
	}
}

func TestRun_CancelledFailsSession(t *testing.T) {
	st := store.NewMemoryStore()
	s, _ := create(t, st, store.CreateInput{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := llm.GeneratorFunc(func(ctx context.Context, _ []llm.Message, _ float64, _ int) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	o := newTestOrchestrator(t, st, gen, Config{}, &s.ID, nil)

	if err := o.Run(ctx, s.ID, RunOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	got, _ := st.GetSession(context.Background(), s.ID)
	if got.Status != court.StatusFailed || !strings.HasPrefix(got.FailureReason, "cancelled:") {
		t.Errorf("Status = %s, FailureReason = %q", got.Status, got.FailureReason)
	}
}

func TestRun_UnknownSession(t *testing.T) {
	st := store.NewMemoryStore()
	id := "missing"
	o := newTestOrchestrator(t, st, llm.NewOffline(), Config{}, &id, nil)
	if err := o.Run(context.Background(), id, RunOptions{}); !court.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestRun_Interjections(t *testing.T) {
	always := func() float64 { return 0 }
	objecting := func(ctx context.Context, msgs []llm.Message, _ float64, _ int) (string, error) {
		if strings.Contains(msgs[0].Content, "Role: defense") {
			return "OBJECTION: the question assumes facts not in evidence.", nil
		}
		return "The court notes it.", nil
	}

	tests := []struct {
		name     string
		cfg      Config
		gen      llm.Generator
		event    court.EventType
		want     int
		speakers []string
	}{
		{
			name:  "random event every exchange",
			cfg:   Config{DirectRounds: 1, CrossRounds: 1, RandomEventProb: 1, Roll: always},
			gen:   llm.NewOffline(),
			event: court.EventRandomEvent,
			want:  4, // 2 witnesses x 2 exchanges
		},
		{
			name:  "judge interrupt every exchange",
			cfg:   Config{DirectRounds: 1, CrossRounds: 1, JudgeInterruptProb: 1, Roll: always},
			gen:   llm.NewOffline(),
			event: court.EventJudgeInterrupt,
			want:  4,
		},
		{
			name:  "objection on every cross question",
			cfg:   Config{DirectRounds: 2, CrossRounds: 1},
			gen:   llm.GeneratorFunc(objecting),
			event: court.EventObjectionRuling,
			want:  2,
		},
		{
			name:  "quiet proceeding",
			cfg:   Config{DirectRounds: 1, CrossRounds: 1},
			gen:   llm.NewOffline(),
			event: court.EventObjectionRuling,
			want:  0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			s, rec := create(t, st, store.CreateInput{})
			o := newTestOrchestrator(t, st, tt.gen, tt.cfg, &s.ID, nil)
			if err := o.Run(context.Background(), s.ID, RunOptions{}); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if n := rec.count(tt.event); n != tt.want {
				t.Errorf("%s events = %d, want %d", tt.event, n, tt.want)
			}
		})
	}
}

func TestRun_ObjectionRulingNamesRaiser(t *testing.T) {
	st := store.NewMemoryStore()
	s, rec := create(t, st, store.CreateInput{})
	gen := llm.GeneratorFunc(func(ctx context.Context, msgs []llm.Message, _ float64, _ int) (string, error) {
		if strings.Contains(msgs[0].Content, "Role: defense") {
			return "Objection! Leading.", nil
		}
		return "Understood.", nil
	})
	o := newTestOrchestrator(t, st, gen, Config{DirectRounds: 1, CrossRounds: 1}, &s.ID, nil)
	if err := o.Run(context.Background(), s.ID, RunOptions{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, e := range rec.events {
		if p, ok := e.Payload.(court.ObjectionRulingPayload); ok {
			if p.RaisedBy != "defense" || p.TurnID == "" {
				t.Errorf("ruling payload = %+v", p)
			}
		}
	}
}

type fakeNarrator struct {
	mu    sync.Mutex
	kinds []string
}

func (n *fakeNarrator) add(kind string) {
	n.mu.Lock()
	n.kinds = append(n.kinds, kind)
	n.mu.Unlock()
}

func (n *fakeNarrator) SpeakCue(context.Context, string, string) error { n.add("cue"); return nil }
func (n *fakeNarrator) SpeakVerdict(_ context.Context, _ string, r court.FinalRuling) error {
	n.add("verdict:" + r.Verdict)
	return nil
}
func (n *fakeNarrator) SpeakRecap(context.Context, string, string) error { n.add("recap"); return nil }

type brokenBroadcaster struct{}

func (brokenBroadcaster) TriggerPhaseStinger(context.Context, string, court.Phase) error {
	return errors.New("obs offline")
}
func (brokenBroadcaster) TriggerSceneSwitch(context.Context, string, string) error {
	panic("scene switcher crashed")
}
func (brokenBroadcaster) TriggerModerationAlert(context.Context, string, string, []string) error {
	return nil
}

func TestRun_HooksAreBestEffort(t *testing.T) {
	st := store.NewMemoryStore()
	s, rec := create(t, st, store.CreateInput{})
	o := newTestOrchestrator(t, st, llm.NewOffline(), Config{}, &s.ID, ballot{court.VoteVerdict: {"not_guilty"}})
	n := &fakeNarrator{}

	if err := o.Run(context.Background(), s.ID, RunOptions{Narrator: n, Broadcaster: brokenBroadcaster{}, HookTimeout: time.Second}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := st.GetSession(context.Background(), s.ID)
	if got.Status != court.StatusCompleted {
		t.Fatalf("Status = %s, want completed", got.Status)
	}
	if rec.count(court.EventBroadcastFailed) == 0 {
		t.Error("expected broadcast_failed events")
	}
	if rec.count(court.EventBroadcastTriggered) != 0 {
		t.Error("no broadcast should have succeeded")
	}
	if rec.count(court.EventNarrationTriggered) == 0 {
		t.Error("expected narration_triggered events")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	var recaps, verdicts int
	for _, k := range n.kinds {
		switch {
		case k == "recap":
			recaps++
		case strings.HasPrefix(k, "verdict:"):
			verdicts++
			if k != "verdict:not_guilty" {
				t.Errorf("narrated %s", k)
			}
		}
	}
	if recaps != 1 || verdicts != 1 {
		t.Errorf("recaps = %d, verdicts = %d, want 1 and 1", recaps, verdicts)
	}
}

func TestGo_Wait(t *testing.T) {
	st := store.NewMemoryStore()
	var ids []string
	for range 3 {
		s, _ := create(t, st, store.CreateInput{})
		ids = append(ids, s.ID)
	}
	o := New(st, turn.New(st, llm.NewOffline(), nil, turn.Config{}), Config{})
	o.sleep = func(context.Context, time.Duration) {}
	var mu sync.Mutex
	done := map[string]error{}
	opts := RunOptions{Done: func(id string, err error) {
		mu.Lock()
		done[id] = err
		mu.Unlock()
	}}
	for _, id := range ids {
		o.Go(context.Background(), id, opts)
	}
	o.Wait()
	if len(done) != len(ids) {
		t.Errorf("Done called for %d sessions, want %d", len(done), len(ids))
	}
	for _, id := range ids {
		if err, ok := done[id]; !ok || err != nil {
			t.Errorf("Done(%s) = %v, %v", id, err, ok)
		}
		got, _ := st.GetSession(context.Background(), id)
		if got.Status != court.StatusCompleted {
			t.Errorf("session %s status = %s", id, got.Status)
		}
	}
}

func TestDisplayPause(t *testing.T) {
	cfg := Config{ReadingCharsPerSecond: 10, PrefetchRatio: 0.5, MaxPause: 3 * time.Second}.withDefaults()
	tests := []struct {
		chars int
		want  time.Duration
	}{
		{0, 0},
		{20, time.Second},
		{30, 1500 * time.Millisecond},
		{1000, 3 * time.Second},
	}
	for _, tt := range tests {
		if got := cfg.displayPause(tt.chars); got != tt.want {
			t.Errorf("displayPause(%d) = %s, want %s", tt.chars, got, tt.want)
		}
	}
}

func TestPollWindow(t *testing.T) {
	o := New(store.NewMemoryStore(), nil, Config{VerdictWindow: 5 * time.Second})
	r := &run{o: o, meta: court.Metadata{VoteWindows: court.VoteWindows{SentenceMs: 1500}}}
	if got := r.pollWindow(court.VoteVerdict); got != 5*time.Second {
		t.Errorf("verdict window = %s", got)
	}
	if got := r.pollWindow(court.VoteSentence); got != 1500*time.Millisecond {
		t.Errorf("sentence window = %s", got)
	}
	if got := r.phaseDuration(court.PhaseSentenceVote); got != 1500*time.Millisecond {
		t.Errorf("sentence phase duration = %s", got)
	}
}
