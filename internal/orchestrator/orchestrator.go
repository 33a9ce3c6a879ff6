// Package orchestrator drives a session through the courtroom phases:
// case prompt, openings, witness examination, closings, the two audience
// polls and the final ruling.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/hooks"
	"github.com/zulandar/gavel/internal/policy"
	"github.com/zulandar/gavel/internal/store"
	"github.com/zulandar/gavel/internal/turn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultDirectRounds   = 2
	defaultCrossRounds    = 1
	defaultRecapEvery     = 2
	defaultReadingRate    = 15.0 // characters per second
	defaultPrefetchRatio  = 0.6
	defaultMaxPause       = 12 * time.Second
	defaultVerdictWindow  = 30 * time.Second
	defaultSentenceWindow = 20 * time.Second
)

// Config controls pacing and the shape of a proceeding.
type Config struct {
	DirectRounds int
	CrossRounds  int
	// RecapEvery is the witness cadence of judge recaps.
	RecapEvery int

	RandomEventProb    float64
	JudgeInterruptProb float64
	WitnessCap         policy.CapPolicy

	// Display pacing: a line of n characters holds the floor for
	// n / ReadingCharsPerSecond * PrefetchRatio, at most MaxPause.
	ReadingCharsPerSecond float64
	PrefetchRatio         float64
	MaxPause              time.Duration

	// PhaseDurations are announced with each phase change.
	PhaseDurations map[court.Phase]time.Duration
	// Poll windows used when the session does not set its own.
	VerdictWindow  time.Duration
	SentenceWindow time.Duration

	// Roll overrides the interjection dice; nil uses math/rand.
	Roll func() float64
}

func (c Config) withDefaults() Config {
	if c.DirectRounds <= 0 {
		c.DirectRounds = defaultDirectRounds
	}
	if c.CrossRounds <= 0 {
		c.CrossRounds = defaultCrossRounds
	}
	if c.RecapEvery <= 0 {
		c.RecapEvery = defaultRecapEvery
	}
	if c.ReadingCharsPerSecond <= 0 {
		c.ReadingCharsPerSecond = defaultReadingRate
	}
	if c.PrefetchRatio <= 0 || c.PrefetchRatio > 1 {
		c.PrefetchRatio = defaultPrefetchRatio
	}
	if c.MaxPause <= 0 {
		c.MaxPause = defaultMaxPause
	}
	if c.VerdictWindow <= 0 {
		c.VerdictWindow = defaultVerdictWindow
	}
	if c.SentenceWindow <= 0 {
		c.SentenceWindow = defaultSentenceWindow
	}
	return c
}

// displayPause is how long a line of chars characters holds the floor before
// the next generation call is issued.
func (c Config) displayPause(chars int) time.Duration {
	if chars <= 0 {
		return 0
	}
	secs := float64(chars) / c.ReadingCharsPerSecond * c.PrefetchRatio
	d := time.Duration(secs * float64(time.Second))
	return min(d, c.MaxPause)
}

// RunOptions carries the per-session collaborators. Either may be nil.
type RunOptions struct {
	Narrator    hooks.Narrator
	Broadcaster hooks.Broadcaster
	HookTimeout time.Duration
	// Done is called by Go once the run returns.
	Done func(sessionID string, err error)
}

// Orchestrator runs proceedings. One Orchestrator serves many concurrent
// sessions; each Run is an independent control flow.
type Orchestrator struct {
	store   store.Store
	turns   *turn.Generator
	cfg     Config
	decider policy.Decider
	sleep   func(ctx context.Context, d time.Duration)

	wg sync.WaitGroup
}

// New creates an Orchestrator.
func New(st store.Store, turns *turn.Generator, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		store: st,
		turns: turns,
		cfg:   cfg,
		decider: policy.Decider{
			RandomEventProb:    max(cfg.RandomEventProb, 0),
			JudgeInterruptProb: max(cfg.JudgeInterruptProb, 0),
			Roll:               cfg.Roll,
		},
		sleep: sleepWithContext,
	}
}

// Go runs the session in the background. Errors are logged; the session
// itself records any failure.
func (o *Orchestrator) Go(ctx context.Context, sessionID string, opts RunOptions) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		err := o.Run(ctx, sessionID, opts)
		if err != nil {
			log.Printf("orchestrator: session %s: %v", sessionID, err)
		}
		if opts.Done != nil {
			opts.Done(sessionID, err)
		}
	}()
}

// Wait blocks until every session started with Go has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Run starts a pending session and drives it to completion. Any error after
// the session started fails it with the error message; nothing is retried.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, opts RunOptions) error {
	s, err := o.store.StartSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: start: %w", err)
	}
	log.Printf("orchestrator: session %s started (%q)", s.ID, s.Topic)
	defer o.turns.Forget(s.ID)

	r := &run{
		o:     o,
		id:    s.ID,
		topic: s.Topic,
		roles: s.Metadata.Roles,
		meta:  s.Metadata,
		hooks: &hooks.Guard{
			Emitter:     o.store,
			Narrator:    opts.Narrator,
			Broadcaster: opts.Broadcaster,
			Timeout:     opts.HookTimeout,
		},
	}

	if err := r.proceed(ctx); err != nil {
		sessionsFailed.Add(context.WithoutCancel(ctx), 1)
		o.fail(ctx, s.ID, err)
		return fmt.Errorf("orchestrator: session %s: %w", s.ID, err)
	}
	sessionsCompleted.Add(ctx, 1)
	log.Printf("orchestrator: session %s completed", s.ID)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, id string, cause error) {
	reason := cause.Error()
	if errors.Is(cause, context.Canceled) {
		reason = "cancelled: " + reason
	}
	if _, err := o.store.FailSession(context.WithoutCancel(ctx), id, reason); err != nil {
		log.Printf("orchestrator: fail session %s: %v", id, err)
	}
}

// run is the state of one proceeding.
type run struct {
	o     *Orchestrator
	id    string
	topic string
	roles court.RoleAssignments
	meta  court.Metadata
	hooks *hooks.Guard
}

type phaseStep struct {
	phase court.Phase
	fn    func(ctx context.Context) error
}

// proceed runs every phase in order. evidence_reveal is skipped.
func (r *run) proceed(ctx context.Context) error {
	steps := []phaseStep{
		{court.PhaseCasePrompt, r.casePrompt},
		{court.PhaseOpenings, r.openings},
		{court.PhaseWitnessExam, r.witnessExam},
		{court.PhaseClosings, r.closings},
		{court.PhaseVerdictVote, func(ctx context.Context) error { return r.poll(ctx, court.VoteVerdict) }},
		{court.PhaseSentenceVote, func(ctx context.Context) error { return r.poll(ctx, court.VoteSentence) }},
		{court.PhaseFinalRuling, r.finalRuling},
	}
	for _, st := range steps {
		if err := r.runPhase(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) runPhase(ctx context.Context, st phaseStep) error {
	ctx, span := tracer.Start(ctx, "phase "+string(st.phase))
	defer span.End()
	span.SetAttributes(attribute.String("session.id", r.id))
	start := time.Now()

	if err := r.enter(ctx, st.phase, r.phaseDuration(st.phase)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := st.fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", st.phase, err)
	}
	phaseSeconds.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("phase", string(st.phase))))
	return nil
}

// phaseDuration is the duration announced with a phase change. Poll phases
// announce their vote window.
func (r *run) phaseDuration(p court.Phase) time.Duration {
	if vt, ok := court.PollFor(p); ok {
		return r.pollWindow(vt)
	}
	return r.o.cfg.PhaseDurations[p]
}

// enter moves the session to phase and fires the phase stinger.
func (r *run) enter(ctx context.Context, phase court.Phase, d time.Duration) error {
	var durationMs *int64
	if d > 0 {
		ms := d.Milliseconds()
		durationMs = &ms
	}
	if _, err := r.o.store.SetPhase(ctx, r.id, phase, durationMs); err != nil {
		return fmt.Errorf("set phase %s: %w", phase, err)
	}
	log.Printf("orchestrator: session %s entering %s", r.id, phase)
	r.hooks.Broadcast(ctx, r.id, "phase_stinger", func(ctx context.Context, b hooks.Broadcaster) error {
		return b.TriggerPhaseStinger(ctx, r.id, phase)
	})
	return nil
}

func (r *run) scene(ctx context.Context, scene string) {
	r.hooks.Broadcast(ctx, r.id, "scene_switch", func(ctx context.Context, b hooks.Broadcaster) error {
		return b.TriggerSceneSwitch(ctx, r.id, scene)
	})
}

// line is one scripted utterance.
type line struct {
	speaker     string
	role        court.Role
	instruction string
	cap         *policy.CapPolicy
	prefix      string
	// quiet skips the narration cue; the caller narrates instead.
	quiet bool
}

// say generates one line, narrates it, then holds for its display time.
func (r *run) say(ctx context.Context, l line) (*court.Turn, error) {
	res, err := r.o.turns.Generate(ctx, turn.Request{
		SessionID:   r.id,
		Speaker:     l.speaker,
		Role:        l.role,
		Instruction: l.instruction,
		Cap:         l.cap,
		Prefix:      l.prefix,
		Hooks:       r.hooks,
	})
	if err != nil {
		return nil, err
	}
	t := res.Turn
	if !l.quiet {
		r.hooks.Narrate(ctx, r.id, "speak_cue", func(ctx context.Context, n hooks.Narrator) error {
			return n.SpeakCue(ctx, r.id, t.Dialogue)
		})
	}
	shown := len([]rune(t.Dialogue))
	if res.Redirect != nil {
		shown += len([]rune(res.Redirect.Dialogue))
	}
	r.o.pause(ctx, shown)
	return t, nil
}

func (o *Orchestrator) pause(ctx context.Context, chars int) {
	if d := o.cfg.displayPause(chars); d > 0 {
		o.sleep(ctx, d)
	}
}

func (r *run) emit(p court.Payload) {
	if err := r.o.store.Emit(r.id, p); err != nil {
		log.Printf("orchestrator: emit %s for %s: %v", p.EventType(), r.id, err)
	}
}

func (r *run) casePrompt(ctx context.Context) error {
	r.scene(ctx, "courtroom_wide")
	instruction := fmt.Sprintf("Open the court. Announce the case %q and the charge, and call for opening statements.", r.topic)
	if cf := r.meta.CaseFile; cf != nil && cf.Charge != "" {
		instruction = fmt.Sprintf("Open the court. Announce the case %q, read the charge (%s), and call for opening statements.", r.topic, cf.Charge)
	}
	_, err := r.say(ctx, line{speaker: r.roles.Judge, role: court.RoleJudge, instruction: instruction})
	return err
}

func (r *run) openings(ctx context.Context) error {
	r.scene(ctx, "counsel_tables")
	if _, err := r.say(ctx, line{
		speaker:     r.roles.Prosecutor,
		role:        court.RoleProsecutor,
		instruction: "Deliver your opening statement: what the evidence will show.",
	}); err != nil {
		return err
	}
	_, err := r.say(ctx, line{
		speaker:     r.roles.Defense,
		role:        court.RoleDefense,
		instruction: "Deliver your opening statement: why the court should doubt the accusation.",
	})
	return err
}

func (r *run) closings(ctx context.Context) error {
	r.scene(ctx, "counsel_tables")
	if _, err := r.say(ctx, line{
		speaker:     r.roles.Prosecutor,
		role:        court.RoleProsecutor,
		instruction: "Deliver your closing argument, pointing to the testimony heard today.",
	}); err != nil {
		return err
	}
	_, err := r.say(ctx, line{
		speaker:     r.roles.Defense,
		role:        court.RoleDefense,
		instruction: "Deliver your closing argument and ask the court for a favourable verdict.",
	})
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
