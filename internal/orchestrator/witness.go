package orchestrator

import (
	"context"
	"fmt"

	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/hooks"
	"github.com/zulandar/gavel/internal/policy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// examiner is the counsel questioning a witness, with the opposing counsel.
type examiner struct {
	speaker  string
	role     court.Role
	opponent string
	oppRole  court.Role
	style    string
}

func (r *run) witnessExam(ctx context.Context) error {
	direct := examiner{
		speaker: r.roles.Prosecutor, role: court.RoleProsecutor,
		opponent: r.roles.Defense, oppRole: court.RoleDefense,
		style: "direct examination",
	}
	cross := examiner{
		speaker: r.roles.Defense, role: court.RoleDefense,
		opponent: r.roles.Prosecutor, oppRole: court.RoleProsecutor,
		style: "cross-examination",
	}

	for i, w := range r.roles.Witnesses {
		r.scene(ctx, "witness_stand")
		if _, err := r.say(ctx, line{
			speaker:     r.roles.Bailiff,
			role:        court.RoleBailiff,
			instruction: fmt.Sprintf("Call %s to the stand and swear them in.", w),
		}); err != nil {
			return err
		}
		for range r.o.cfg.DirectRounds {
			if err := r.exchange(ctx, direct, w); err != nil {
				return err
			}
		}
		for range r.o.cfg.CrossRounds {
			if err := r.exchange(ctx, cross, w); err != nil {
				return err
			}
		}
		if (i+1)%r.o.cfg.RecapEvery == 0 {
			if err := r.recap(ctx, i+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// exchange is one question and answer followed by at most one interjection.
func (r *run) exchange(ctx context.Context, ex examiner, witness string) error {
	q, err := r.say(ctx, line{
		speaker:     ex.speaker,
		role:        ex.role,
		instruction: fmt.Sprintf("Ask %s one pointed question in %s.", witness, ex.style),
	})
	if err != nil {
		return err
	}
	cp := r.o.cfg.WitnessCap
	a, err := r.say(ctx, line{
		speaker:     witness,
		role:        court.RoleWitness,
		instruction: "Answer the question you were just asked, in character.",
		cap:         &cp,
	})
	if err != nil {
		return err
	}
	return r.interject(ctx, ex, witness, q, a)
}

func (r *run) interject(ctx context.Context, ex examiner, witness string, q, a *court.Turn) error {
	d := r.o.decider.Decide(q.Dialogue, a.Dialogue)
	if d.Kind == policy.InterjectNone {
		return nil
	}
	interjections.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(d.Kind))))

	switch d.Kind {
	case policy.InterjectRandomEvent:
		speaker, role := r.eventSpeaker(d.Event, ex, witness)
		if _, err := r.say(ctx, line{speaker: speaker, role: role, instruction: d.Event.Instruction}); err != nil {
			return err
		}
		r.emit(court.RandomEventPayload{SessionID: r.id, Kind: d.Event.Kind, Speaker: speaker})

	case policy.InterjectJudgeInterrupt:
		if _, err := r.say(ctx, line{
			speaker:     r.roles.Judge,
			role:        court.RoleJudge,
			instruction: fmt.Sprintf("Interrupt briefly: ask %s to clarify their last answer.", witness),
		}); err != nil {
			return err
		}
		r.emit(court.JudgeInterruptPayload{SessionID: r.id, Witness: witness})

	case policy.InterjectObjection:
		cue := q
		if !policy.HasObjectionCue(q.Dialogue) {
			cue = a
		}
		ruling, err := r.say(ctx, line{
			speaker:     r.roles.Judge,
			role:        court.RoleJudge,
			instruction: fmt.Sprintf("%s objected: %q. Rule on it in one sentence: sustained or overruled, and why.", cue.Speaker, cue.Dialogue),
		})
		if err != nil {
			return err
		}
		r.emit(court.ObjectionRulingPayload{SessionID: r.id, RaisedBy: cue.Speaker, TurnID: ruling.ID})
	}
	return nil
}

// eventSpeaker maps a catalogue role to a participant. Counsel events go to
// the side that is not examining.
func (r *run) eventSpeaker(ev policy.RandomEvent, ex examiner, witness string) (string, court.Role) {
	switch ev.Role {
	case court.RoleBailiff:
		return r.roles.Bailiff, court.RoleBailiff
	case court.RoleJudge:
		return r.roles.Judge, court.RoleJudge
	case court.RoleProsecutor, court.RoleDefense:
		return ex.opponent, ex.oppRole
	default:
		return witness, court.RoleWitness
	}
}

// recap has the judge summarize the proceeding and marks the turn as
// continuity context.
func (r *run) recap(ctx context.Context, covered int) error {
	t, err := r.say(ctx, line{
		speaker:     r.roles.Judge,
		role:        court.RoleJudge,
		instruction: fmt.Sprintf("Summarize for the record what the %d witness(es) heard so far have established. Two sentences.", covered),
		prefix:      "Recap:",
		quiet:       true,
	})
	if err != nil {
		return err
	}
	if err := r.o.store.RecordRecap(ctx, r.id, t.ID); err != nil {
		return fmt.Errorf("record recap: %w", err)
	}
	r.hooks.Narrate(ctx, r.id, "speak_recap", func(ctx context.Context, n hooks.Narrator) error {
		return n.SpeakRecap(ctx, r.id, t.Dialogue)
	})
	return nil
}
