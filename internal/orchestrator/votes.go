package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/hooks"
)

// pollWindow is the vote window for t, from the session when it sets one.
func (r *run) pollWindow(t court.VoteType) time.Duration {
	if t == court.VoteSentence {
		if ms := r.meta.VoteWindows.SentenceMs; ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
		return r.o.cfg.SentenceWindow
	}
	if ms := r.meta.VoteWindows.VerdictMs; ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return r.o.cfg.VerdictWindow
}

// poll announces a vote and waits out its window. Votes themselves go
// straight to the store.
func (r *run) poll(ctx context.Context, t court.VoteType) error {
	window := r.pollWindow(t)
	r.scene(ctx, "audience_poll")

	choices := r.meta.LegalChoices(t)
	if _, err := r.say(ctx, line{
		speaker:     r.roles.Bailiff,
		role:        court.RoleBailiff,
		instruction: fmt.Sprintf("Announce that the %s poll is open for %d seconds. The choices are: %s.", t, int(window.Seconds()), strings.Join(choices, ", ")),
	}); err != nil {
		return err
	}

	r.o.sleep(ctx, window)
	if err := ctx.Err(); err != nil {
		return err
	}

	s, err := r.o.store.GetSession(ctx, r.id)
	if err != nil {
		return fmt.Errorf("read tallies: %w", err)
	}
	tally := s.Metadata.Tally(t)
	leader := court.Winner(s.Metadata.LegalChoices(t), tally)
	r.emit(court.VoteClosedPayload{SessionID: r.id, VoteType: t, Tally: tally, Leader: leader})
	log.Printf("orchestrator: session %s %s poll closed, leader %s", r.id, t, leader)
	return nil
}

func (r *run) finalRuling(ctx context.Context) error {
	s, err := r.o.store.GetSession(ctx, r.id)
	if err != nil {
		return fmt.Errorf("read votes: %w", err)
	}
	m := s.Metadata
	ruling := court.FinalRuling{
		Verdict:  court.Winner(m.LegalChoices(court.VoteVerdict), m.Tally(court.VoteVerdict)),
		Sentence: court.Winner(m.LegalChoices(court.VoteSentence), m.Tally(court.VoteSentence)),
	}
	s, err = r.o.store.RecordFinalRuling(ctx, r.id, ruling)
	if err != nil {
		return fmt.Errorf("record ruling: %w", err)
	}
	ruling = *s.Metadata.FinalRuling

	r.scene(ctx, "judge_bench")
	r.hooks.Narrate(ctx, r.id, "speak_verdict", func(ctx context.Context, n hooks.Narrator) error {
		return n.SpeakVerdict(ctx, r.id, ruling)
	})

	if _, err := r.say(ctx, line{
		speaker:     r.roles.Judge,
		role:        court.RoleJudge,
		instruction: fmt.Sprintf("Deliver the final ruling. The court finds %s and imposes %s. Close the proceedings.", humanize(ruling.Verdict), humanize(ruling.Sentence)),
		prefix:      fmt.Sprintf("Verdict: %s. Sentence: %s.", ruling.Verdict, ruling.Sentence),
		quiet:       true,
	}); err != nil {
		return err
	}

	if _, err := r.o.store.CompleteSession(ctx, r.id); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	return nil
}

func humanize(choice string) string {
	return strings.ReplaceAll(choice, "_", " ")
}
