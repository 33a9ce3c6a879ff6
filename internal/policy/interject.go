package policy

import (
	"math/rand/v2"
	"regexp"

	"github.com/zulandar/gavel/internal/court"
)

// Interjection is the closed set of things that may follow an answer.
type Interjection string

const (
	InterjectNone           Interjection = "none"
	InterjectRandomEvent    Interjection = "random_event"
	InterjectJudgeInterrupt Interjection = "judge_interrupt"
	InterjectObjection      Interjection = "objection"
)

// RandomEvent is one entry of the in-scene event catalogue. Role names who
// reacts; for counsel the examiner's opponent is used.
type RandomEvent struct {
	Kind        string
	Role        court.Role
	Instruction string
}

// RandomEvents is the catalogue random events are drawn from.
var RandomEvents = []RandomEvent{
	{
		Kind:        "gallery_outburst",
		Role:        court.RoleBailiff,
		Instruction: "Someone in the gallery just shouted at the witness. Restore order in one short sentence.",
	},
	{
		Kind:        "surprise_exhibit",
		Role:        court.RoleProsecutor,
		Instruction: "You just received a surprise exhibit. Introduce it to the court in one or two sentences.",
	},
	{
		Kind:        "witness_composure",
		Role:        court.RoleWitness,
		Instruction: "You lose your composure for a moment. React in one sentence, then collect yourself.",
	},
}

var objectionCue = regexp.MustCompile(`(?i)\bobjection\s*[:!]`)

// HasObjectionCue reports whether a line contains an "OBJECTION:" style cue.
func HasObjectionCue(line string) bool {
	return objectionCue.MatchString(line)
}

// Decision is the outcome of one Decide call.
type Decision struct {
	Kind  Interjection
	Event RandomEvent // set for InterjectRandomEvent
}

// Decider picks at most one interjection after an answer. Random events take
// priority, then judge interruptions, then objection cues found in the
// exchange.
type Decider struct {
	RandomEventProb    float64
	JudgeInterruptProb float64
	// Roll returns a value in [0, 1). Defaults to math/rand.
	Roll func() float64
}

// Decide evaluates the exchange lines (question and answer).
func (d Decider) Decide(lines ...string) Decision {
	roll := d.Roll
	if roll == nil {
		roll = rand.Float64
	}
	if d.RandomEventProb > 0 && roll() < d.RandomEventProb && len(RandomEvents) > 0 {
		i := int(roll() * float64(len(RandomEvents)))
		i = min(max(i, 0), len(RandomEvents)-1)
		return Decision{Kind: InterjectRandomEvent, Event: RandomEvents[i]}
	}
	if d.JudgeInterruptProb > 0 && roll() < d.JudgeInterruptProb {
		return Decision{Kind: InterjectJudgeInterrupt}
	}
	for _, l := range lines {
		if HasObjectionCue(l) {
			return Decision{Kind: InterjectObjection}
		}
	}
	return Decision{Kind: InterjectNone}
}
