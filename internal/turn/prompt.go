package turn

import (
	"fmt"
	"strings"

	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/llm"
)

// DefaultHistoryTurns is how many recent turns go into a prompt.
const DefaultHistoryTurns = 8

// PromptInput holds everything needed to render a generation prompt.
type PromptInput struct {
	Session      *court.Session
	Speaker      string
	Role         court.Role
	Instruction  string
	HistoryTurns int
}

// BuildPrompt renders the system and user messages for one utterance.
func BuildPrompt(in PromptInput) ([]llm.Message, error) {
	if in.Session == nil {
		return nil, fmt.Errorf("turn: session is required")
	}
	if in.Speaker == "" {
		return nil, fmt.Errorf("turn: speaker is required")
	}

	var sys strings.Builder
	writeHeader(&sys, in)
	writeCaseFile(&sys, in.Session.Metadata.CaseFile)
	writeRecap(&sys, in.Session)
	writeRules(&sys, in)

	var user strings.Builder
	n := in.HistoryTurns
	if n <= 0 {
		n = DefaultHistoryTurns
	}
	writeTranscript(&user, in.Session.RecentTurns(n))
	user.WriteString("## Your Cue\n")
	user.WriteString(in.Instruction)
	user.WriteString("\n")

	return []llm.Message{
		{Role: llm.RoleSystem, Content: sys.String()},
		{Role: llm.RoleUser, Content: user.String()},
	}, nil
}

func writeHeader(w *strings.Builder, in PromptInput) {
	s := in.Session
	fmt.Fprintf(w, "# You are %s in a courtroom proceeding.\n", in.Speaker)
	fmt.Fprintf(w, "Role: %s\n", in.Role)
	fmt.Fprintf(w, "Case: %s\n", s.Topic)
	fmt.Fprintf(w, "Case type: %s\n", s.Metadata.CaseType)
	fmt.Fprintf(w, "Phase: %s\n", s.Phase)
	ra := s.Metadata.Roles
	fmt.Fprintf(w, "Judge: %s | Prosecutor: %s | Defense: %s | Bailiff: %s\n", ra.Judge, ra.Prosecutor, ra.Defense, ra.Bailiff)
	if len(ra.Witnesses) > 0 {
		fmt.Fprintf(w, "Witnesses: %s\n", strings.Join(ra.Witnesses, ", "))
	}
	w.WriteString("\n")
}

func writeCaseFile(w *strings.Builder, cf *court.CaseFile) {
	if cf == nil {
		return
	}
	w.WriteString("## Case File\n")
	if cf.Charge != "" {
		fmt.Fprintf(w, "Charge: %s\n", cf.Charge)
	}
	if cf.Summary != "" {
		w.WriteString(cf.Summary)
		w.WriteString("\n")
	}
	for _, e := range cf.Evidence {
		fmt.Fprintf(w, "- %s\n", e)
	}
	w.WriteString("\n")
}

func writeRecap(w *strings.Builder, s *court.Session) {
	recap, ok := s.LatestRecap()
	if !ok {
		return
	}
	w.WriteString("## Court Recap So Far\n")
	w.WriteString(recap.Dialogue)
	w.WriteString("\n\n")
}

func writeRules(w *strings.Builder, in PromptInput) {
	w.WriteString("## Rules\n")
	fmt.Fprintf(w, "- Speak only as %s. Do not write lines for anyone else.\n", in.Speaker)
	w.WriteString("- One to three sentences. No stage directions, no speaker labels, no markdown.\n")
	w.WriteString("- Keep it courtroom appropriate: no profanity, threats or personal data.\n")
	if in.Role == court.RoleProsecutor || in.Role == court.RoleDefense {
		w.WriteString("- To object, start your line with \"OBJECTION:\" followed by the grounds.\n")
	}
}

func writeTranscript(w *strings.Builder, turns []court.Turn) {
	if len(turns) == 0 {
		return
	}
	w.WriteString("## Recent Transcript\n")
	for _, t := range turns {
		fmt.Fprintf(w, "[%s (%s)] %s\n", t.Speaker, t.Role, t.Dialogue)
	}
	w.WriteString("\n")
}
