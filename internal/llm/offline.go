package llm

import (
	"context"
	"regexp"
	"sync"
)

var offlineLines = map[string][]string{
	"judge": {
		"Order in the court. We will proceed.",
		"The court has heard enough on that point. Move along, counsel.",
		"Noted. The witness will answer the question.",
		"To recap: the testimony so far leaves key facts in dispute.",
	},
	"prosecutor": {
		"The evidence will show the defendant had motive and opportunity.",
		"Where exactly were you on the night in question?",
		"No further questions, Your Honor.",
	},
	"defense": {
		"My client is innocent, and the evidence is thin at best.",
		"Isn't it true you never saw my client that night?",
		"The prosecution has not met its burden.",
	},
	"witness": {
		"I saw someone near the break room around noon.",
		"I can't be sure. It all happened so fast.",
		"I stand by what I said earlier.",
	},
	"bailiff": {
		"All rise. The court calls its next witness.",
		"Quiet in the gallery, please.",
	},
}

var roleLine = regexp.MustCompile(`(?m)^Role: (\w+)`)

// Offline returns canned courtroom lines, cycling per role. It needs no
// network access and is deterministic for a given call order.
type Offline struct {
	mu   sync.Mutex
	next map[string]int
}

// NewOffline creates an offline generator.
func NewOffline() *Offline {
	return &Offline{next: make(map[string]int)}
}

func (o *Offline) Generate(ctx context.Context, messages []Message, _ float64, _ int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	role := "witness"
	for _, m := range messages {
		if m.Role != RoleSystem {
			continue
		}
		if match := roleLine.FindStringSubmatch(m.Content); match != nil {
			if _, ok := offlineLines[match[1]]; ok {
				role = match[1]
			}
			break
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	lines := offlineLines[role]
	i := o.next[role]
	o.next[role] = i + 1
	return lines[i%len(lines)], nil
}
