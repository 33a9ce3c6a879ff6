package policy

import (
	"regexp"
	"slices"
	"strings"
)

// Moderation reason codes.
const (
	ReasonProfanity = "profanity"
	ReasonSlur      = "slur"
	ReasonThreat    = "threat"
	ReasonEmail     = "pii_email"
	ReasonPhone     = "pii_phone"
)

// Redaction replaces every flagged span.
const Redaction = "[redacted]"

var (
	defaultProfanity = []string{"damn", "damned", "shit", "shitty", "fuck", "fucking", "bastard", "bullshit", "crap", "asshole"}
	defaultSlurs     = []string{"retard", "retarded"}

	threatPattern = regexp.MustCompile(`(?i)\b(?:i(?:'ll| will)|we(?:'ll| will)|gonna|going to)\s+(?:kill|hurt|shoot|stab|murder|end)\s+(?:you|him|her|them)\b|\bwatch your back\b`)
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern  = regexp.MustCompile(`(?:\+?\d{1,2}[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
)

// ModerationTerms extends the built-in word lists.
type ModerationTerms struct {
	Blocked []string `yaml:"blocked_terms"`
	Slurs   []string `yaml:"slurs"`
}

// Moderation is the outcome of one Moderate call.
type Moderation struct {
	Text    string
	Flagged bool
	Reasons []string
}

type moderationRule struct {
	reason string
	re     *regexp.Regexp
}

// Moderator classifies generated text and produces a redacted variant.
// It is safe for concurrent use.
type Moderator struct {
	rules []moderationRule
}

// NewModerator builds a moderator from the built-in lists plus extra terms.
func NewModerator(terms ModerationTerms) *Moderator {
	m := &Moderator{}
	m.rules = append(m.rules,
		moderationRule{ReasonSlur, wordList(append(slices.Clone(defaultSlurs), terms.Slurs...))},
		moderationRule{ReasonProfanity, wordList(append(slices.Clone(defaultProfanity), terms.Blocked...))},
		moderationRule{ReasonThreat, threatPattern},
		moderationRule{ReasonEmail, emailPattern},
		moderationRule{ReasonPhone, phonePattern},
	)
	return m
}

// Moderate returns text with every match replaced by Redaction and the
// reasons that fired, in rule order.
func (m *Moderator) Moderate(text string) Moderation {
	out := Moderation{Text: text}
	for _, r := range m.rules {
		if r.re == nil || !r.re.MatchString(out.Text) {
			continue
		}
		out.Text = r.re.ReplaceAllString(out.Text, Redaction)
		out.Reasons = append(out.Reasons, r.reason)
	}
	out.Flagged = len(out.Reasons) > 0
	return out
}

func wordList(words []string) *regexp.Regexp {
	var quoted []string
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	if len(quoted) == 0 {
		return nil
	}
	// Longest first so "bullshit" is not split by "shit".
	slices.SortFunc(quoted, func(a, b string) int { return len(b) - len(a) })
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}
