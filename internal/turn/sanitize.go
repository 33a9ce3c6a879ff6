package turn

import (
	"strings"

	"github.com/zulandar/gavel/internal/court"
)

var markdownReplacer = strings.NewReplacer("**", "", "__", "", "`", "", "*", "")

var quotePairs = [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}}

// Sanitize cleans raw model output: markdown emphasis, a leading label naming
// the speaker or role, surrounding quotes and redundant whitespace are
// removed.
func Sanitize(raw, speaker string, role court.Role) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimLeft(s, "# ")
	s = markdownReplacer.Replace(s)
	s = stripSpeakerLabel(s, speaker, role)
	s = stripQuotes(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

func stripSpeakerLabel(s, speaker string, role court.Role) string {
	label, rest, ok := strings.Cut(s, ":")
	if !ok || len(label) > 40 {
		return s
	}
	norm := normalizeLabel(label)
	if norm == "" {
		return s
	}
	sp := normalizeLabel(speaker)
	r := string(role)
	if norm == sp || norm == r || norm == "the "+r || strings.HasPrefix(norm, r+" ") {
		return strings.TrimSpace(rest)
	}
	return s
}

func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

func stripQuotes(s string) string {
	for _, q := range quotePairs {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			inner := s[len(q[0]) : len(s)-len(q[1])]
			// Leave lines that merely quote someone mid-sentence alone.
			if !strings.Contains(inner, q[0]) {
				return strings.TrimSpace(inner)
			}
		}
	}
	return s
}
