package policy

import (
	"math"
	"strings"
)

// TruncationMarker is appended to testimony cut by a CapPolicy.
const TruncationMarker = "... [testimony cut short by the court]"

// Cap reasons.
const (
	CapReasonTokens  = "tokens"
	CapReasonSeconds = "seconds"
)

// CapPolicy limits witness answers. A token ceiling and a spoken-time
// ceiling (MaxSeconds × TokensPerSecond) both apply; the smaller one wins.
// Non-positive values mean unlimited.
type CapPolicy struct {
	MaxTokens       int
	MaxSeconds      float64
	TokensPerSecond float64
}

// CapResult is the outcome of applying a CapPolicy.
type CapResult struct {
	Text          string
	Truncated     bool
	Limit         int
	Reason        string
	OriginalWords int
}

// Limit returns the effective word limit and the term that set it. ok is
// false when both terms are unlimited. A positive ceiling below one word
// (for example 0.2s at 3 tokens/s) is raised to one word, and ceilings past
// the int range are clamped to math.MaxInt.
func (p CapPolicy) Limit() (limit int, reason string, ok bool) {
	tokens := math.Inf(1)
	if p.MaxTokens > 0 {
		tokens = float64(p.MaxTokens)
	}
	seconds := math.Inf(1)
	if p.MaxSeconds > 0 && p.TokensPerSecond > 0 {
		seconds = math.Floor(p.MaxSeconds * p.TokensPerSecond)
	}

	eff, reason := tokens, CapReasonTokens
	if seconds < tokens {
		eff, reason = seconds, CapReasonSeconds
	}
	if math.IsInf(eff, 0) || math.IsNaN(eff) {
		return 0, "", false
	}
	if eff >= float64(math.MaxInt) {
		return math.MaxInt, reason, true
	}
	// Always leave the witness at least one word.
	return max(int(eff), 1), reason, true
}

// Apply truncates text to the effective limit, keeping the first words and
// appending TruncationMarker.
func (p CapPolicy) Apply(text string) CapResult {
	words := strings.Fields(text)
	res := CapResult{Text: text, OriginalWords: len(words)}
	limit, reason, ok := p.Limit()
	if !ok {
		return res
	}
	res.Limit, res.Reason = limit, reason
	if len(words) <= limit {
		return res
	}
	res.Text = strings.Join(words[:limit], " ") + " " + TruncationMarker
	res.Truncated = true
	return res
}
