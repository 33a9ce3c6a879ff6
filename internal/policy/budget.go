// Package policy holds the pure, deterministic rules applied to every
// generated utterance: how long it may be, where witness testimony is cut,
// what gets redacted, and which interjection follows an exchange.
package policy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zulandar/gavel/internal/court"
)

// Budget sources.
const (
	SourceRequested     = "requested"
	SourceRoleCap       = "env_role_cap"
	SourcePhaseOverride = "phase_override"
)

// DefaultRoleTokens is the generation length used when a caller does not ask
// for a specific one.
var DefaultRoleTokens = map[court.Role]int{
	court.RoleJudge:      120,
	court.RoleProsecutor: 180,
	court.RoleDefense:    180,
	court.RoleWitness:    150,
	court.RoleBailiff:    60,
}

// BudgetConfig holds the token ceilings for generated turns.
type BudgetConfig struct {
	// RoleDefaults is the length asked for when no override is given.
	RoleDefaults map[court.Role]int
	// RoleMax are hard caps, usually from the environment. Zero or absent
	// means uncapped.
	RoleMax map[court.Role]int
	// PhaseMax narrows the budget of every role during a phase. It never
	// widens it.
	PhaseMax map[court.Phase]int
}

// Budget is the resolved length ceiling for one generation call. Both the
// requested and applied values are kept for auditing.
type Budget struct {
	Requested int
	Applied   int
	RoleMax   int
	Source    string
}

// Resolve computes the effective budget: the requested length (or the role
// default), narrowed by any phase override, then clamped to the role cap.
func (c BudgetConfig) Resolve(role court.Role, phase court.Phase, requested *int) Budget {
	want := c.roleDefault(role)
	if requested != nil && *requested > 0 {
		want = *requested
	}
	b := Budget{Requested: want, Applied: want, Source: SourceRequested}

	if limit, ok := c.PhaseMax[phase]; ok && limit > 0 && limit < b.Applied {
		b.Applied = limit
		b.Source = SourcePhaseOverride
	}
	if limit := c.RoleMax[role]; limit > 0 {
		b.RoleMax = limit
		if limit < b.Applied {
			b.Applied = limit
			b.Source = SourceRoleCap
		}
	}
	return b
}

func (c BudgetConfig) roleDefault(role court.Role) int {
	if n, ok := c.RoleDefaults[role]; ok && n > 0 {
		return n
	}
	if n, ok := DefaultRoleTokens[role]; ok {
		return n
	}
	return DefaultRoleTokens[court.RoleWitness]
}

// ParseRoleTokens parses "judge:18,witness:120" into a role → tokens map.
// An empty string yields an empty map.
func ParseRoleTokens(s string) (map[court.Role]int, error) {
	out := make(map[court.Role]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("policy: role tokens %q: expected role:tokens", part)
		}
		role, err := court.ParseRole(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("policy: role tokens %q: %w", part, err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("policy: role tokens %q: invalid token count", part)
		}
		out[role] = n
	}
	return out, nil
}
