// Package voteguard rejects duplicate and rapid-fire audience votes before
// they reach the store. It is purely local and keeps nothing across restarts.
package voteguard

import (
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/gavel/internal/court"
)

// Rejection reason codes.
const (
	ReasonAlreadyVoted = "already_voted"
	ReasonRateLimited  = "rate_limited"
)

// DefaultCooldown is the minimum gap between two attempts from the same key.
const DefaultCooldown = 2 * time.Second

// Key identifies one voter on one poll.
type Key struct {
	SessionID string
	ClientID  string
	VoteType  court.VoteType
}

// Rejection is returned when a vote attempt violates the guard's policy.
// A duplicate vote carries no RetryAfter: no later attempt on the same poll
// can succeed.
type Rejection struct {
	Reason     string
	RetryAfter time.Duration // zero when retrying cannot help
}

func (r *Rejection) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("vote rejected: %s (retry after %s)", r.Reason, r.RetryAfter)
	}
	return "vote rejected: " + r.Reason
}

type entry struct {
	last  time.Time
	voted bool
}

// minPrune is the entry count below which released entries are not swept.
const minPrune = 64

// Guard tracks vote attempts per (session, client, vote type).
type Guard struct {
	mu       sync.Mutex
	cooldown time.Duration
	now      func() time.Time
	entries  map[Key]*entry
	pruneAt  int
}

// New creates a guard. A non-positive cooldown uses DefaultCooldown.
func New(cooldown time.Duration) *Guard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Guard{
		cooldown: cooldown,
		now:      time.Now,
		entries:  make(map[Key]*entry),
		pruneAt:  minPrune,
	}
}

// Reserve admits one vote attempt for k. On success the key counts as having
// voted; call release if the store then rejects the vote so the client may
// try again once the cooldown has passed.
func (g *Guard) Reserve(k Key) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if len(g.entries) >= g.pruneAt {
		g.pruneLocked(now)
	}
	e, ok := g.entries[k]
	if ok {
		if e.voted {
			return nil, &Rejection{Reason: ReasonAlreadyVoted}
		}
		if elapsed := now.Sub(e.last); elapsed < g.cooldown {
			return nil, &Rejection{Reason: ReasonRateLimited, RetryAfter: g.cooldown - elapsed}
		}
	} else {
		e = &entry{}
		g.entries[k] = e
	}
	e.last = now
	e.voted = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			e.voted = false
			g.mu.Unlock()
		})
	}, nil
}

// pruneLocked drops released entries whose cooldown has passed; they hold
// no state a new entry would not.
func (g *Guard) pruneLocked(now time.Time) {
	for k, e := range g.entries {
		if !e.voted && now.Sub(e.last) >= g.cooldown {
			delete(g.entries, k)
		}
	}
	g.pruneAt = max(2*len(g.entries), minPrune)
}

// Forget drops the entry of k. Use it instead of release when the vote
// failed because the session does not exist.
func (g *Guard) Forget(k Key) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, k)
}

// ForgetSession drops every entry of a finished session.
func (g *Guard) ForgetSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k := range g.entries {
		if k.SessionID == sessionID {
			delete(g.entries, k)
		}
	}
}

// Len returns the number of tracked keys.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
