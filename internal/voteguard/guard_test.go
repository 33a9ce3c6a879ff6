package voteguard

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/gavel/internal/court"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGuard(cooldown time.Duration) (*Guard, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	g := New(cooldown)
	g.now = clock.now
	return g, clock
}

func rejection(t *testing.T, err error) *Rejection {
	t.Helper()
	var r *Rejection
	if !errors.As(err, &r) {
		t.Fatalf("err = %v, want *Rejection", err)
	}
	return r
}

func TestReserve_AlreadyVoted(t *testing.T) {
	g, clock := newTestGuard(time.Second)
	k := Key{SessionID: "s1", ClientID: "c1", VoteType: court.VoteVerdict}

	if _, err := g.Reserve(k); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}
	clock.advance(time.Hour)
	r := rejection(t, func() error { _, err := g.Reserve(k); return err }())
	if r.Reason != ReasonAlreadyVoted {
		t.Errorf("Reason = %q, want %q", r.Reason, ReasonAlreadyVoted)
	}
	if r.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want 0", r.RetryAfter)
	}
}

func TestReserve_KeysAreIndependent(t *testing.T) {
	g, _ := newTestGuard(time.Second)
	keys := []Key{
		{SessionID: "s1", ClientID: "c1", VoteType: court.VoteVerdict},
		{SessionID: "s1", ClientID: "c1", VoteType: court.VoteSentence},
		{SessionID: "s1", ClientID: "c2", VoteType: court.VoteVerdict},
		{SessionID: "s2", ClientID: "c1", VoteType: court.VoteVerdict},
	}
	for _, k := range keys {
		if _, err := g.Reserve(k); err != nil {
			t.Errorf("Reserve(%+v): %v", k, err)
		}
	}
	if g.Len() != len(keys) {
		t.Errorf("Len = %d, want %d", g.Len(), len(keys))
	}
}

func TestReserve_ReleaseThenCooldown(t *testing.T) {
	g, clock := newTestGuard(2 * time.Second)
	k := Key{SessionID: "s1", ClientID: "c1", VoteType: court.VoteVerdict}

	release, err := g.Reserve(k)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	release()
	release()

	clock.advance(500 * time.Millisecond)
	r := rejection(t, func() error { _, err := g.Reserve(k); return err }())
	if r.Reason != ReasonRateLimited {
		t.Errorf("Reason = %q, want %q", r.Reason, ReasonRateLimited)
	}
	if r.RetryAfter != 1500*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 1.5s", r.RetryAfter)
	}

	clock.advance(1500 * time.Millisecond)
	if _, err := g.Reserve(k); err != nil {
		t.Errorf("Reserve after cooldown: %v", err)
	}
}

func TestReserve_Concurrent(t *testing.T) {
	g := New(time.Minute)
	k := Key{SessionID: "s1", ClientID: "c1", VoteType: court.VoteVerdict}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Reserve(k); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Errorf("accepted = %d, want 1", accepted)
	}
}

func TestForgetSession(t *testing.T) {
	g, _ := newTestGuard(time.Second)
	a := Key{SessionID: "s1", ClientID: "c1", VoteType: court.VoteVerdict}
	b := Key{SessionID: "s2", ClientID: "c1", VoteType: court.VoteVerdict}
	g.Reserve(a)
	g.Reserve(b)

	g.ForgetSession("s1")
	if g.Len() != 1 {
		t.Errorf("Len = %d, want 1", g.Len())
	}
	if _, err := g.Reserve(a); err != nil {
		t.Errorf("Reserve after forget: %v", err)
	}
}

func TestNew_DefaultCooldown(t *testing.T) {
	if g := New(0); g.cooldown != DefaultCooldown {
		t.Errorf("cooldown = %v, want %v", g.cooldown, DefaultCooldown)
	}
}

func TestRejection_Error(t *testing.T) {
	r := &Rejection{Reason: ReasonRateLimited, RetryAfter: time.Second}
	if got := r.Error(); got != "vote rejected: rate_limited (retry after 1s)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestForget(t *testing.T) {
	g, _ := newTestGuard(time.Minute)
	k := Key{SessionID: "ghost", ClientID: "c1", VoteType: court.VoteVerdict}
	if _, err := g.Reserve(k); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	g.Forget(k)
	if g.Len() != 0 {
		t.Errorf("Len = %d, want 0", g.Len())
	}
	if _, err := g.Reserve(k); err != nil {
		t.Errorf("Reserve after Forget: %v", err)
	}
}

func TestReserve_PrunesReleasedEntries(t *testing.T) {
	g, clock := newTestGuard(time.Second)
	voter := Key{SessionID: "s1", ClientID: "kept", VoteType: court.VoteVerdict}
	if _, err := g.Reserve(voter); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	for i := range minPrune - 1 {
		release, err := g.Reserve(Key{SessionID: "s1", ClientID: fmt.Sprintf("c%d", i), VoteType: court.VoteVerdict})
		if err != nil {
			t.Fatalf("Reserve %d: %v", i, err)
		}
		release()
	}
	if g.Len() != minPrune {
		t.Fatalf("Len = %d, want %d", g.Len(), minPrune)
	}

	clock.advance(time.Second)
	if _, err := g.Reserve(Key{SessionID: "s1", ClientID: "late", VoteType: court.VoteVerdict}); err != nil {
		t.Fatalf("Reserve late: %v", err)
	}
	if g.Len() != 2 {
		t.Errorf("Len after prune = %d, want 2 (accepted voter and new key)", g.Len())
	}
	if _, err := g.Reserve(voter); rejection(t, err).Reason != ReasonAlreadyVoted {
		t.Errorf("accepted vote was pruned")
	}
}
