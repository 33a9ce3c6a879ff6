// Package store is the system of record for courtroom sessions. It enforces
// phase-transition and vote legality and publishes a domain event for every
// mutation. Two interchangeable backends exist: MemoryStore and GormStore.
package store

import (
	"context"

	"github.com/zulandar/gavel/internal/court"
)

// Store is implemented by every session backend. All mutations are atomic
// with respect to concurrent callers on the same session.
type Store interface {
	CreateSession(ctx context.Context, in CreateInput) (*court.Session, error)
	GetSession(ctx context.Context, id string) (*court.Session, error)
	ListSessions(ctx context.Context, filter ListFilter) ([]court.Session, error)

	StartSession(ctx context.Context, id string) (*court.Session, error)
	SetPhase(ctx context.Context, id string, phase court.Phase, durationMs *int64) (*court.Session, error)
	AddTurn(ctx context.Context, in TurnInput) (*court.Turn, error)
	CastVote(ctx context.Context, id string, voteType court.VoteType, choice string) (*court.Session, error)
	RecordRecap(ctx context.Context, id, turnID string) error
	IncrementObjectionCount(ctx context.Context, id string) (int, error)

	RecordFinalRuling(ctx context.Context, id string, ruling court.FinalRuling) (*court.Session, error)
	CompleteSession(ctx context.Context, id string) (*court.Session, error)
	FailSession(ctx context.Context, id, reason string) (*court.Session, error)

	// RecoverInterruptedSessions runs once at process start. Sessions left
	// running are failed; the ids of sessions still pending are returned so
	// the caller can start them.
	RecoverInterruptedSessions(ctx context.Context) ([]string, error)

	// Subscribe registers h for events of one session. Handlers run
	// synchronously on the publishing goroutine and must not call back into
	// the store.
	Subscribe(id string, h Handler) Unsubscribe
	// Emit publishes an event that is not tied to a store mutation.
	Emit(id string, p court.Payload) error
}

// CreateInput holds parameters for creating a session.
type CreateInput struct {
	Topic           string
	CaseType        court.CaseType
	Participants    []string // defaults to court.DefaultParticipants
	SentenceOptions []string // defaults to court.DefaultSentenceOptions
	VoteWindows     court.VoteWindows
	CaseFile        *court.CaseFile
}

// TurnInput holds parameters for appending a turn.
type TurnInput struct {
	SessionID  string
	Speaker    string
	Role       court.Role
	Dialogue   string
	Moderation *court.ModerationOutcome
}

// ListFilter holds optional filters for listing sessions.
type ListFilter struct {
	Status court.Status
	Limit  int
}
