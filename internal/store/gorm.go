package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/gavel/internal/court"
	"github.com/zulandar/gavel/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists sessions in a relational database: one row per session
// with a JSON metadata document, one append-only row per turn. Every
// read-modify-write runs in a transaction holding a row lock on the session
// row. A process-local per-session mutex additionally keeps event delivery in
// commit order.
type GormStore struct {
	db    *gorm.DB
	bus   *Bus
	now   func() time.Time
	locks sync.Map // session id -> *sync.Mutex
}

// NewGormStore wraps an already migrated database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:  db,
		bus: NewBus(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (g *GormStore) lock(id string) func() {
	v, _ := g.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

type mutation func(tx *gorm.DB, s *court.Session) ([]court.Payload, error)

// mutate loads the session row FOR UPDATE, applies fn, saves the row and
// publishes fn's payloads after commit. Callers that return the session
// must pass withTurns so TurnCount matches len(Turns).
func (g *GormStore) mutate(ctx context.Context, op, id string, withTurns bool, fn mutation) (*court.Session, error) {
	unlock := g.lock(id)
	defer unlock()

	var (
		out      *court.Session
		payloads []court.Payload
	)
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.SessionRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return court.NotFoundf("session %s", id)
			}
			return fmt.Errorf("load session %s: %w", id, err)
		}
		s, err := fromRecord(row, nil)
		if err != nil {
			return err
		}
		p, err := fn(tx, s)
		if err != nil {
			return err
		}
		if err := saveSession(tx, s); err != nil {
			return err
		}
		if withTurns {
			turns, err := loadTurns(tx, id)
			if err != nil {
				return err
			}
			s.Turns = turns
		}
		out, payloads = s, p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", op, err)
	}
	g.bus.PublishAll(id, payloads)
	return out, nil
}

func (g *GormStore) CreateSession(ctx context.Context, in CreateInput) (*court.Session, error) {
	s, payloads, err := newSession(in, g.now())
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	row, err := toRecord(s)
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	unlock := g.lock(s.ID)
	defer unlock()
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	g.bus.PublishAll(s.ID, payloads)
	return s, nil
}

func (g *GormStore) GetSession(ctx context.Context, id string) (*court.Session, error) {
	var row models.SessionRecord
	db := g.db.WithContext(ctx)
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, court.NotFoundf("session %s", id)
		}
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	turns, err := loadTurns(db, id)
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	s, err := fromRecord(row, turns)
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return s, nil
}

func (g *GormStore) ListSessions(ctx context.Context, filter ListFilter) ([]court.Session, error) {
	q := g.db.WithContext(ctx).Model(&models.SessionRecord{})
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []models.SessionRecord
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	out := make([]court.Session, 0, len(rows))
	for _, row := range rows {
		s, err := fromRecord(row, nil)
		if err != nil {
			return nil, fmt.Errorf("store: list sessions: %w", err)
		}
		s.Turns = nil
		out = append(out, *s)
	}
	return out, nil
}

func (g *GormStore) StartSession(ctx context.Context, id string) (*court.Session, error) {
	return g.mutate(ctx, "start session", id, true, func(_ *gorm.DB, s *court.Session) ([]court.Payload, error) {
		return applyStart(s, g.now())
	})
}

func (g *GormStore) SetPhase(ctx context.Context, id string, phase court.Phase, durationMs *int64) (*court.Session, error) {
	return g.mutate(ctx, "set phase", id, true, func(_ *gorm.DB, s *court.Session) ([]court.Payload, error) {
		return applySetPhase(s, phase, durationMs, g.now())
	})
}

func (g *GormStore) AddTurn(ctx context.Context, in TurnInput) (*court.Turn, error) {
	var turn court.Turn
	_, err := g.mutate(ctx, "add turn", in.SessionID, false, func(tx *gorm.DB, s *court.Session) ([]court.Payload, error) {
		t, payloads, err := applyTurn(s, in, g.now())
		if err != nil {
			return nil, err
		}
		row, err := toTurnRecord(t)
		if err != nil {
			return nil, err
		}
		if err := tx.Create(&row).Error; err != nil {
			return nil, fmt.Errorf("insert turn %d: %w", t.Sequence, err)
		}
		turn = t
		return payloads, nil
	})
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

func (g *GormStore) CastVote(ctx context.Context, id string, voteType court.VoteType, choice string) (*court.Session, error) {
	return g.mutate(ctx, "cast vote", id, true, func(_ *gorm.DB, s *court.Session) ([]court.Payload, error) {
		return applyVote(s, voteType, choice)
	})
}

func (g *GormStore) RecordRecap(ctx context.Context, id, turnID string) error {
	_, err := g.mutate(ctx, "record recap", id, false, func(tx *gorm.DB, s *court.Session) ([]court.Payload, error) {
		var count int64
		if err := tx.Model(&models.TurnRecord{}).Where("id = ? AND session_id = ?", turnID, id).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("check turn %s: %w", turnID, err)
		}
		return applyRecap(s, turnID, count > 0)
	})
	return err
}

func (g *GormStore) IncrementObjectionCount(ctx context.Context, id string) (int, error) {
	var n int
	_, err := g.mutate(ctx, "increment objections", id, false, func(_ *gorm.DB, s *court.Session) ([]court.Payload, error) {
		count, payloads, err := applyObjection(s)
		n = count
		return payloads, err
	})
	return n, err
}

func (g *GormStore) RecordFinalRuling(ctx context.Context, id string, ruling court.FinalRuling) (*court.Session, error) {
	return g.mutate(ctx, "record final ruling", id, true, func(_ *gorm.DB, s *court.Session) ([]court.Payload, error) {
		return applyRuling(s, ruling, g.now())
	})
}

func (g *GormStore) CompleteSession(ctx context.Context, id string) (*court.Session, error) {
	return g.mutate(ctx, "complete session", id, true, func(_ *gorm.DB, s *court.Session) ([]court.Payload, error) {
		return applyComplete(s, g.now())
	})
}

func (g *GormStore) FailSession(ctx context.Context, id, reason string) (*court.Session, error) {
	return g.mutate(ctx, "fail session", id, true, func(_ *gorm.DB, s *court.Session) ([]court.Payload, error) {
		return applyFail(s, reason, g.now())
	})
}

// RecoverInterruptedSessions fails every running session (no automatic
// resume) and returns pending session ids, oldest first.
func (g *GormStore) RecoverInterruptedSessions(ctx context.Context) ([]string, error) {
	var running []string
	if err := g.db.WithContext(ctx).Model(&models.SessionRecord{}).
		Where("status = ?", string(court.StatusRunning)).
		Pluck("id", &running).Error; err != nil {
		return nil, fmt.Errorf("store: recover: list running: %w", err)
	}
	for _, id := range running {
		_, err := g.mutate(ctx, "recover", id, false, func(_ *gorm.DB, s *court.Session) ([]court.Payload, error) {
			if s.Status != court.StatusRunning {
				return nil, nil
			}
			return applyFail(s, interruptedReason, g.now())
		})
		if err != nil {
			return nil, err
		}
	}

	pending := []string{}
	if err := g.db.WithContext(ctx).Model(&models.SessionRecord{}).
		Where("status = ?", string(court.StatusPending)).
		Order("created_at ASC").
		Pluck("id", &pending).Error; err != nil {
		return nil, fmt.Errorf("store: recover: list pending: %w", err)
	}
	return pending, nil
}

func (g *GormStore) Subscribe(id string, h Handler) Unsubscribe {
	return g.bus.Subscribe(id, h)
}

func (g *GormStore) Emit(id string, p court.Payload) error {
	evt, err := court.NewEvent(id, p)
	if err != nil {
		return err
	}
	g.bus.Publish(evt)
	return nil
}

func loadTurns(db *gorm.DB, sessionID string) ([]court.Turn, error) {
	var rows []models.TurnRecord
	if err := db.Where("session_id = ?", sessionID).Order("sequence ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load turns of %s: %w", sessionID, err)
	}
	turns := make([]court.Turn, 0, len(rows))
	for _, r := range rows {
		t, err := fromTurnRecord(r)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func saveSession(tx *gorm.DB, s *court.Session) error {
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata of %s: %w", s.ID, err)
	}
	updates := map[string]interface{}{
		"status":         string(s.Status),
		"phase":          string(s.Phase),
		"turn_count":     s.TurnCount,
		"metadata":       string(meta),
		"failure_reason": s.FailureReason,
		"started_at":     s.StartedAt,
		"completed_at":   s.CompletedAt,
	}
	if err := tx.Model(&models.SessionRecord{}).Where("id = ?", s.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

func toRecord(s *court.Session) (models.SessionRecord, error) {
	participants, err := json.Marshal(s.Participants)
	if err != nil {
		return models.SessionRecord{}, fmt.Errorf("marshal participants: %w", err)
	}
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return models.SessionRecord{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return models.SessionRecord{
		ID:            s.ID,
		Topic:         s.Topic,
		Status:        string(s.Status),
		Participants:  string(participants),
		Phase:         string(s.Phase),
		TurnCount:     s.TurnCount,
		Metadata:      string(meta),
		FailureReason: s.FailureReason,
		CreatedAt:     s.CreatedAt,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
	}, nil
}

func fromRecord(row models.SessionRecord, turns []court.Turn) (*court.Session, error) {
	s := &court.Session{
		ID:            row.ID,
		Topic:         row.Topic,
		Status:        court.Status(row.Status),
		Phase:         court.Phase(row.Phase),
		TurnCount:     row.TurnCount,
		Turns:         turns,
		FailureReason: row.FailureReason,
		CreatedAt:     row.CreatedAt.UTC(),
		StartedAt:     row.StartedAt,
		CompletedAt:   row.CompletedAt,
	}
	if s.Turns == nil {
		s.Turns = []court.Turn{}
	}
	if row.Participants != "" {
		if err := json.Unmarshal([]byte(row.Participants), &s.Participants); err != nil {
			return nil, fmt.Errorf("decode participants of %s: %w", row.ID, err)
		}
	}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", row.ID, err)
		}
	}
	return s, nil
}

func toTurnRecord(t court.Turn) (models.TurnRecord, error) {
	mod, err := json.Marshal(t.Moderation)
	if err != nil {
		return models.TurnRecord{}, fmt.Errorf("marshal moderation: %w", err)
	}
	return models.TurnRecord{
		ID:         t.ID,
		SessionID:  t.SessionID,
		Sequence:   t.Sequence,
		Speaker:    t.Speaker,
		Role:       string(t.Role),
		Phase:      string(t.Phase),
		Dialogue:   t.Dialogue,
		Moderation: string(mod),
		CreatedAt:  t.CreatedAt,
	}, nil
}

func fromTurnRecord(r models.TurnRecord) (court.Turn, error) {
	t := court.Turn{
		ID:        r.ID,
		SessionID: r.SessionID,
		Sequence:  r.Sequence,
		Speaker:   r.Speaker,
		Role:      court.Role(r.Role),
		Phase:     court.Phase(r.Phase),
		Dialogue:  r.Dialogue,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if r.Moderation != "" && r.Moderation != "null" {
		var m court.ModerationOutcome
		if err := json.Unmarshal([]byte(r.Moderation), &m); err != nil {
			return court.Turn{}, fmt.Errorf("decode moderation of turn %s: %w", r.ID, err)
		}
		t.Moderation = &m
	}
	return t, nil
}
