package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/epicsales/coach/internal/domain"
)

// SessionStore keeps session records in a mutex-guarded map. Commits go
// through the same validation as the postgres store, so the invariants
// hold in both.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[uuid.UUID]*domain.Session)}
}

func (s *SessionStore) Create(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("memory.SessionStore.Create: %w", domain.ErrVersionConflict)
	}

	now := time.Now()
	sess.Version = 1
	sess.CreatedAt = now
	sess.UpdatedAt = now
	s.sessions[sess.ID] = clone(sess)

	return nil
}

func (s *SessionStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("memory.SessionStore.GetByID: %w", domain.ErrNotFound)
	}

	return clone(sess), nil
}

func (s *SessionStore) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, clone(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}

	return out, nil
}

func (s *SessionStore) CommitTurn(_ context.Context, c *domain.TurnCommit) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[c.SessionID]
	if !ok {
		return nil, fmt.Errorf("memory.SessionStore.CommitTurn: %w", domain.ErrNotFound)
	}
	if err := domain.ValidateTurnCommit(sess, c); err != nil {
		return nil, fmt.Errorf("memory.SessionStore.CommitTurn: %w", err)
	}

	domain.ApplyTurnCommit(sess, c, time.Now())

	return clone(sess), nil
}

func (s *SessionStore) CommitOverride(_ context.Context, c *domain.OverrideCommit) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[c.SessionID]
	if !ok {
		return nil, fmt.Errorf("memory.SessionStore.CommitOverride: %w", domain.ErrNotFound)
	}
	if c.ExpectedVersion != sess.Version {
		return nil, fmt.Errorf("memory.SessionStore.CommitOverride: %w", domain.ErrVersionConflict)
	}

	now := time.Now()
	if c.Phase != nil {
		sess.Phase = *c.Phase
	}
	if c.EpicPhase != nil {
		sess.EpicPhase = *c.EpicPhase
	}
	if c.Milestones != nil {
		sess.Milestones = *c.Milestones
	}
	sess.Events = append(sess.Events, domain.ScoreEvent{
		TurnNumber: sess.TurnNumber,
		Type:       domain.EventOverride,
		Delta:      0,
		Reason:     c.Reason,
		Actor:      c.Actor,
		CreatedAt:  now,
	})
	sess.Version++
	sess.UpdatedAt = now

	return clone(sess), nil
}

func (s *SessionStore) CommitCorrection(_ context.Context, c *domain.CorrectionCommit) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[c.SessionID]
	if !ok {
		return nil, fmt.Errorf("memory.SessionStore.CommitCorrection: %w", domain.ErrNotFound)
	}
	if c.ExpectedVersion != sess.Version {
		return nil, fmt.Errorf("memory.SessionStore.CommitCorrection: %w", domain.ErrVersionConflict)
	}

	now := time.Now()
	sess.Events = append(sess.Events, domain.ScoreEvent{
		TurnNumber:  sess.TurnNumber,
		Type:        domain.EventCorrection,
		TechniqueID: c.TechniqueID,
		Delta:       c.Delta,
		Reason:      c.Reason,
		Actor:       c.Actor,
		CreatedAt:   now,
	})
	sess.TotalScore += c.Delta
	sess.Version++
	sess.UpdatedAt = now

	return clone(sess), nil
}

func (s *SessionStore) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("memory.SessionStore.SetActive: %w", domain.ErrNotFound)
	}

	sess.IsActive = active
	sess.Version++
	sess.UpdatedAt = time.Now()

	return nil
}

func (s *SessionStore) ListIdleActive(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []uuid.UUID
	for _, sess := range s.sessions {
		if sess.IsActive && sess.UpdatedAt.Before(cutoff) {
			out = append(out, sess.ID)
		}
	}

	return out, nil
}

// clone deep-copies a session so callers never alias store-owned state.
func clone(s *domain.Session) *domain.Session {
	out := *s
	out.History = append([]domain.Turn(nil), s.History...)
	out.Events = append([]domain.ScoreEvent(nil), s.Events...)
	out.Dialogue = s.Dialogue.Clone()
	if s.Context != nil {
		out.Context = make(map[string]any, len(s.Context))
		for k, v := range s.Context {
			out.Context[k] = v
		}
	}
	return &out
}
