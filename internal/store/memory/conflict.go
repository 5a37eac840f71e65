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

type ConflictStore struct {
	mu        sync.RWMutex
	conflicts map[uuid.UUID]*domain.TechniqueConfigConflict
}

func NewConflictStore() *ConflictStore {
	return &ConflictStore{conflicts: make(map[uuid.UUID]*domain.TechniqueConfigConflict)}
}

func (s *ConflictStore) Create(_ context.Context, c *domain.TechniqueConfigConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp := *c
	s.conflicts[c.ID] = &cp

	return nil
}

func (s *ConflictStore) GetByID(_ context.Context, id uuid.UUID) (*domain.TechniqueConfigConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conflicts[id]
	if !ok {
		return nil, fmt.Errorf("memory.ConflictStore.GetByID: %w", domain.ErrNotFound)
	}
	cp := *c

	return &cp, nil
}

func (s *ConflictStore) List(_ context.Context, filter domain.ConflictFilter) ([]*domain.TechniqueConfigConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TechniqueConfigConflict
	for _, c := range s.conflicts {
		if filter.Severity != "" && c.Severity != filter.Severity {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset > len(out) {
		filter.Offset = len(out)
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (s *ConflictStore) UpdateStatus(_ context.Context, id uuid.UUID, status domain.ConflictStatus, reviewedBy, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conflicts[id]
	if !ok {
		return fmt.Errorf("memory.ConflictStore.UpdateStatus: %w", domain.ErrNotFound)
	}
	if !c.Status.ValidTransition(status) {
		return fmt.Errorf("memory.ConflictStore.UpdateStatus: %w", domain.ErrInvalidTransition)
	}

	c.Status = status
	c.ReviewedBy = reviewedBy
	c.ReviewReason = reason
	c.UpdatedAt = time.Now()

	return nil
}

func (s *ConflictStore) Reset(_ context.Context, id uuid.UUID, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conflicts[id]
	if !ok {
		return fmt.Errorf("memory.ConflictStore.Reset: %w", domain.ErrNotFound)
	}
	if c.Status == domain.ConflictPending {
		return fmt.Errorf("memory.ConflictStore.Reset: %w", domain.ErrInvalidTransition)
	}

	c.Status = domain.ConflictPending
	c.ReviewedBy = actor
	c.ReviewReason = ""
	c.UpdatedAt = time.Now()

	return nil
}

func (s *ConflictStore) HasOpen(_ context.Context, technique domain.TechniqueID, conflictType domain.ConflictType, phase domain.EpicPhase) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.conflicts {
		if c.TechniqueNumber == technique && c.ConflictType == conflictType && c.Phase == phase &&
			(c.Status == domain.ConflictPending || c.Status == domain.ConflictApproved) {
			return true, nil
		}
	}

	return false, nil
}
