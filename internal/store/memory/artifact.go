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

type ArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[uuid.UUID]*domain.SessionArtifact
}

func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{artifacts: make(map[uuid.UUID]*domain.SessionArtifact)}
}

func (s *ArtifactStore) Create(_ context.Context, a *domain.SessionArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	s.artifacts[a.ID] = &cp

	return nil
}

func (s *ArtifactStore) GetByID(_ context.Context, id uuid.UUID) (*domain.SessionArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.artifacts[id]
	if !ok {
		return nil, fmt.Errorf("memory.ArtifactStore.GetByID: %w", domain.ErrNotFound)
	}
	cp := *a

	return &cp, nil
}

func (s *ArtifactStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*domain.SessionArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.SessionArtifact
	for _, a := range s.artifacts {
		if a.SessionID == sessionID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}
