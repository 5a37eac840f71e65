// Package memory provides in-memory repository implementations with the
// same optimistic-locking semantics as the postgres store. Used by engine
// tests and COACH_STORE=memory local development.
package memory

import (
	"github.com/epicsales/coach/internal/domain"
)

type Store struct {
	sessions  *SessionStore
	artifacts *ArtifactStore
	conflicts *ConflictStore
}

func New() *Store {
	return &Store{
		sessions:  NewSessionStore(),
		artifacts: NewArtifactStore(),
		conflicts: NewConflictStore(),
	}
}

func (s *Store) Sessions() domain.SessionRepository   { return s.sessions }
func (s *Store) Artifacts() domain.ArtifactRepository { return s.artifacts }
func (s *Store) Conflicts() domain.ConflictRepository { return s.conflicts }
