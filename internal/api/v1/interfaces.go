package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/epicsales/coach/internal/domain"
	"github.com/epicsales/coach/internal/engine"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store and *memory.Store both satisfy this interface.
type DataStore interface {
	Sessions() domain.SessionRepository
	Artifacts() domain.ArtifactRepository
	Conflicts() domain.ConflictRepository
}

// CoachEngine abstracts the session pipeline for handler testing.
// *engine.Engine satisfies this interface.
type CoachEngine interface {
	CreateSession(ctx context.Context, p engine.CreateParams) (*domain.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Session, error)
	SubmitTurn(ctx context.Context, sessionID uuid.UUID, expectedTurn int, text string) (*engine.TurnResult, error)
	AppendCustomerLine(ctx context.Context, sessionID uuid.UUID, expectedTurn int, text string) (*domain.Session, error)
	CompleteSession(ctx context.Context, id uuid.UUID) (*domain.SessionArtifact, error)
	ListArtifacts(ctx context.Context, sessionID uuid.UUID) ([]*domain.SessionArtifact, error)
	Override(ctx context.Context, id uuid.UUID, p engine.OverrideParams) (*domain.Session, error)
	Correct(ctx context.Context, id uuid.UUID, delta int, techniqueID *domain.TechniqueID, reason, actor string) (*domain.Session, error)
}
