package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionArtifact is a saved session output, e.g. a scored transcript
// excerpt. Write-once: created on completion or explicit save, never
// mutated afterward.
type SessionArtifact struct {
	ID           uuid.UUID      `json:"id"`
	SessionID    uuid.UUID      `json:"sessionId"`
	ArtifactType string         `json:"artifactType"` // "transcript", "score_report"
	Content      map[string]any `json:"content"`
	EpicPhase    EpicPhase      `json:"epicPhase"` // phase snapshot at save time
	CreatedAt    time.Time      `json:"createdAt"`
}

type ArtifactRepository interface {
	Create(ctx context.Context, a *SessionArtifact) error
	GetByID(ctx context.Context, id uuid.UUID) (*SessionArtifact, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*SessionArtifact, error)
}
