package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epicsales/coach/internal/domain"
)

// ArtifactRepo persists session_artifacts. Artifacts are write-once: there
// is deliberately no update or delete path.
type ArtifactRepo struct {
	pool *pgxpool.Pool
}

func NewArtifactRepo(pool *pgxpool.Pool) *ArtifactRepo {
	return &ArtifactRepo{pool: pool}
}

func (r *ArtifactRepo) Create(ctx context.Context, a *domain.SessionArtifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	content, err := json.Marshal(a.Content)
	if err != nil {
		return fmt.Errorf("artifactRepo.Create: marshal: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO session_artifacts (id, session_id, artifact_type, content, epic_phase, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.SessionID, a.ArtifactType, content, a.EpicPhase, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("artifactRepo.Create: %w", err)
	}

	return nil
}

func (r *ArtifactRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SessionArtifact, error) {
	var (
		a       domain.SessionArtifact
		content []byte
	)

	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, artifact_type, content, epic_phase, created_at
		 FROM session_artifacts WHERE id = $1`, id,
	).Scan(&a.ID, &a.SessionID, &a.ArtifactType, &content, &a.EpicPhase, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("artifactRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("artifactRepo.GetByID: %w", err)
	}

	if len(content) > 0 {
		if err := json.Unmarshal(content, &a.Content); err != nil {
			return nil, fmt.Errorf("artifactRepo.GetByID: %w: %v", domain.ErrCorruptRecord, err)
		}
	}

	return &a, nil
}

func (r *ArtifactRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.SessionArtifact, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, artifact_type, content, epic_phase, created_at
		 FROM session_artifacts WHERE session_id = $1
		 ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("artifactRepo.ListBySession: %w", err)
	}
	defer rows.Close()

	var artifacts []*domain.SessionArtifact
	for rows.Next() {
		var (
			a       domain.SessionArtifact
			content []byte
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ArtifactType, &content, &a.EpicPhase, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("artifactRepo.ListBySession: scan: %w", err)
		}
		if len(content) > 0 {
			if err := json.Unmarshal(content, &a.Content); err != nil {
				return nil, fmt.Errorf("artifactRepo.ListBySession: %w: %v", domain.ErrCorruptRecord, err)
			}
		}
		artifacts = append(artifacts, &a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("artifactRepo.ListBySession: rows: %w", err)
	}

	return artifacts, nil
}
