package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epicsales/coach/internal/domain"
)

type ConflictRepo struct {
	pool *pgxpool.Pool
}

func NewConflictRepo(pool *pgxpool.Pool) *ConflictRepo {
	return &ConflictRepo{pool: pool}
}

const conflictColumns = `id, technique_number, conflict_type, severity, phase, description,
        status, reviewed_by, review_reason, created_at, updated_at`

func (r *ConflictRepo) Create(ctx context.Context, c *domain.TechniqueConfigConflict) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := r.pool.Exec(ctx,
		`INSERT INTO technique_config_conflicts (`+conflictColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.TechniqueNumber, c.ConflictType, c.Severity, c.Phase, c.Description,
		c.Status, c.ReviewedBy, c.ReviewReason, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("conflictRepo.Create: %w", err)
	}

	return nil
}

func (r *ConflictRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.TechniqueConfigConflict, error) {
	var c domain.TechniqueConfigConflict

	err := r.pool.QueryRow(ctx,
		`SELECT `+conflictColumns+` FROM technique_config_conflicts WHERE id = $1`, id,
	).Scan(
		&c.ID, &c.TechniqueNumber, &c.ConflictType, &c.Severity, &c.Phase, &c.Description,
		&c.Status, &c.ReviewedBy, &c.ReviewReason, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conflictRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("conflictRepo.GetByID: %w", err)
	}

	return &c, nil
}

func (r *ConflictRepo) List(ctx context.Context, filter domain.ConflictFilter) ([]*domain.TechniqueConfigConflict, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+conflictColumns+` FROM technique_config_conflicts
		 WHERE ($1 = '' OR severity = $1) AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		string(filter.Severity), string(filter.Status), limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("conflictRepo.List: %w", err)
	}
	defer rows.Close()

	var conflicts []*domain.TechniqueConfigConflict
	for rows.Next() {
		var c domain.TechniqueConfigConflict
		if err := rows.Scan(
			&c.ID, &c.TechniqueNumber, &c.ConflictType, &c.Severity, &c.Phase, &c.Description,
			&c.Status, &c.ReviewedBy, &c.ReviewReason, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("conflictRepo.List: scan: %w", err)
		}
		conflicts = append(conflicts, &c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("conflictRepo.List: rows: %w", err)
	}

	return conflicts, nil
}

func (r *ConflictRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ConflictStatus, reviewedBy, reason string) error {
	if !domain.ConflictPending.ValidTransition(status) {
		return fmt.Errorf("conflictRepo.UpdateStatus: %w", domain.ErrInvalidTransition)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE technique_config_conflicts
		 SET status = $1, reviewed_by = $2, review_reason = $3, updated_at = now()
		 WHERE id = $4 AND status = 'pending'`,
		status, reviewedBy, reason, id,
	)
	if err != nil {
		return fmt.Errorf("conflictRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already reviewed; tell the caller which.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return fmt.Errorf("conflictRepo.UpdateStatus: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("conflictRepo.UpdateStatus: %w", domain.ErrInvalidTransition)
	}

	return nil
}

func (r *ConflictRepo) Reset(ctx context.Context, id uuid.UUID, actor string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE technique_config_conflicts
		 SET status = 'pending', reviewed_by = $1, review_reason = '', updated_at = now()
		 WHERE id = $2 AND status <> 'pending'`,
		actor, id,
	)
	if err != nil {
		return fmt.Errorf("conflictRepo.Reset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return fmt.Errorf("conflictRepo.Reset: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("conflictRepo.Reset: %w", domain.ErrInvalidTransition)
	}

	return nil
}

func (r *ConflictRepo) HasOpen(ctx context.Context, technique domain.TechniqueID, conflictType domain.ConflictType, phase domain.EpicPhase) (bool, error) {
	var exists bool

	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM technique_config_conflicts
		   WHERE technique_number = $1 AND conflict_type = $2 AND phase = $3
		     AND status IN ('pending', 'approved')
		 )`,
		technique, conflictType, phase,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("conflictRepo.HasOpen: %w", err)
	}

	return exists, nil
}
