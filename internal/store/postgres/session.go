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

// SessionRepo persists the v2_sessions record. Structured sub-documents
// (context, dialogue state, persona, history, dynamics, milestones,
// events) live in jsonb columns; the commit methods apply their delta set
// inside a transaction guarded by a row lock plus a version check.
type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `id, user_id, technique_id, mode, phase, epic_phase, epic_milestones,
        context, dialogue_state, persona, current_attitude, turn_number,
        conversation_history, customer_dynamics, events, total_score,
        expert_mode, is_active, version, created_at, updated_at`

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	now := time.Now()
	s.Version = 1
	s.CreatedAt = now
	s.UpdatedAt = now

	milestones, history, events, dialogue, contextDoc, persona, dyn, err := marshalSessionDocs(s)
	if err != nil {
		return fmt.Errorf("sessionRepo.Create: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO v2_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		s.ID, s.UserID, s.TechniqueID, s.Mode, s.Phase, s.EpicPhase, milestones,
		contextDoc, dialogue, persona, s.CurrentAttitude, s.TurnNumber,
		history, dyn, events, s.TotalScore,
		s.ExpertMode, s.IsActive, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Create: %w", err)
	}

	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM v2_sessions WHERE id = $1`, id)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", err)
	}

	return s, nil
}

func (r *SessionRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM v2_sessions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.ListByUser: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		s, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sessionRepo.ListByUser: scan: %w", scanErr)
		}
		sessions = append(sessions, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionRepo.ListByUser: rows: %w", err)
	}

	return sessions, nil
}

// CommitTurn applies the full delta set of one turn as one atomic unit:
// either all fields update together or none do. The row lock serializes
// concurrent writers; the version check surfaces stale snapshots as
// domain.ErrVersionConflict so the engine can retry with fresh state.
func (r *SessionRepo) CommitTurn(ctx context.Context, c *domain.TurnCommit) (*domain.Session, error) {
	var out *domain.Session

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		s, err := lockSession(ctx, tx, c.SessionID)
		if err != nil {
			return err
		}
		if err := domain.ValidateTurnCommit(s, c); err != nil {
			return err
		}

		domain.ApplyTurnCommit(s, c, time.Now())

		if err := writeSession(ctx, tx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.CommitTurn: %w", err)
	}

	return out, nil
}

func (r *SessionRepo) CommitOverride(ctx context.Context, c *domain.OverrideCommit) (*domain.Session, error) {
	var out *domain.Session

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		s, err := lockSession(ctx, tx, c.SessionID)
		if err != nil {
			return err
		}
		if c.ExpectedVersion != s.Version {
			return domain.ErrVersionConflict
		}

		now := time.Now()
		if c.Phase != nil {
			s.Phase = *c.Phase
		}
		if c.EpicPhase != nil {
			s.EpicPhase = *c.EpicPhase
		}
		if c.Milestones != nil {
			s.Milestones = *c.Milestones
		}
		s.Events = append(s.Events, domain.ScoreEvent{
			TurnNumber: s.TurnNumber,
			Type:       domain.EventOverride,
			Delta:      0,
			Reason:     c.Reason,
			Actor:      c.Actor,
			CreatedAt:  now,
		})
		s.Version++
		s.UpdatedAt = now

		if err := writeSession(ctx, tx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.CommitOverride: %w", err)
	}

	return out, nil
}

func (r *SessionRepo) CommitCorrection(ctx context.Context, c *domain.CorrectionCommit) (*domain.Session, error) {
	var out *domain.Session

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		s, err := lockSession(ctx, tx, c.SessionID)
		if err != nil {
			return err
		}
		if c.ExpectedVersion != s.Version {
			return domain.ErrVersionConflict
		}

		now := time.Now()
		s.Events = append(s.Events, domain.ScoreEvent{
			TurnNumber:  s.TurnNumber,
			Type:        domain.EventCorrection,
			TechniqueID: c.TechniqueID,
			Delta:       c.Delta,
			Reason:      c.Reason,
			Actor:       c.Actor,
			CreatedAt:   now,
		})
		s.TotalScore += c.Delta
		s.Version++
		s.UpdatedAt = now

		if err := writeSession(ctx, tx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.CommitCorrection: %w", err)
	}

	return out, nil
}

func (r *SessionRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE v2_sessions SET is_active = $1, version = version + 1, updated_at = now() WHERE id = $2`,
		active, id,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.SetActive: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sessionRepo.SetActive: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *SessionRepo) ListIdleActive(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM v2_sessions WHERE is_active AND updated_at < $1 LIMIT 1000`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.ListIdleActive: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sessionRepo.ListIdleActive: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionRepo.ListIdleActive: rows: %w", err)
	}

	return ids, nil
}

func (r *SessionRepo) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func lockSession(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Session, error) {
	row := tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM v2_sessions WHERE id = $1 FOR UPDATE`, id)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return s, nil
}

func writeSession(ctx context.Context, tx pgx.Tx, s *domain.Session) error {
	milestones, history, events, dialogue, contextDoc, persona, dyn, err := marshalSessionDocs(s)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE v2_sessions SET
		        phase = $1, epic_phase = $2, epic_milestones = $3,
		        dialogue_state = $4, current_attitude = $5, turn_number = $6,
		        conversation_history = $7, customer_dynamics = $8, events = $9,
		        total_score = $10, is_active = $11, version = $12, updated_at = $13,
		        context = $14, persona = $15
		 WHERE id = $16 AND version = $17`,
		s.Phase, s.EpicPhase, milestones,
		dialogue, s.CurrentAttitude, s.TurnNumber,
		history, dyn, events,
		s.TotalScore, s.IsActive, s.Version, s.UpdatedAt,
		contextDoc, persona,
		s.ID, s.Version-1,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Row moved under us despite the lock; treat as a stale snapshot.
		return domain.ErrVersionConflict
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s          domain.Session
		milestones []byte
		contextDoc []byte
		dialogue   []byte
		persona    []byte
		history    []byte
		dyn        []byte
		events     []byte
	)

	err := row.Scan(
		&s.ID, &s.UserID, &s.TechniqueID, &s.Mode, &s.Phase, &s.EpicPhase, &milestones,
		&contextDoc, &dialogue, &persona, &s.CurrentAttitude, &s.TurnNumber,
		&history, &dyn, &events, &s.TotalScore,
		&s.ExpertMode, &s.IsActive, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, doc := range []struct {
		raw []byte
		dst any
	}{
		{milestones, &s.Milestones},
		{contextDoc, &s.Context},
		{dialogue, &s.Dialogue},
		{persona, &s.Persona},
		{history, &s.History},
		{dyn, &s.Dynamics},
		{events, &s.Events},
	} {
		if len(doc.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(doc.raw, doc.dst); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCorruptRecord, err)
		}
	}

	return &s, nil
}

func marshalSessionDocs(s *domain.Session) (milestones, history, events, dialogue, contextDoc, persona, dyn []byte, err error) {
	for _, doc := range []struct {
		src any
		dst *[]byte
	}{
		{s.Milestones, &milestones},
		{s.History, &history},
		{s.Events, &events},
		{s.Dialogue, &dialogue},
		{s.Context, &contextDoc},
		{s.Persona, &persona},
		{s.Dynamics, &dyn},
	} {
		*doc.dst, err = json.Marshal(doc.src)
		if err != nil {
			return nil, nil, nil, nil, nil, nil, nil, err
		}
	}
	return milestones, history, events, dialogue, contextDoc, persona, dyn, nil
}
