package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epicsales/coach/internal/domain"
)

type Store struct {
	pool      *pgxpool.Pool
	sessions  *SessionRepo
	artifacts *ArtifactRepo
	conflicts *ConflictRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:      pool,
		sessions:  NewSessionRepo(pool),
		artifacts: NewArtifactRepo(pool),
		conflicts: NewConflictRepo(pool),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Sessions() domain.SessionRepository   { return s.sessions }
func (s *Store) Artifacts() domain.ArtifactRepository { return s.artifacts }
func (s *Store) Conflicts() domain.ConflictRepository { return s.conflicts }
