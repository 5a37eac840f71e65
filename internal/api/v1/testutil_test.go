package v1_test

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/epicsales/coach/internal/domain"
	"github.com/epicsales/coach/internal/engine"
	"github.com/epicsales/coach/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

func actorCtx(actor string) context.Context {
	return context.WithValue(context.Background(), middleware.ContextKeyActor, actor)
}

// ---------------------------------------------------------------------------
// Mock CoachEngine
// ---------------------------------------------------------------------------

type mockEngine struct {
	createSessionFunc   func(ctx context.Context, p engine.CreateParams) (*domain.Session, error)
	getSessionFunc      func(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	listSessionsFunc    func(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Session, error)
	submitTurnFunc      func(ctx context.Context, sessionID uuid.UUID, expectedTurn int, text string) (*engine.TurnResult, error)
	appendCustomerFunc  func(ctx context.Context, sessionID uuid.UUID, expectedTurn int, text string) (*domain.Session, error)
	completeSessionFunc func(ctx context.Context, id uuid.UUID) (*domain.SessionArtifact, error)
	listArtifactsFunc   func(ctx context.Context, sessionID uuid.UUID) ([]*domain.SessionArtifact, error)
	overrideFunc        func(ctx context.Context, id uuid.UUID, p engine.OverrideParams) (*domain.Session, error)
	correctFunc         func(ctx context.Context, id uuid.UUID, delta int, techniqueID *domain.TechniqueID, reason, actor string) (*domain.Session, error)
}

func (m *mockEngine) CreateSession(ctx context.Context, p engine.CreateParams) (*domain.Session, error) {
	return m.createSessionFunc(ctx, p)
}

func (m *mockEngine) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return m.getSessionFunc(ctx, id)
}

func (m *mockEngine) ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Session, error) {
	return m.listSessionsFunc(ctx, userID, limit, offset)
}

func (m *mockEngine) SubmitTurn(ctx context.Context, sessionID uuid.UUID, expectedTurn int, text string) (*engine.TurnResult, error) {
	return m.submitTurnFunc(ctx, sessionID, expectedTurn, text)
}

func (m *mockEngine) AppendCustomerLine(ctx context.Context, sessionID uuid.UUID, expectedTurn int, text string) (*domain.Session, error) {
	return m.appendCustomerFunc(ctx, sessionID, expectedTurn, text)
}

func (m *mockEngine) CompleteSession(ctx context.Context, id uuid.UUID) (*domain.SessionArtifact, error) {
	return m.completeSessionFunc(ctx, id)
}

func (m *mockEngine) ListArtifacts(ctx context.Context, sessionID uuid.UUID) ([]*domain.SessionArtifact, error) {
	return m.listArtifactsFunc(ctx, sessionID)
}

func (m *mockEngine) Override(ctx context.Context, id uuid.UUID, p engine.OverrideParams) (*domain.Session, error) {
	return m.overrideFunc(ctx, id, p)
}

func (m *mockEngine) Correct(ctx context.Context, id uuid.UUID, delta int, techniqueID *domain.TechniqueID, reason, actor string) (*domain.Session, error) {
	return m.correctFunc(ctx, id, delta, techniqueID, reason, actor)
}

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	sessions  domain.SessionRepository
	artifacts domain.ArtifactRepository
	conflicts domain.ConflictRepository
}

func (m *mockDataStore) Sessions() domain.SessionRepository   { return m.sessions }
func (m *mockDataStore) Artifacts() domain.ArtifactRepository { return m.artifacts }
func (m *mockDataStore) Conflicts() domain.ConflictRepository { return m.conflicts }

// ---------------------------------------------------------------------------
// Mock ConflictRepository
// ---------------------------------------------------------------------------

type mockConflictRepo struct {
	createFunc       func(ctx context.Context, c *domain.TechniqueConfigConflict) error
	getByIDFunc      func(ctx context.Context, id uuid.UUID) (*domain.TechniqueConfigConflict, error)
	listFunc         func(ctx context.Context, filter domain.ConflictFilter) ([]*domain.TechniqueConfigConflict, error)
	updateStatusFunc func(ctx context.Context, id uuid.UUID, status domain.ConflictStatus, reviewedBy, reason string) error
	resetFunc        func(ctx context.Context, id uuid.UUID, actor string) error
	hasOpenFunc      func(ctx context.Context, technique domain.TechniqueID, conflictType domain.ConflictType, phase domain.EpicPhase) (bool, error)
}

func (m *mockConflictRepo) Create(ctx context.Context, c *domain.TechniqueConfigConflict) error {
	return m.createFunc(ctx, c)
}

func (m *mockConflictRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.TechniqueConfigConflict, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockConflictRepo) List(ctx context.Context, filter domain.ConflictFilter) ([]*domain.TechniqueConfigConflict, error) {
	return m.listFunc(ctx, filter)
}

func (m *mockConflictRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ConflictStatus, reviewedBy, reason string) error {
	return m.updateStatusFunc(ctx, id, status, reviewedBy, reason)
}

func (m *mockConflictRepo) Reset(ctx context.Context, id uuid.UUID, actor string) error {
	return m.resetFunc(ctx, id, actor)
}

func (m *mockConflictRepo) HasOpen(ctx context.Context, technique domain.TechniqueID, conflictType domain.ConflictType, phase domain.EpicPhase) (bool, error) {
	return m.hasOpenFunc(ctx, technique, conflictType, phase)
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func testSession(userID uuid.UUID) *domain.Session {
	now := time.Now()
	return &domain.Session{
		ID:          uuid.New(),
		UserID:      userID,
		TechniqueID: "1.1",
		Mode:        domain.ModeChat,
		Phase:       domain.ScenarioPreContact,
		EpicPhase:   domain.PhaseExplore,
		Dialogue:    domain.DialogueState{CategoryCounts: map[string]int{}},
		Persona: domain.Persona{
			Style:       "zakelijk",
			BuyingClock: "orientatie",
			Difficulty:  domain.DifficultyBeginner,
		},
		CurrentAttitude: domain.AttitudeNeutral,
		Dynamics:        domain.CustomerDynamics{Rapport: 50, ValueTension: 50, CommitReadiness: 30},
		IsActive:        true,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
