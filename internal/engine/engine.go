package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/epicsales/coach/internal/catalog"
	"github.com/epicsales/coach/internal/detector"
	"github.com/epicsales/coach/internal/domain"
	"github.com/epicsales/coach/internal/dynamics"
	"github.com/epicsales/coach/internal/generation"
	"github.com/epicsales/coach/internal/phase"
	"github.com/epicsales/coach/internal/scoring"
)

// ErrRetryExhausted is returned when commit conflicts persist after the
// configured retries. Transient: the caller may resubmit.
var ErrRetryExhausted = errors.New("engine: commit retries exhausted")

// Publisher abstracts the pub/sub publish operation.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Reporter is the asynchronous config-conflict collaborator. All methods
// must be cheap; repository work happens inside Scan.
type Reporter interface {
	RecordOutcome(detected *domain.TechniqueID)
	RecordInvalidTarget(technique domain.TechniqueID, phaseName domain.EpicPhase, description string)
	Scan(ctx context.Context) error
}

// Config holds the engine tunables.
type Config struct {
	CommitRetries     int
	GenerationTimeout time.Duration
	HistoryTail       int // turns handed to the generation service
	IdleTTL           time.Duration
	ReapInterval      time.Duration
}

func DefaultConfig() Config {
	return Config{
		CommitRetries:     3,
		GenerationTimeout: 10 * time.Second,
		HistoryTail:       12,
		IdleTTL:           2 * time.Hour,
		ReapInterval:      10 * time.Minute,
	}
}

// Engine coordinates the per-turn pipeline: detection, the dynamics and
// scoring legs, the phase machine, the atomic repository commit, and the
// customer reply. Turns within one session are processed strictly in
// order; sessions are independent.
type Engine struct {
	sessions  domain.SessionRepository
	artifacts domain.ArtifactRepository
	catalog   *catalog.Catalog
	detect    *detector.Detector
	model     *dynamics.Model
	machine   *phase.Machine
	scorer    *scoring.Engine
	generator generation.Generator
	reporter  Reporter  // may be nil
	pubsub    Publisher // may be nil
	cfg       Config

	// locks serializes turn processing per session.
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex

	done chan struct{}
}

func New(
	sessions domain.SessionRepository,
	artifacts domain.ArtifactRepository,
	cat *catalog.Catalog,
	det *detector.Detector,
	model *dynamics.Model,
	machine *phase.Machine,
	scorer *scoring.Engine,
	generator generation.Generator,
	reporter Reporter,
	pubsub Publisher,
	cfg Config,
) *Engine {
	return &Engine{
		sessions:  sessions,
		artifacts: artifacts,
		catalog:   cat,
		detect:    det,
		model:     model,
		machine:   machine,
		scorer:    scorer,
		generator: generator,
		reporter:  reporter,
		pubsub:    pubsub,
		cfg:       cfg,
		locks:     make(map[uuid.UUID]*sync.Mutex),
		done:      make(chan struct{}),
	}
}

// Shutdown signals background goroutines to stop.
func (e *Engine) Shutdown() {
	close(e.done)
}

// CreateParams are the caller-supplied session creation fields.
type CreateParams struct {
	UserID      uuid.UUID
	TechniqueID domain.TechniqueID
	Mode        domain.Mode
	Persona     domain.Persona
	Context     map[string]any
	ExpertMode  bool
}

// CreateSession initializes a session record: pre-contact phase, explore,
// dynamics derived from the persona difficulty.
func (e *Engine) CreateSession(ctx context.Context, p CreateParams) (*domain.Session, error) {
	if _, ok := e.catalog.Get(p.TechniqueID); !ok {
		return nil, fmt.Errorf("engine.CreateSession: technique %s: %w", p.TechniqueID, domain.ErrNotFound)
	}

	dyn := e.model.Initial(p.Persona)
	s := &domain.Session{
		ID:              uuid.New(),
		UserID:          p.UserID,
		TechniqueID:     p.TechniqueID,
		Mode:            p.Mode,
		Phase:           domain.ScenarioPreContact,
		EpicPhase:       domain.PhaseExplore,
		Context:         p.Context,
		Dialogue:        domain.DialogueState{CategoryCounts: make(map[string]int)},
		Persona:         p.Persona,
		CurrentAttitude: e.model.Attitude(dyn),
		Dynamics:        dyn,
		ExpertMode:      p.ExpertMode,
		IsActive:        true,
	}

	if err := e.sessions.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("engine.CreateSession: %w", err)
	}

	return s, nil
}

// GetSession returns the full record for replay and debug display.
func (e *Engine) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	s, err := e.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine.GetSession: %w", err)
	}
	return s, nil
}

// ListSessions returns a user's sessions, newest first.
func (e *Engine) ListSessions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Session, error) {
	out, err := e.sessions.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("engine.ListSessions: %w", err)
	}
	return out, nil
}

// CompleteSession saves the scored-transcript artifact and deactivates the
// session. Completed sessions reject further turns.
func (e *Engine) CompleteSession(ctx context.Context, id uuid.UUID) (*domain.SessionArtifact, error) {
	lock := e.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := e.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine.CompleteSession: %w", err)
	}
	if !s.IsActive {
		return nil, fmt.Errorf("engine.CompleteSession: %w", domain.ErrSessionInactive)
	}

	// Deactivate before writing the artifact: a failed completion must not
	// leave an active session behind a saved transcript, or a retry would
	// save a second one. The transcript stays derivable from the session
	// record if the artifact write fails.
	if err := e.sessions.SetActive(ctx, id, false); err != nil {
		return nil, fmt.Errorf("engine.CompleteSession: %w", err)
	}
	artifact := buildTranscriptArtifact(s)
	if err := e.artifacts.Create(ctx, artifact); err != nil {
		return nil, fmt.Errorf("engine.CompleteSession: %w", err)
	}

	e.releaseLock(id)

	return artifact, nil
}

// ListArtifacts returns the saved outputs for a session.
func (e *Engine) ListArtifacts(ctx context.Context, sessionID uuid.UUID) ([]*domain.SessionArtifact, error) {
	out, err := e.artifacts.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("engine.ListArtifacts: %w", err)
	}
	return out, nil
}

// OverrideParams describe an administrative phase/milestone override, the
// only path that may move state backward.
type OverrideParams struct {
	Phase      *int
	EpicPhase  *domain.EpicPhase
	Milestones *domain.EpicMilestones
	Reason     string
	Actor      string
}

// Override applies an administrative override, recorded as an override
// event. Targets outside the valid state sets are rejected unchanged and
// reported as HIGH conflicts.
func (e *Engine) Override(ctx context.Context, id uuid.UUID, p OverrideParams) (*domain.Session, error) {
	lock := e.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := e.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine.Override: %w", err)
	}

	if p.EpicPhase != nil && p.EpicPhase.Ord() < 0 {
		e.reportInvalidTarget(s, string(*p.EpicPhase))
		return nil, fmt.Errorf("engine.Override: epic phase %q: %w", *p.EpicPhase, domain.ErrInvalidTransition)
	}
	if p.Phase != nil && !phase.ValidScenarioPhase(*p.Phase) {
		e.reportInvalidTarget(s, fmt.Sprintf("numeric phase %d", *p.Phase))
		return nil, fmt.Errorf("engine.Override: phase %d: %w", *p.Phase, domain.ErrInvalidTransition)
	}

	out, err := e.sessions.CommitOverride(ctx, &domain.OverrideCommit{
		SessionID:       id,
		ExpectedVersion: s.Version,
		Phase:           p.Phase,
		EpicPhase:       p.EpicPhase,
		Milestones:      p.Milestones,
		Reason:          p.Reason,
		Actor:           p.Actor,
	})
	if err != nil {
		return nil, fmt.Errorf("engine.Override: %w", err)
	}

	log.Info().
		Str("session_id", id.String()).
		Str("actor", p.Actor).
		Str("reason", p.Reason).
		Msg("administrative override applied")

	return out, nil
}

// Correct applies an admin-approved score correction as a logged,
// reversible correction event.
func (e *Engine) Correct(ctx context.Context, id uuid.UUID, delta int, techniqueID *domain.TechniqueID, reason, actor string) (*domain.Session, error) {
	lock := e.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := e.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("engine.Correct: %w", err)
	}

	out, err := e.sessions.CommitCorrection(ctx, &domain.CorrectionCommit{
		SessionID:       id,
		ExpectedVersion: s.Version,
		Delta:           delta,
		TechniqueID:     techniqueID,
		Reason:          reason,
		Actor:           actor,
	})
	if err != nil {
		return nil, fmt.Errorf("engine.Correct: %w", err)
	}

	return out, nil
}

// RunReaper deactivates sessions with no turn for the configured idle TTL.
// Housekeeping, not correctness-critical.
func (e *Engine) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-e.cfg.IdleTTL)
			ids, err := e.sessions.ListIdleActive(ctx, cutoff)
			if err != nil {
				log.Error().Err(err).Msg("idle session sweep failed")
				continue
			}
			for _, id := range ids {
				if err := e.sessions.SetActive(ctx, id, false); err != nil {
					log.Error().Err(err).Str("session_id", id.String()).Msg("failed to archive idle session")
					continue
				}
				e.releaseLock(id)
				log.Info().Str("session_id", id.String()).Msg("idle session archived")
			}
		}
	}
}

func (e *Engine) reportInvalidTarget(s *domain.Session, target string) {
	if e.reporter == nil {
		return
	}
	e.reporter.RecordInvalidTarget(s.TechniqueID, s.EpicPhase,
		fmt.Sprintf("override on session %s attempted invalid target %s", s.ID, target))
	e.scanAsync()
}

// scanAsync triggers a post-commit reporter pass off the turn path.
func (e *Engine) scanAsync() {
	if e.reporter == nil {
		return
	}
	select {
	case <-e.done:
		return
	default:
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.reporter.Scan(ctx); err != nil {
			log.Error().Err(err).Msg("post-commit conflict scan failed")
		}
	}()
}

func (e *Engine) sessionLock(id uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

func (e *Engine) releaseLock(id uuid.UUID) {
	e.mu.Lock()
	delete(e.locks, id)
	e.mu.Unlock()
}

func buildTranscriptArtifact(s *domain.Session) *domain.SessionArtifact {
	lines := make([]map[string]any, 0, len(s.History))
	for _, t := range s.History {
		lines = append(lines, map[string]any{
			"speaker":   t.Speaker,
			"text":      t.Text,
			"timestamp": t.Timestamp,
		})
	}

	return &domain.SessionArtifact{
		ID:           uuid.New(),
		SessionID:    s.ID,
		ArtifactType: "transcript",
		EpicPhase:    s.EpicPhase,
		Content: map[string]any{
			"transcript":     lines,
			"totalScore":     s.TotalScore,
			"turnNumber":     s.TurnNumber,
			"epicMilestones": s.Milestones,
			"dynamics":       s.Dynamics,
		},
	}
}
