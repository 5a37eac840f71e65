package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/epicsales/coach/internal/detector"
	"github.com/epicsales/coach/internal/domain"
	"github.com/epicsales/coach/internal/dynamics"
	"github.com/epicsales/coach/internal/generation"
	"github.com/epicsales/coach/internal/phase"
)

// TurnResult is the committed outcome of one submitted seller turn,
// including the generated customer reply and both debug payloads.
type TurnResult struct {
	Session       *domain.Session
	Detected      *domain.TechniqueID
	Expected      domain.TechniqueID
	Confidence    float64
	ScoreDelta    int
	Signal        domain.Signal
	CustomerReply string
	ReplyFallback bool
	SellerDebug   *domain.SellerTurnDebug
	CustomerDebug *domain.CustomerTurnDebug
}

// SubmitTurn processes one trainee utterance end to end: detection, the
// dynamics and scoring legs, the phase machine, the atomic commit, and
// the simulated customer's reply (committed as its own turn). Turns on
// one session are strictly serialized; a version conflict from an
// external writer is retried with fresh state.
func (e *Engine) SubmitTurn(ctx context.Context, sessionID uuid.UUID, expectedTurn int, text string) (*TurnResult, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	var (
		committed *domain.Session
		res       detector.Result
		event     *domain.ScoreEvent
		signal    domain.Signal
	)

	for attempt := 0; ; attempt++ {
		s, err := e.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("engine.SubmitTurn: %w", err)
		}
		if !s.IsActive {
			return nil, fmt.Errorf("engine.SubmitTurn: %w", domain.ErrSessionInactive)
		}
		if expectedTurn != s.TurnNumber+1 {
			return nil, fmt.Errorf("engine.SubmitTurn: expected turn %d, session at %d: %w",
				expectedTurn, s.TurnNumber, domain.ErrStaleTurn)
		}

		commit := e.buildSellerCommit(ctx, s, text, &res, &event, &signal)

		committed, err = e.sessions.CommitTurn(ctx, commit)
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrVersionConflict) && attempt < e.cfg.CommitRetries {
			log.Debug().Str("session_id", sessionID.String()).Int("attempt", attempt).Msg("turn commit conflict, retrying")
			continue
		}
		if errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("engine.SubmitTurn: %w: %w", ErrRetryExhausted, err)
		}
		return nil, fmt.Errorf("engine.SubmitTurn: %w", err)
	}

	if e.reporter != nil {
		e.reporter.RecordOutcome(res.Detected)
	}

	sellerDebug := e.buildSellerDebug(committed, res, event)

	// The only long-latency call in the path. Timeout plus fallback keep a
	// slow generation service from stalling the state machine.
	reply, fallback := e.generateReply(ctx, committed, signal)

	committed, err := e.commitCustomerTurn(ctx, committed, reply)
	if err != nil {
		return nil, fmt.Errorf("engine.SubmitTurn: customer turn: %w", err)
	}

	customerDebug := e.buildCustomerDebug(committed, signal, fallback)

	e.publishTurn(committed.ID, sellerDebug, customerDebug)
	e.scanAsync()

	delta := 0
	if event != nil {
		delta = event.Delta
	}

	return &TurnResult{
		Session:       committed,
		Detected:      res.Detected,
		Expected:      res.Expected,
		Confidence:    res.Confidence,
		ScoreDelta:    delta,
		Signal:        signal,
		CustomerReply: reply,
		ReplyFallback: fallback,
		SellerDebug:   sellerDebug,
		CustomerDebug: customerDebug,
	}, nil
}

// AppendCustomerLine records a customer utterance supplied by the caller
// instead of the generation collaborator, used when a human trainer plays
// the customer. No detection, scoring, or dynamics movement applies.
func (e *Engine) AppendCustomerLine(ctx context.Context, sessionID uuid.UUID, expectedTurn int, text string) (*domain.Session, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s, err := e.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("engine.AppendCustomerLine: %w", err)
	}
	if !s.IsActive {
		return nil, fmt.Errorf("engine.AppendCustomerLine: %w", domain.ErrSessionInactive)
	}
	if expectedTurn != s.TurnNumber+1 {
		return nil, fmt.Errorf("engine.AppendCustomerLine: expected turn %d, session at %d: %w",
			expectedTurn, s.TurnNumber, domain.ErrStaleTurn)
	}

	out, err := e.commitCustomerTurn(ctx, s, text)
	if err != nil {
		return nil, fmt.Errorf("engine.AppendCustomerLine: %w", err)
	}
	return out, nil
}

// buildSellerCommit runs the per-turn computation against a fresh session
// snapshot and assembles the commit. The dynamics and scoring legs are
// pure functions of the same detector output and run concurrently; the
// phase machine runs after both because its guards read their results.
func (e *Engine) buildSellerCommit(ctx context.Context, s *domain.Session, text string, resOut *detector.Result, eventOut **domain.ScoreEvent, signalOut *domain.Signal) *domain.TurnCommit {
	now := time.Now()
	turnNumber := s.TurnNumber + 1

	res := e.detect.Detect(text, domain.SpeakerSeller, s.EpicPhase)

	var (
		newDyn domain.CustomerDynamics
		event  *domain.ScoreEvent
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		newDyn = e.model.Apply(s.Dynamics, classify(res))
		return nil
	})
	g.Go(func() error {
		event = e.scorer.Score(res, s.EpicPhase, turnNumber, now)
		return nil
	})
	_ = g.Wait() // both legs are pure and never error

	dialogue := s.Dialogue.Clone()
	if dialogue.CategoryCounts == nil {
		dialogue.CategoryCounts = make(map[string]int)
	}
	if res.Detected != nil {
		if node, ok := e.catalog.Get(*res.Detected); ok {
			dialogue.CategoryCounts[node.Category]++
		}
		dialogue.LastDetected = res.Detected
	}
	dialogue.AwaitingReply = true

	advanced := e.machine.Advance(phase.Input{
		EpicPhase:  s.EpicPhase,
		Phase:      s.Phase,
		Milestones: s.Milestones,
		Dialogue:   dialogue,
		Detected:   res.Detected,
		Dynamics:   newDyn,
	})

	signal := e.model.Signal(newDyn)
	dialogue.LastSignal = signal

	*resOut = res
	*eventOut = event
	*signalOut = signal

	return &domain.TurnCommit{
		SessionID:       s.ID,
		ExpectedVersion: s.Version,
		TurnNumber:      turnNumber,
		Line:            domain.Turn{Speaker: domain.SpeakerSeller, Text: text, Timestamp: now},
		Event:           event,
		Dynamics:        newDyn,
		Attitude:        e.model.Attitude(newDyn),
		Phase:           advanced.Phase,
		EpicPhase:       advanced.EpicPhase,
		Milestones:      advanced.Milestones,
		Dialogue:        dialogue,
	}
}

// generateReply asks the external collaborator for the customer's next
// line, under the configured timeout.
func (e *Engine) generateReply(ctx context.Context, s *domain.Session, signal domain.Signal) (string, bool) {
	genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	tail := s.History
	if e.cfg.HistoryTail > 0 && len(tail) > e.cfg.HistoryTail {
		tail = tail[len(tail)-e.cfg.HistoryTail:]
	}

	reply, err := e.generator.NextCustomerLine(genCtx, generation.Request{
		SessionID: s.ID,
		Persona:   s.Persona,
		Signal:    signal,
		Dynamics:  s.Dynamics,
		Phase:     s.Phase,
		EpicPhase: s.EpicPhase,
		History:   tail,
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", s.ID.String()).Msg("customer line generation failed, using fallback")
		return generation.Fallback(s.EpicPhase, signal), true
	}

	return reply, false
}

// commitCustomerTurn appends the customer's line as its own committed
// turn. No detection, no scoring, no dynamics movement: the customer's
// disposition only changes in response to seller behaviour.
func (e *Engine) commitCustomerTurn(ctx context.Context, s *domain.Session, reply string) (*domain.Session, error) {
	dialogue := s.Dialogue.Clone()
	dialogue.AwaitingReply = false

	return e.sessions.CommitTurn(ctx, &domain.TurnCommit{
		SessionID:       s.ID,
		ExpectedVersion: s.Version,
		TurnNumber:      s.TurnNumber + 1,
		Line:            domain.Turn{Speaker: domain.SpeakerCustomer, Text: reply, Timestamp: time.Now()},
		Dynamics:        s.Dynamics,
		Attitude:        s.CurrentAttitude,
		Phase:           s.Phase,
		EpicPhase:       s.EpicPhase,
		Milestones:      s.Milestones,
		Dialogue:        dialogue,
	})
}

func classify(res detector.Result) dynamics.Outcome {
	switch {
	case res.Detected == nil:
		return dynamics.OutcomeNone
	case *res.Detected == res.Expected:
		return dynamics.OutcomeExpected
	default:
		return dynamics.OutcomeUnexpected
	}
}

func (e *Engine) debugBase(s *domain.Session, role domain.Speaker) domain.TurnDebugBase {
	return domain.TurnDebugBase{
		Role:      role,
		Persona:   s.Persona,
		Context:   s.Context,
		Phase:     s.Phase,
		EpicPhase: s.EpicPhase,
		Rapport: domain.DynamicsBucket{
			Value: s.Dynamics.Rapport, Bucket: e.model.Bucket(s.Dynamics.Rapport),
		},
		ValueTension: domain.DynamicsBucket{
			Value: s.Dynamics.ValueTension, Bucket: e.model.Bucket(s.Dynamics.ValueTension),
		},
		CommitReadiness: domain.DynamicsBucket{
			Value: s.Dynamics.CommitReadiness, Bucket: e.model.Bucket(s.Dynamics.CommitReadiness),
		},
	}
}

func (e *Engine) buildSellerDebug(s *domain.Session, res detector.Result, event *domain.ScoreEvent) *domain.SellerTurnDebug {
	evaluation := "geen techniek herkend"
	delta := 0
	if event != nil {
		evaluation = event.Reason
		delta = event.Delta
	}

	return &domain.SellerTurnDebug{
		TurnDebugBase:     e.debugBase(s, domain.SpeakerSeller),
		DetectedTechnique: res.Detected,
		ExpectedTechnique: res.Expected,
		Confidence:        res.Confidence,
		Evaluation:        evaluation,
		ScoreDelta:        delta,
		Milestones:        s.Milestones,
	}
}

func (e *Engine) buildCustomerDebug(s *domain.Session, signal domain.Signal, fallback bool) *domain.CustomerTurnDebug {
	return &domain.CustomerTurnDebug{
		TurnDebugBase: e.debugBase(s, domain.SpeakerCustomer),
		Signal:        signal,
		Attitude:      s.CurrentAttitude,
		Fallback:      fallback,
	}
}

// TurnEvent is the payload published to the session channel for the admin
// live view.
type TurnEvent struct {
	Type       string                    `json:"type"`
	SessionID  uuid.UUID                 `json:"sessionId"`
	TurnNumber int                       `json:"turnNumber"`
	TotalScore int                       `json:"totalScore"`
	Seller     *domain.SellerTurnDebug   `json:"seller,omitempty"`
	Customer   *domain.CustomerTurnDebug `json:"customer,omitempty"`
	Timestamp  time.Time                 `json:"timestamp"`
}

func (e *Engine) publishTurn(sessionID uuid.UUID, seller *domain.SellerTurnDebug, customer *domain.CustomerTurnDebug) {
	if e.pubsub == nil {
		return
	}
	select {
	case <-e.done:
		return
	default:
	}

	s, err := e.sessions.GetByID(context.Background(), sessionID)
	if err != nil {
		return
	}

	payload, err := json.Marshal(TurnEvent{
		Type:       "turn",
		SessionID:  sessionID,
		TurnNumber: s.TurnNumber,
		TotalScore: s.TotalScore,
		Seller:     seller,
		Customer:   customer,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if pubErr := e.pubsub.Publish(ctx, "session:"+sessionID.String(), payload); pubErr != nil {
		log.Error().Err(pubErr).Str("session_id", sessionID.String()).Msg("failed to publish turn event")
	}
}
