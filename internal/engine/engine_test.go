package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epicsales/coach/internal/catalog"
	"github.com/epicsales/coach/internal/detector"
	"github.com/epicsales/coach/internal/domain"
	"github.com/epicsales/coach/internal/dynamics"
	"github.com/epicsales/coach/internal/engine"
	"github.com/epicsales/coach/internal/generation"
	"github.com/epicsales/coach/internal/phase"
	"github.com/epicsales/coach/internal/scoring"
	"github.com/epicsales/coach/internal/store/memory"
)

const testYAML = `
phases:
  explore:
    expected: "1.1"
    weights:
      "1.1": 60
      "1.2": 40
  probe:
    expected: "2.1"
    weights:
      "2.1": 100

techniques:
  - number: "1.1"
    phase: explore
    category: factual
    detector: kw-a
    criteria:
      - kind: keyword
        pattern: "vertel"
  - number: "1.2"
    phase: explore
    category: opinion
    detector: kw-b
    criteria:
      - kind: keyword
        pattern: "vindt"
  - number: "2.1"
    phase: probe
    category: opinion
    detector: kw-c
    criteria:
      - kind: keyword
        pattern: "waarom"
`

type failingGenerator struct{}

func (failingGenerator) NextCustomerLine(context.Context, generation.Request) (string, error) {
	return "", errors.New("generation service unavailable")
}

type failingArtifacts struct {
	domain.ArtifactRepository
}

func (failingArtifacts) Create(context.Context, *domain.SessionArtifact) error {
	return errors.New("artifact store unavailable")
}

type reporterSpy struct {
	mu       sync.Mutex
	outcomes []*domain.TechniqueID
	invalid  []string
}

func (r *reporterSpy) RecordOutcome(detected *domain.TechniqueID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, detected)
}

func (r *reporterSpy) RecordInvalidTarget(_ domain.TechniqueID, _ domain.EpicPhase, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalid = append(r.invalid, description)
}

func (r *reporterSpy) Scan(context.Context) error { return nil }

type harness struct {
	engine   *engine.Engine
	store    *memory.Store
	reporter *reporterSpy
}

func newHarness(t *testing.T, gen generation.Generator) *harness {
	return newHarnessArtifacts(t, gen, nil)
}

func newHarnessArtifacts(t *testing.T, gen generation.Generator, artifacts domain.ArtifactRepository) *harness {
	t.Helper()

	cat, err := catalog.Parse([]byte(testYAML))
	require.NoError(t, err)

	store := memory.New()
	if artifacts == nil {
		artifacts = store.Artifacts()
	}
	reporter := &reporterSpy{}
	eng := engine.New(
		store.Sessions(),
		artifacts,
		cat,
		detector.New(cat, nil),
		dynamics.NewModel(dynamics.DefaultConfig()),
		phase.NewMachine(phase.DefaultConfig(), cat),
		scoring.NewEngine(scoring.DefaultConfig(), cat),
		gen,
		reporter,
		nil,
		engine.DefaultConfig(),
	)
	t.Cleanup(eng.Shutdown)

	return &harness{engine: eng, store: store, reporter: reporter}
}

func (h *harness) createSession(t *testing.T) *domain.Session {
	t.Helper()
	s, err := h.engine.CreateSession(context.Background(), engine.CreateParams{
		UserID:      uuid.New(),
		TechniqueID: "1.1",
		Mode:        domain.ModeChat,
		Persona: domain.Persona{
			Style:       "zakelijk",
			BuyingClock: "orientatie",
			Difficulty:  domain.DifficultyBeginner,
		},
	})
	require.NoError(t, err)
	return s
}

// ---------------------------------------------------------------------------
// TestCreateSession
// ---------------------------------------------------------------------------

func TestCreateSession(t *testing.T) {
	t.Parallel()

	t.Run("initial_state", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		assert.Equal(t, domain.ScenarioPreContact, s.Phase)
		assert.Equal(t, domain.PhaseExplore, s.EpicPhase)
		assert.Equal(t, domain.CustomerDynamics{Rapport: 50, ValueTension: 50, CommitReadiness: 30}, s.Dynamics)
		assert.Equal(t, domain.AttitudeNeutral, s.CurrentAttitude)
		assert.Zero(t, s.TurnNumber)
		assert.True(t, s.IsActive)
		assert.EqualValues(t, 1, s.Version)
	})

	t.Run("unknown_technique", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		_, err := h.engine.CreateSession(context.Background(), engine.CreateParams{
			UserID:      uuid.New(),
			TechniqueID: "9.9",
		})

		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

// ---------------------------------------------------------------------------
// TestSubmitTurn
// ---------------------------------------------------------------------------

func TestSubmitTurn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("expected_technique_commits_both_lines", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		out, err := h.engine.SubmitTurn(ctx, s.ID, 1, "Vertel eens hoe uw planning nu loopt?")
		require.NoError(t, err)

		require.NotNil(t, out.Detected)
		assert.Equal(t, domain.TechniqueID("1.1"), *out.Detected)
		assert.Equal(t, domain.TechniqueID("1.1"), out.Expected)
		assert.InDelta(t, 1.0, out.Confidence, 1e-9)
		assert.Equal(t, 60, out.ScoreDelta)
		assert.False(t, out.ReplyFallback)
		assert.NotEmpty(t, out.CustomerReply)

		// Seller and generated customer line each commit on their own
		// turn number.
		s = out.Session
		assert.Equal(t, 2, s.TurnNumber)
		require.Len(t, s.History, 2)
		assert.Equal(t, domain.SpeakerSeller, s.History[0].Speaker)
		assert.Equal(t, domain.SpeakerCustomer, s.History[1].Speaker)
		assert.Equal(t, out.CustomerReply, s.History[1].Text)
		assert.False(t, s.Dialogue.AwaitingReply)

		assert.Equal(t, 60, s.TotalScore)
		assert.Equal(t, s.EventSum(), s.TotalScore)
		assert.Equal(t, domain.CustomerDynamics{Rapport: 58, ValueTension: 42, CommitReadiness: 38}, s.Dynamics)
		assert.Equal(t, domain.SignalNeutraal, out.Signal)
		assert.Equal(t, domain.ScenarioOpening, s.Phase)
		assert.Equal(t, domain.PhaseExplore, s.EpicPhase)
		assert.EqualValues(t, 3, s.Version)
	})

	t.Run("no_detection_commits_without_event", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		out, err := h.engine.SubmitTurn(ctx, s.ID, 1, "Mooi weer vandaag.")
		require.NoError(t, err)

		assert.Nil(t, out.Detected)
		assert.Zero(t, out.ScoreDelta)
		assert.Zero(t, out.Session.TotalScore)
		assert.Empty(t, out.Session.Events)
		assert.Equal(t, 2, out.Session.TurnNumber)
		// A turn without a recognised technique cools the customer down.
		assert.Equal(t, 44, out.Session.Dynamics.Rapport)
	})

	t.Run("turn_numbers_are_strict", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		_, err := h.engine.SubmitTurn(ctx, s.ID, 1, "Vertel eens.")
		require.NoError(t, err)

		// Replaying the same turn number is rejected, as is skipping ahead.
		_, err = h.engine.SubmitTurn(ctx, s.ID, 1, "Vertel eens.")
		assert.ErrorIs(t, err, domain.ErrStaleTurn)
		_, err = h.engine.SubmitTurn(ctx, s.ID, 5, "Vertel eens.")
		assert.ErrorIs(t, err, domain.ErrStaleTurn)

		out, err := h.engine.SubmitTurn(ctx, s.ID, 3, "Wat vindt u daar zelf van?")
		require.NoError(t, err)
		assert.Equal(t, 4, out.Session.TurnNumber)
	})

	t.Run("explore_advances_after_two_seeking_detections", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		_, err := h.engine.SubmitTurn(ctx, s.ID, 1, "Vertel eens over uw proces.")
		require.NoError(t, err)
		out, err := h.engine.SubmitTurn(ctx, s.ID, 3, "En wat vindt u daarvan?")
		require.NoError(t, err)

		assert.Equal(t, domain.PhaseProbe, out.Session.EpicPhase)
		assert.True(t, out.Session.Milestones.ProbeUsed)
	})

	t.Run("inactive_session_rejects_turns", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		_, err := h.engine.CompleteSession(ctx, s.ID)
		require.NoError(t, err)

		_, err = h.engine.SubmitTurn(ctx, s.ID, 1, "Vertel eens.")
		assert.ErrorIs(t, err, domain.ErrSessionInactive)
	})

	t.Run("unknown_session", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		_, err := h.engine.SubmitTurn(ctx, uuid.New(), 1, "Vertel eens.")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("generation_failure_falls_back", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, failingGenerator{})
		s := h.createSession(t)

		out, err := h.engine.SubmitTurn(ctx, s.ID, 1, "Vertel eens hoe dat gaat.")
		require.NoError(t, err)

		// The turn still commits; the customer line comes from the
		// in-phase fallback set.
		assert.True(t, out.ReplyFallback)
		assert.Equal(t, generation.Fallback(out.Session.EpicPhase, out.Signal), out.CustomerReply)
		assert.Equal(t, 2, out.Session.TurnNumber)
	})

	t.Run("detection_outcome_reaches_reporter", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		_, err := h.engine.SubmitTurn(ctx, s.ID, 1, "Vertel eens.")
		require.NoError(t, err)
		_, err = h.engine.SubmitTurn(ctx, s.ID, 3, "Mooi weer vandaag.")
		require.NoError(t, err)

		h.reporter.mu.Lock()
		defer h.reporter.mu.Unlock()
		require.Len(t, h.reporter.outcomes, 2)
		require.NotNil(t, h.reporter.outcomes[0])
		assert.Equal(t, domain.TechniqueID("1.1"), *h.reporter.outcomes[0])
		assert.Nil(t, h.reporter.outcomes[1])
	})
}

// ---------------------------------------------------------------------------
// TestAppendCustomerLine
// ---------------------------------------------------------------------------

func TestAppendCustomerLine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("commits_verbatim_without_scoring", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		out, err := h.engine.AppendCustomerLine(ctx, s.ID, 1, "Waar gaat dit over?")
		require.NoError(t, err)

		assert.Equal(t, 1, out.TurnNumber)
		require.Len(t, out.History, 1)
		assert.Equal(t, domain.SpeakerCustomer, out.History[0].Speaker)
		assert.Equal(t, "Waar gaat dit over?", out.History[0].Text)
		assert.Empty(t, out.Events)
		assert.Equal(t, s.Dynamics, out.Dynamics)
	})

	t.Run("turn_number_still_strict", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		_, err := h.engine.AppendCustomerLine(ctx, s.ID, 4, "Waar gaat dit over?")
		assert.ErrorIs(t, err, domain.ErrStaleTurn)
	})
}

// ---------------------------------------------------------------------------
// TestCompleteSession
// ---------------------------------------------------------------------------

func TestCompleteSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("saves_transcript_and_deactivates", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		_, err := h.engine.SubmitTurn(ctx, s.ID, 1, "Vertel eens.")
		require.NoError(t, err)

		artifact, err := h.engine.CompleteSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, "transcript", artifact.ArtifactType)
		assert.Equal(t, s.ID, artifact.SessionID)
		assert.Equal(t, 60, artifact.Content["totalScore"])

		stored, err := h.engine.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsActive)

		artifacts, err := h.engine.ListArtifacts(ctx, s.ID)
		require.NoError(t, err)
		assert.Len(t, artifacts, 1)
	})

	t.Run("already_completed", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		_, err := h.engine.CompleteSession(ctx, s.ID)
		require.NoError(t, err)
		_, err = h.engine.CompleteSession(ctx, s.ID)
		assert.ErrorIs(t, err, domain.ErrSessionInactive)
	})

	t.Run("artifact_failure_never_duplicates_transcripts", func(t *testing.T) {
		t.Parallel()

		h := newHarnessArtifacts(t, generation.StaticGenerator{}, failingArtifacts{})
		s := h.createSession(t)

		// The session closes before the artifact write, so a retry after
		// the failure cannot save a second transcript.
		_, err := h.engine.CompleteSession(ctx, s.ID)
		require.Error(t, err)

		stored, err := h.engine.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.False(t, stored.IsActive)

		_, err = h.engine.CompleteSession(ctx, s.ID)
		assert.ErrorIs(t, err, domain.ErrSessionInactive)
	})
}

// ---------------------------------------------------------------------------
// TestOverride
// ---------------------------------------------------------------------------

func TestOverride(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("moves_phase_backward_with_event", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		_, err := h.engine.SubmitTurn(ctx, s.ID, 1, "Vertel eens.")
		require.NoError(t, err)
		_, err = h.engine.SubmitTurn(ctx, s.ID, 3, "Wat vindt u ervan?")
		require.NoError(t, err)

		target := domain.PhaseExplore
		out, err := h.engine.Override(ctx, s.ID, engine.OverrideParams{
			EpicPhase: &target,
			Reason:    "trainee asked to redo the exploration",
			Actor:     "trainer-42",
		})
		require.NoError(t, err)

		assert.Equal(t, domain.PhaseExplore, out.EpicPhase)
		last := out.Events[len(out.Events)-1]
		assert.Equal(t, domain.EventOverride, last.Type)
		assert.Equal(t, "trainer-42", last.Actor)
		assert.Zero(t, last.Delta)
		assert.Equal(t, out.EventSum(), out.TotalScore)
	})

	t.Run("invalid_epic_target_rejected_and_reported", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		target := domain.EpicPhase("afronden")
		_, err := h.engine.Override(ctx, s.ID, engine.OverrideParams{
			EpicPhase: &target,
			Actor:     "trainer-42",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		// The session is untouched.
		stored, err := h.engine.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseExplore, stored.EpicPhase)
		assert.EqualValues(t, 1, stored.Version)

		h.reporter.mu.Lock()
		defer h.reporter.mu.Unlock()
		require.Len(t, h.reporter.invalid, 1)
		assert.Contains(t, h.reporter.invalid[0], "afronden")
	})

	t.Run("invalid_numeric_target_rejected", func(t *testing.T) {
		t.Parallel()

		h := newHarness(t, generation.StaticGenerator{})
		s := h.createSession(t)

		target := 9
		_, err := h.engine.Override(ctx, s.ID, engine.OverrideParams{
			Phase: &target,
			Actor: "trainer-42",
		})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

// ---------------------------------------------------------------------------
// TestCorrect
// ---------------------------------------------------------------------------

func TestCorrect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	h := newHarness(t, generation.StaticGenerator{})
	s := h.createSession(t)

	_, err := h.engine.SubmitTurn(ctx, s.ID, 1, "Vertel eens.")
	require.NoError(t, err)

	id := domain.TechniqueID("1.2")
	out, err := h.engine.Correct(ctx, s.ID, -10, &id, "pattern fired on small talk", "admin-7")
	require.NoError(t, err)

	assert.Equal(t, 50, out.TotalScore)
	assert.Equal(t, out.EventSum(), out.TotalScore)
	last := out.Events[len(out.Events)-1]
	assert.Equal(t, domain.EventCorrection, last.Type)
	assert.Equal(t, -10, last.Delta)
	assert.Equal(t, "admin-7", last.Actor)
	require.NotNil(t, last.TechniqueID)
	assert.Equal(t, id, *last.TechniqueID)
}
