package dynamics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epicsales/coach/internal/domain"
	"github.com/epicsales/coach/internal/dynamics"
)

// ---------------------------------------------------------------------------
// TestInitial
// ---------------------------------------------------------------------------

func TestInitial(t *testing.T) {
	t.Parallel()

	m := dynamics.NewModel(dynamics.DefaultConfig())

	tests := []struct {
		name       string
		difficulty domain.Difficulty
		want       domain.CustomerDynamics
	}{
		{"beginner", domain.DifficultyBeginner, domain.CustomerDynamics{Rapport: 50, ValueTension: 50, CommitReadiness: 30}},
		{"gevorderd", domain.DifficultyGevorderd, domain.CustomerDynamics{Rapport: 40, ValueTension: 60, CommitReadiness: 20}},
		{"expert", domain.DifficultyExpert, domain.CustomerDynamics{Rapport: 30, ValueTension: 70, CommitReadiness: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := m.Initial(domain.Persona{Difficulty: tt.difficulty})
			assert.Equal(t, tt.want, got)
			assert.True(t, got.InRange())
		})
	}
}

// ---------------------------------------------------------------------------
// TestApply
// ---------------------------------------------------------------------------

func TestApply(t *testing.T) {
	t.Parallel()

	m := dynamics.NewModel(dynamics.DefaultConfig())
	start := domain.CustomerDynamics{Rapport: 50, ValueTension: 50, CommitReadiness: 30}

	t.Run("expected_hit_moves_toward_buying", func(t *testing.T) {
		t.Parallel()

		got := m.Apply(start, dynamics.OutcomeExpected)
		assert.Equal(t, 58, got.Rapport)
		assert.Equal(t, 42, got.ValueTension)
		assert.Equal(t, 38, got.CommitReadiness)
	})

	t.Run("miss_moves_away", func(t *testing.T) {
		t.Parallel()

		got := m.Apply(start, dynamics.OutcomeNone)
		assert.Equal(t, 44, got.Rapport)
		assert.Equal(t, 56, got.ValueTension)
		assert.Equal(t, 24, got.CommitReadiness)
	})

	t.Run("unexpected_costs_half_a_miss", func(t *testing.T) {
		t.Parallel()

		got := m.Apply(start, dynamics.OutcomeUnexpected)
		assert.Equal(t, 47, got.Rapport)
		assert.Equal(t, 53, got.ValueTension)
	})

	t.Run("single_turn_step_is_capped", func(t *testing.T) {
		t.Parallel()

		capped := dynamics.NewModel(dynamics.Config{StepHit: 40, StepMiss: 6, MaxStep: 12, SignalHigh: 60, SignalLow: 40})
		got := capped.Apply(start, dynamics.OutcomeExpected)
		assert.Equal(t, 62, got.Rapport, "movement must not exceed the per-turn cap")
	})

	t.Run("clamped_at_bounds", func(t *testing.T) {
		t.Parallel()

		low := domain.CustomerDynamics{Rapport: 2, ValueTension: 98, CommitReadiness: 0}
		got := m.Apply(low, dynamics.OutcomeNone)
		assert.Equal(t, 0, got.Rapport)
		assert.Equal(t, 100, got.ValueTension)
		assert.Equal(t, 0, got.CommitReadiness)
		assert.True(t, got.InRange())
	})
}

// ---------------------------------------------------------------------------
// TestSignal
// ---------------------------------------------------------------------------

func TestSignal(t *testing.T) {
	t.Parallel()

	m := dynamics.NewModel(dynamics.DefaultConfig())

	tests := []struct {
		name string
		d    domain.CustomerDynamics
		want domain.Signal
	}{
		{"positive", domain.CustomerDynamics{Rapport: 80, ValueTension: 20, CommitReadiness: 70}, domain.SignalPositief},
		{"neutral", domain.CustomerDynamics{Rapport: 50, ValueTension: 50, CommitReadiness: 50}, domain.SignalNeutraal},
		{"negative", domain.CustomerDynamics{Rapport: 20, ValueTension: 80, CommitReadiness: 10}, domain.SignalNegatief},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, m.Signal(tt.d))
		})
	}
}

// A beginner persona answered with three expected techniques in a row must
// be visibly warmer than at the start.
func TestBeginnerWarmsUpAfterThreeHits(t *testing.T) {
	t.Parallel()

	m := dynamics.NewModel(dynamics.DefaultConfig())
	d := m.Initial(domain.Persona{Difficulty: domain.DifficultyBeginner})

	for i := 0; i < 3; i++ {
		d = m.Apply(d, dynamics.OutcomeExpected)
	}

	assert.Greater(t, d.Rapport, 70)
	assert.Less(t, d.ValueTension, 30)
	assert.Equal(t, domain.SignalPositief, m.Signal(d))
	assert.Equal(t, domain.AttitudePositive, m.Attitude(d))
}

func TestBucket(t *testing.T) {
	t.Parallel()

	m := dynamics.NewModel(dynamics.DefaultConfig())
	assert.Equal(t, "hoog", m.Bucket(60))
	assert.Equal(t, "neutraal", m.Bucket(45))
	assert.Equal(t, "laag", m.Bucket(39))
}
