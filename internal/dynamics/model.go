package dynamics

import (
	"github.com/epicsales/coach/internal/domain"
)

// Outcome classifies one seller turn from the detector's point of view.
type Outcome int

const (
	// OutcomeExpected: the detected technique matches the phase-expected one.
	OutcomeExpected Outcome = iota
	// OutcomeUnexpected: a technique was detected but not the expected one.
	OutcomeUnexpected
	// OutcomeNone: no technique detected.
	OutcomeNone
)

// Config holds the tunable update rules. Thresholds are configuration, not
// hardcoded policy.
type Config struct {
	StepHit    int // scalar movement on an expected hit
	StepMiss   int // scalar movement on a missed turn
	MaxStep    int // hard cap on any single-turn movement
	SignalHigh int // disposition >= SignalHigh -> positief
	SignalLow  int // disposition < SignalLow -> negatief
}

func DefaultConfig() Config {
	return Config{
		StepHit:    8,
		StepMiss:   6,
		MaxStep:    12,
		SignalHigh: 60,
		SignalLow:  40,
	}
}

// Model maintains the customer disposition scalars. Pure: Apply returns a
// new value and never mutates shared state, so the engine can run it
// concurrently with the scoring leg.
type Model struct {
	cfg Config
}

func NewModel(cfg Config) *Model {
	return &Model{cfg: cfg}
}

// Initial derives the starting scalars from the persona difficulty.
func (m *Model) Initial(p domain.Persona) domain.CustomerDynamics {
	switch p.Difficulty {
	case domain.DifficultyExpert:
		return domain.CustomerDynamics{Rapport: 30, ValueTension: 70, CommitReadiness: 10}
	case domain.DifficultyGevorderd:
		return domain.CustomerDynamics{Rapport: 40, ValueTension: 60, CommitReadiness: 20}
	default:
		return domain.CustomerDynamics{Rapport: 50, ValueTension: 50, CommitReadiness: 30}
	}
}

// Apply updates the scalars for one turn outcome. An expected hit moves
// rapport and commit readiness up and value tension down; a missed or
// incorrect turn moves them the opposite way. No single turn can move a
// scalar more than the configured cap.
func (m *Model) Apply(d domain.CustomerDynamics, outcome Outcome) domain.CustomerDynamics {
	var step int
	switch outcome {
	case OutcomeExpected:
		step = m.cfg.StepHit
	case OutcomeUnexpected:
		// Off-script but still working: half the miss penalty.
		step = -(m.cfg.StepMiss / 2)
	case OutcomeNone:
		step = -m.cfg.StepMiss
	}
	step = capStep(step, m.cfg.MaxStep)

	return domain.CustomerDynamics{
		Rapport:         clamp(d.Rapport + step),
		ValueTension:    clamp(d.ValueTension - step),
		CommitReadiness: clamp(d.CommitReadiness + step),
	}
}

// Disposition collapses the three scalars into one 0-100 figure used for
// the categorical signal.
func Disposition(d domain.CustomerDynamics) int {
	return (d.Rapport + d.CommitReadiness + (100 - d.ValueTension)) / 3
}

// Signal thresholds the post-update scalars into the categorical customer
// signal handed to the text-generation collaborator.
func (m *Model) Signal(d domain.CustomerDynamics) domain.Signal {
	disp := Disposition(d)
	switch {
	case disp >= m.cfg.SignalHigh:
		return domain.SignalPositief
	case disp < m.cfg.SignalLow:
		return domain.SignalNegatief
	default:
		return domain.SignalNeutraal
	}
}

// Attitude is the derived session label shown in the admin views.
func (m *Model) Attitude(d domain.CustomerDynamics) domain.Attitude {
	switch m.Signal(d) {
	case domain.SignalPositief:
		return domain.AttitudePositive
	case domain.SignalNegatief:
		return domain.AttitudeNegative
	default:
		return domain.AttitudeNeutral
	}
}

// Bucket labels a single scalar for the debug payload.
func (m *Model) Bucket(v int) string {
	switch {
	case v >= m.cfg.SignalHigh:
		return "hoog"
	case v < m.cfg.SignalLow:
		return "laag"
	default:
		return "neutraal"
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func capStep(step, max int) int {
	if max <= 0 {
		return step
	}
	if step > max {
		return max
	}
	if step < -max {
		return -max
	}
	return step
}
