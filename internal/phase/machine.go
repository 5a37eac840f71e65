package phase

import (
	"github.com/epicsales/coach/internal/catalog"
	"github.com/epicsales/coach/internal/domain"
)

// Config holds the transition thresholds for both phase axes.
type Config struct {
	// ProbeMinSeeking is the number of factual/opinion-seeking detections
	// required before explore may hand over to probe.
	ProbeMinSeeking int
	// CommitReadyThreshold is the commit-readiness scalar the dynamics
	// model must cross before impact may hand over to commit.
	CommitReadyThreshold int
	// NumericThresholds are cumulative detection counts advancing the
	// numeric scenario phase to 1..4. The numeric axis moves on its own
	// thresholds and may diverge from the EPIC axis.
	NumericThresholds [4]int
}

func DefaultConfig() Config {
	return Config{
		ProbeMinSeeking:      2,
		CommitReadyThreshold: 70,
		NumericThresholds:    [4]int{1, 3, 6, 9},
	}
}

// Input is the read snapshot the machine advances from. The machine never
// mutates session state; it returns the proposed phase fields.
type Input struct {
	EpicPhase  domain.EpicPhase
	Phase      int
	Milestones domain.EpicMilestones
	Dialogue   domain.DialogueState
	Detected   *domain.TechniqueID
	Dynamics   domain.CustomerDynamics
}

// Output carries the advanced phase state for the turn commit.
type Output struct {
	EpicPhase  domain.EpicPhase
	Phase      int
	Milestones domain.EpicMilestones
}

// Machine owns the EPIC phase progression and milestone flags. It runs
// after the dynamics and scoring legs because its guards read both.
type Machine struct {
	cfg     Config
	catalog *catalog.Catalog
}

func NewMachine(cfg Config, c *catalog.Catalog) *Machine {
	return &Machine{cfg: cfg, catalog: c}
}

// Advance evaluates the guards once for the committed turn. At most one
// EPIC step and one numeric step per turn; never backward.
func (m *Machine) Advance(in Input) Output {
	out := Output{
		EpicPhase:  in.EpicPhase,
		Phase:      in.Phase,
		Milestones: in.Milestones,
	}

	category := m.detectedCategory(in.Detected)

	// Milestones are set-once; guards below only ever raise them.
	if category == catalog.CategoryImpact {
		out.Milestones.ImpactAsked = true
	}
	if in.Dynamics.CommitReadiness >= m.cfg.CommitReadyThreshold && category == catalog.CategoryClosing {
		out.Milestones.CommitReady = true
	}

	switch in.EpicPhase {
	case domain.PhaseExplore:
		if m.seekingCount(in.Dialogue) >= m.cfg.ProbeMinSeeking {
			out.EpicPhase = domain.PhaseProbe
			out.Milestones.ProbeUsed = true
		}
	case domain.PhaseProbe:
		if out.Milestones.ImpactAsked {
			out.EpicPhase = domain.PhaseImpact
		}
	case domain.PhaseImpact:
		if out.Milestones.CommitReady {
			out.EpicPhase = domain.PhaseCommit
		}
	case domain.PhaseCommit:
		// Terminal.
	}

	if next := in.Phase + 1; next <= domain.ScenarioDecision &&
		totalDetections(in.Dialogue) >= m.cfg.NumericThresholds[next-1] {
		out.Phase = next
	}

	return out
}

// ValidScenarioPhase reports whether a numeric phase target is in the
// valid set. Targets outside it are rejected and reported as HIGH
// conflicts, never applied.
func ValidScenarioPhase(target int) bool {
	return target >= domain.ScenarioPreContact && target <= domain.ScenarioDecision
}

func (m *Machine) detectedCategory(id *domain.TechniqueID) string {
	if id == nil {
		return ""
	}
	node, ok := m.catalog.Get(*id)
	if !ok {
		return ""
	}
	return node.Category
}

// seekingCount counts factual and opinion-seeking detections so far.
func (m *Machine) seekingCount(d domain.DialogueState) int {
	return d.CategoryCounts[catalog.CategoryFactual] + d.CategoryCounts[catalog.CategoryOpinion]
}

func totalDetections(d domain.DialogueState) int {
	total := 0
	for _, n := range d.CategoryCounts {
		total += n
	}
	return total
}
