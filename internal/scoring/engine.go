package scoring

import (
	"time"

	"github.com/epicsales/coach/internal/catalog"
	"github.com/epicsales/coach/internal/detector"
	"github.com/epicsales/coach/internal/domain"
)

// Config holds the scoring tunables.
type Config struct {
	// EffortDivisor shrinks the credit for a detected-but-unexpected
	// technique: delta = weight / EffortDivisor, minimum 1.
	EffortDivisor int
}

func DefaultConfig() Config {
	return Config{EffortDivisor: 4}
}

// Engine converts detector output into turn score deltas. Pure function of
// the detection snapshot, so the engine can run it concurrently with the
// dynamics leg.
type Engine struct {
	cfg     Config
	catalog *catalog.Catalog
}

func NewEngine(cfg Config, c *catalog.Catalog) *Engine {
	return &Engine{cfg: cfg, catalog: c}
}

// Score returns the event to append for one seller turn, or nil when no
// technique was detected. An expected match earns the full phase weight;
// any other detection earns effort credit.
func (e *Engine) Score(res detector.Result, epicPhase domain.EpicPhase, turnNumber int, now time.Time) *domain.ScoreEvent {
	if res.Detected == nil {
		return nil
	}

	weight := e.weight(epicPhase, *res.Detected)
	delta := weight
	reason := "expected technique"
	if *res.Detected != res.Expected {
		delta = weight / e.cfg.EffortDivisor
		if delta < 1 {
			delta = 1
		}
		reason = "effort credit"
	}

	id := *res.Detected
	return &domain.ScoreEvent{
		TurnNumber:  turnNumber,
		Type:        domain.EventTechnique,
		TechniqueID: &id,
		Delta:       delta,
		Reason:      reason,
		CreatedAt:   now,
	}
}

// weight resolves the phase weight table entry, falling back to the raw
// per-technique points when the phase table has no entry for it. A weight
// table that does not sum correctly is the reporter's concern, not a
// reason to halt scoring.
func (e *Engine) weight(epicPhase domain.EpicPhase, id domain.TechniqueID) int {
	if w, ok := e.catalog.Weight(epicPhase, id); ok {
		return w
	}
	if node, ok := e.catalog.Get(id); ok && node.Points > 0 {
		return node.Points
	}
	return 1
}
