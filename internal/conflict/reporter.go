package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/epicsales/coach/internal/catalog"
	"github.com/epicsales/coach/internal/domain"
)

// Config holds the reporter thresholds.
type Config struct {
	// ExpectedWeightSum is what a phase's scoring weights must add up to.
	ExpectedWeightSum int
	// BroadPatternMinTurns is the number of observed seller turns before
	// fire rates are considered meaningful.
	BroadPatternMinTurns int
	// BroadPatternWarnRate and BroadPatternHighRate are the fire-rate
	// fractions at which a pattern is flagged MEDIUM or HIGH.
	BroadPatternWarnRate float64
	BroadPatternHighRate float64
}

func DefaultConfig() Config {
	return Config{
		ExpectedWeightSum:    100,
		BroadPatternMinTurns: 50,
		BroadPatternWarnRate: 0.40,
		BroadPatternHighRate: 0.60,
	}
}

type gapKey struct {
	technique domain.TechniqueID
	phase     domain.EpicPhase
}

// Publisher abstracts the pub/sub publish operation for the reviewer
// dashboard stream.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Reporter detects structural problems in the catalog/detector
// configuration and emits reviewable conflict records. It runs off the
// live turn path: detection gaps and match outcomes are queued here and
// drained by Scan, on a schedule or after commits. Advisory only.
type Reporter struct {
	cfg       Config
	catalog   *catalog.Catalog
	conflicts domain.ConflictRepository
	publisher Publisher // may be nil
	channel   string

	mu      sync.Mutex
	turns   int
	fires   map[domain.TechniqueID]int
	gaps    map[gapKey]struct{}
	invalid map[gapKey]string
}

func NewReporter(cfg Config, c *catalog.Catalog, conflicts domain.ConflictRepository, publisher Publisher, channel string) *Reporter {
	return &Reporter{
		cfg:       cfg,
		catalog:   c,
		conflicts: conflicts,
		publisher: publisher,
		channel:   channel,
		fires:     make(map[domain.TechniqueID]int),
		gaps:      make(map[gapKey]struct{}),
		invalid:   make(map[gapKey]string),
	}
}

// RecordGap implements detector.GapRecorder. Called on the turn path, so
// it only queues; Scan does the repository work.
func (r *Reporter) RecordGap(technique domain.TechniqueID, phase domain.EpicPhase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gaps[gapKey{technique: technique, phase: phase}] = struct{}{}
}

// RecordInvalidTarget queues a rejected administrative phase target for
// the next Scan. The rejected transition itself was never applied.
func (r *Reporter) RecordInvalidTarget(technique domain.TechniqueID, phase domain.EpicPhase, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalid[gapKey{technique: technique, phase: phase}] = description
}

// RecordOutcome feeds one seller-turn detection outcome into the fire-rate
// statistics behind the broad-pattern check.
func (r *Reporter) RecordOutcome(detected *domain.TechniqueID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns++
	if detected != nil {
		r.fires[*detected]++
	}
}

// Run executes Scan on the configured interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Scan(ctx); err != nil {
				log.Error().Err(err).Msg("conflict scan failed")
			}
		}
	}
}

// Scan runs all checks over the catalog configuration and the accumulated
// match outcomes, emitting each distinct conflict exactly once while an
// open record exists.
func (r *Reporter) Scan(ctx context.Context) error {
	if err := r.scanStatic(ctx); err != nil {
		return fmt.Errorf("conflict.Reporter.Scan: %w", err)
	}
	if err := r.scanGaps(ctx); err != nil {
		return fmt.Errorf("conflict.Reporter.Scan: %w", err)
	}
	if err := r.scanInvalidTargets(ctx); err != nil {
		return fmt.Errorf("conflict.Reporter.Scan: %w", err)
	}
	if err := r.scanBroadPatterns(ctx); err != nil {
		return fmt.Errorf("conflict.Reporter.Scan: %w", err)
	}
	return nil
}

// scanStatic covers the checks that need no runtime history: missing
// detectors, invalid phase targets, and weight sums.
func (r *Reporter) scanStatic(ctx context.Context) error {
	for _, node := range r.catalog.Nodes() {
		if node.Phase.Ord() < 0 {
			err := r.emit(ctx, &domain.TechniqueConfigConflict{
				TechniqueNumber: node.Number,
				ConflictType:    domain.ConflictInvalidPhaseTarget,
				Severity:        domain.SeverityHigh,
				Phase:           node.Phase,
				Description:     fmt.Sprintf("technique %s targets phase %q, which is not in the valid phase set", node.Number, node.Phase),
			})
			if err != nil {
				return err
			}
			continue
		}
		if !node.HasDetector() {
			err := r.emit(ctx, &domain.TechniqueConfigConflict{
				TechniqueNumber: node.Number,
				ConflictType:    domain.ConflictMissingDetector,
				Severity:        domain.SeverityHigh,
				Phase:           node.Phase,
				Description:     fmt.Sprintf("technique %s (%s) is reachable in phase %s but has no detection criteria", node.Number, node.Name, node.Phase),
			})
			if err != nil {
				return err
			}
		}
	}

	for _, phase := range r.catalog.Phases() {
		if sum := r.catalog.WeightSum(phase); sum != r.cfg.ExpectedWeightSum {
			err := r.emit(ctx, &domain.TechniqueConfigConflict{
				TechniqueNumber: r.catalog.Expected(phase),
				ConflictType:    domain.ConflictWeightSum,
				Severity:        domain.SeverityMedium,
				Phase:           phase,
				Description:     fmt.Sprintf("scoring weights for phase %s sum to %d, expected %d", phase, sum, r.cfg.ExpectedWeightSum),
			})
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *Reporter) scanGaps(ctx context.Context) error {
	r.mu.Lock()
	pending := r.gaps
	r.gaps = make(map[gapKey]struct{})
	r.mu.Unlock()

	for key := range pending {
		err := r.emit(ctx, &domain.TechniqueConfigConflict{
			TechniqueNumber: key.technique,
			ConflictType:    domain.ConflictMissingDetector,
			Severity:        domain.SeverityHigh,
			Phase:           key.phase,
			Description:     fmt.Sprintf("missing detector: technique %s was reachable in phase %s during a live turn with no pattern configured", key.technique, key.phase),
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *Reporter) scanInvalidTargets(ctx context.Context) error {
	r.mu.Lock()
	pending := r.invalid
	r.invalid = make(map[gapKey]string)
	r.mu.Unlock()

	for key, description := range pending {
		err := r.emit(ctx, &domain.TechniqueConfigConflict{
			TechniqueNumber: key.technique,
			ConflictType:    domain.ConflictInvalidPhaseTarget,
			Severity:        domain.SeverityHigh,
			Phase:           key.phase,
			Description:     description,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *Reporter) scanBroadPatterns(ctx context.Context) error {
	r.mu.Lock()
	turns := r.turns
	fires := make(map[domain.TechniqueID]int, len(r.fires))
	for id, n := range r.fires {
		fires[id] = n
	}
	r.mu.Unlock()

	if turns < r.cfg.BroadPatternMinTurns {
		return nil
	}

	for id, n := range fires {
		rate := float64(n) / float64(turns)
		if rate < r.cfg.BroadPatternWarnRate {
			continue
		}
		severity := domain.SeverityMedium
		if rate >= r.cfg.BroadPatternHighRate {
			severity = domain.SeverityHigh
		}
		node, ok := r.catalog.Get(id)
		phase := domain.EpicPhase("")
		if ok {
			phase = node.Phase
		}
		err := r.emit(ctx, &domain.TechniqueConfigConflict{
			TechniqueNumber: id,
			ConflictType:    domain.ConflictBroadPattern,
			Severity:        severity,
			Phase:           phase,
			Description:     fmt.Sprintf("pattern for technique %s matched %.0f%% of %d observed turns; likely too broad", id, rate*100, turns),
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// emit creates the conflict unless a pending or approved one already
// covers the same technique/type/phase key.
func (r *Reporter) emit(ctx context.Context, c *domain.TechniqueConfigConflict) error {
	open, err := r.conflicts.HasOpen(ctx, c.TechniqueNumber, c.ConflictType, c.Phase)
	if err != nil {
		return err
	}
	if open {
		return nil
	}

	c.ID = uuid.New()
	c.Status = domain.ConflictPending
	if err := r.conflicts.Create(ctx, c); err != nil {
		return err
	}

	log.Warn().
		Str("technique", string(c.TechniqueNumber)).
		Str("type", string(c.ConflictType)).
		Str("severity", string(c.Severity)).
		Msg("config conflict emitted")

	if r.publisher != nil {
		if payload, marshalErr := json.Marshal(c); marshalErr == nil {
			if pubErr := r.publisher.Publish(ctx, r.channel, payload); pubErr != nil {
				log.Debug().Err(pubErr).Msg("conflict publish failed")
			}
		}
	}

	return nil
}
