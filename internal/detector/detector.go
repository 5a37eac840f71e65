package detector

import (
	"sort"

	"github.com/epicsales/coach/internal/catalog"
	"github.com/epicsales/coach/internal/domain"
)

// Result is the outcome of matching one utterance.
type Result struct {
	Detected   *domain.TechniqueID
	Confidence float64
	Expected   domain.TechniqueID
}

// GapRecorder receives techniques that are reachable in the current phase
// but carry no detection criteria. Gaps are advisory and never interrupt
// the turn; the conflict reporter turns them into reviewable records.
type GapRecorder interface {
	RecordGap(technique domain.TechniqueID, phase domain.EpicPhase)
}

// Detector matches seller utterances against the technique catalog.
// Stateless and safe for concurrent use.
type Detector struct {
	catalog *catalog.Catalog
	gaps    GapRecorder // may be nil
}

func New(c *catalog.Catalog, gaps GapRecorder) *Detector {
	return &Detector{catalog: c, gaps: gaps}
}

type candidate struct {
	node       *catalog.Node
	confidence float64
	inPhase    bool
}

// Detect returns zero-or-one detected technique for the utterance, with the
// phase-appropriate expected technique. Deterministic: identical text,
// phase, and catalog state always return the identical result.
func (d *Detector) Detect(text string, speaker domain.Speaker, epicPhase domain.EpicPhase) Result {
	expected := d.catalog.Expected(epicPhase)
	res := Result{Expected: expected}

	// Only seller behaviour is catalogued; customer turns carry no
	// technique detection.
	if speaker != domain.SpeakerSeller {
		return res
	}

	d.reportGaps(epicPhase)

	normalized := catalog.Normalize(text)
	if normalized == "" {
		return res
	}

	var candidates []candidate
	for _, node := range d.catalog.Nodes() {
		conf := score(node, normalized)
		if conf <= 0 {
			continue
		}
		candidates = append(candidates, candidate{
			node:       node,
			confidence: conf,
			inPhase:    node.Phase == epicPhase,
		})
	}
	if len(candidates) == 0 {
		return res
	}

	// Tie-break policy: in-phase beats out-of-phase, then the more
	// specific (deeper) catalog node, then higher confidence, then the
	// phase-expected technique, then lowest number for stability. Depth
	// before confidence: when a parent and its child both fire, the child
	// names what the seller did more precisely even if it matched a
	// smaller fraction of its criteria.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.inPhase != b.inPhase {
			return a.inPhase
		}
		if a.node.Depth != b.node.Depth {
			return a.node.Depth > b.node.Depth
		}
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		aExp, bExp := a.node.Number == expected, b.node.Number == expected
		if aExp != bExp {
			return aExp
		}
		return a.node.Number < b.node.Number
	})

	winner := candidates[0]
	id := winner.node.Number
	res.Detected = &id
	res.Confidence = winner.confidence
	return res
}

// score returns the matched weight fraction in [0,1], or 0 when nothing
// matched or the node has no usable criteria.
func score(node *catalog.Node, normalized string) float64 {
	if !node.HasDetector() {
		return 0
	}
	total, matched := 0, 0
	for i := range node.Criteria {
		cr := &node.Criteria[i]
		total += cr.Weight
		if cr.Matches(normalized) {
			matched += cr.Weight
		}
	}
	if matched == 0 || total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

// reportGaps surfaces in-phase catalog entries without any detection
// criteria. Degrades to "no match" rather than failing the turn.
func (d *Detector) reportGaps(epicPhase domain.EpicPhase) {
	if d.gaps == nil {
		return
	}
	for _, node := range d.catalog.ByPhase(epicPhase) {
		if !node.HasDetector() {
			d.gaps.RecordGap(node.Number, epicPhase)
		}
	}
}
