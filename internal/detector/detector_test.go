package detector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epicsales/coach/internal/catalog"
	"github.com/epicsales/coach/internal/detector"
	"github.com/epicsales/coach/internal/domain"
)

const testYAML = `
phases:
  explore:
    expected: "1.1"
    weights:
      "1.1": 50
      "1.2": 50
  probe:
    expected: "2.1"
    weights:
      "2.1": 100

techniques:
  - number: "1.1"
    name: "Open vraag"
    phase: explore
    category: factual
    detector: kw-open
    criteria:
      - kind: keyword
        pattern: "vertel"
        weight: 2
  - number: "1.2"
    name: "Actief luisteren"
    phase: explore
    category: rapport
    detector: kw-luisteren
    criteria:
      - kind: phrase
        pattern: "als ik u goed begrijp"
        weight: 3
  - number: "2.1"
    name: "Doorvragen"
    phase: probe
    category: opinion
    detector: kw-door
    criteria:
      - kind: phrase
        pattern: "hoe bedoelt u"
        weight: 2
  - number: "2.1.1"
    parent: "2.1"
    name: "Verdiepingsvraag"
    phase: probe
    category: opinion
    detector: kw-verdieping
    criteria:
      - kind: phrase
        pattern: "hoe bedoelt u"
        weight: 2
      - kind: phrase
        pattern: "waar komt dat door"
        weight: 2
  - number: "2.9"
    name: "Zonder patroon"
    phase: probe
    category: opinion
    detector: kw-leeg
`

type gapSpy struct {
	gaps []domain.TechniqueID
}

func (g *gapSpy) RecordGap(technique domain.TechniqueID, _ domain.EpicPhase) {
	g.gaps = append(g.gaps, technique)
}

func mustCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(testYAML))
	require.NoError(t, err)
	return c
}

// ---------------------------------------------------------------------------
// TestDetect
// ---------------------------------------------------------------------------

func TestDetect(t *testing.T) {
	t.Parallel()

	t.Run("simple_match", func(t *testing.T) {
		t.Parallel()

		d := detector.New(mustCatalog(t), nil)
		res := d.Detect("Vertel eens over uw bedrijf", domain.SpeakerSeller, domain.PhaseExplore)

		require.NotNil(t, res.Detected)
		assert.Equal(t, domain.TechniqueID("1.1"), *res.Detected)
		assert.Equal(t, domain.TechniqueID("1.1"), res.Expected)
		assert.Equal(t, 1.0, res.Confidence)
	})

	t.Run("no_match", func(t *testing.T) {
		t.Parallel()

		d := detector.New(mustCatalog(t), nil)
		res := d.Detect("Goedemorgen", domain.SpeakerSeller, domain.PhaseExplore)

		assert.Nil(t, res.Detected)
		assert.Equal(t, domain.TechniqueID("1.1"), res.Expected, "expected technique is phase-derived, not match-derived")
	})

	t.Run("customer_speaker_never_detects", func(t *testing.T) {
		t.Parallel()

		d := detector.New(mustCatalog(t), nil)
		res := d.Detect("Vertel eens", domain.SpeakerCustomer, domain.PhaseExplore)

		assert.Nil(t, res.Detected)
	})

	t.Run("out_of_phase_still_detects", func(t *testing.T) {
		t.Parallel()

		// An explore technique used during probe is detected; effort
		// credit is the scorer's concern.
		d := detector.New(mustCatalog(t), nil)
		res := d.Detect("Vertel eens over uw bedrijf", domain.SpeakerSeller, domain.PhaseProbe)

		require.NotNil(t, res.Detected)
		assert.Equal(t, domain.TechniqueID("1.1"), *res.Detected)
		assert.Equal(t, domain.TechniqueID("2.1"), res.Expected)
	})

	t.Run("deeper_node_wins_over_parent", func(t *testing.T) {
		t.Parallel()

		// "2.1" and "2.1.1" share a pattern, and the parent matches all
		// of its criteria while the child matches half. The more specific
		// node still wins, and the result is stable across calls.
		d := detector.New(mustCatalog(t), nil)
		for i := 0; i < 10; i++ {
			res := d.Detect("Hoe bedoelt u dat precies?", domain.SpeakerSeller, domain.PhaseProbe)
			require.NotNil(t, res.Detected)
			assert.Equal(t, domain.TechniqueID("2.1.1"), *res.Detected)
			assert.InDelta(t, 0.5, res.Confidence, 1e-9)
		}
	})

	t.Run("gap_reported_for_empty_in_phase_node", func(t *testing.T) {
		t.Parallel()

		spy := &gapSpy{}
		d := detector.New(mustCatalog(t), spy)
		d.Detect("Hoe bedoelt u dat?", domain.SpeakerSeller, domain.PhaseProbe)

		assert.Contains(t, spy.gaps, domain.TechniqueID("2.9"))
		assert.NotContains(t, spy.gaps, domain.TechniqueID("2.1"))
	})

	t.Run("partial_match_fractional_confidence", func(t *testing.T) {
		t.Parallel()

		yaml := `
phases:
  explore:
    expected: "1.1"
    weights:
      "1.1": 100
techniques:
  - number: "1.1"
    phase: explore
    category: factual
    detector: kw-mix
    criteria:
      - kind: keyword
        pattern: "vertel"
        weight: 3
      - kind: keyword
        pattern: "hoeveel"
        weight: 1
`
		c, err := catalog.Parse([]byte(yaml))
		require.NoError(t, err)

		d := detector.New(c, nil)
		res := d.Detect("Vertel eens", domain.SpeakerSeller, domain.PhaseExplore)

		require.NotNil(t, res.Detected)
		assert.InDelta(t, 0.75, res.Confidence, 1e-9)
	})
}
