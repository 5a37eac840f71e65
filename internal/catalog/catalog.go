package catalog

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/epicsales/coach/internal/domain"
)

// Technique categories used by the phase machine guards.
const (
	CategoryFactual = "factual"
	CategoryOpinion = "opinion"
	CategoryImpact  = "impact"
	CategoryClosing = "closing"
	CategoryRapport = "rapport"
	CategoryValue   = "value"
)

type CriterionKind string

const (
	KindKeyword CriterionKind = "keyword"
	KindPhrase  CriterionKind = "phrase"
	KindRegex   CriterionKind = "regex"
)

// Criterion is one detection predicate for a technique.
type Criterion struct {
	Kind    CriterionKind
	Pattern string
	Weight  int
	re      *regexp.Regexp // compiled when Kind is regex
}

// Node is one technique in the catalog tree. Parent/child links are built
// from the declared parent numbers, never inferred from the number string.
type Node struct {
	Number     domain.TechniqueID
	Name       string
	Phase      domain.EpicPhase
	Category   string
	DetectorID string
	Points     int
	Criteria   []Criterion
	Parent     *Node
	Children   []*Node
	Depth      int
}

// HasDetector reports whether the node has at least one usable criterion.
func (n *Node) HasDetector() bool {
	return len(n.Criteria) > 0
}

// Catalog is the static technique registry. Immutable after load and safe
// for concurrent readers.
type Catalog struct {
	nodes    map[domain.TechniqueID]*Node
	ordered  []*Node
	byPhase  map[domain.EpicPhase][]*Node
	expected map[domain.EpicPhase]domain.TechniqueID
	weights  map[domain.EpicPhase]map[domain.TechniqueID]int
	warnings []string
}

type yamlCriterion struct {
	Kind    string `yaml:"kind"`
	Pattern string `yaml:"pattern"`
	Weight  int    `yaml:"weight"`
}

type yamlTechnique struct {
	Number   string          `yaml:"number"`
	Parent   string          `yaml:"parent"`
	Name     string          `yaml:"name"`
	Phase    string          `yaml:"phase"`
	Category string          `yaml:"category"`
	Detector string          `yaml:"detector"`
	Points   int             `yaml:"points"`
	Criteria []yamlCriterion `yaml:"criteria"`
}

type yamlPhase struct {
	Expected string         `yaml:"expected"`
	Weights  map[string]int `yaml:"weights"`
}

type yamlFile struct {
	Phases     map[string]yamlPhase `yaml:"phases"`
	Techniques []yamlTechnique      `yaml:"techniques"`
}

// Parse builds a catalog from YAML. Structural flaws that the conflict
// reporter reviews (missing criteria, bad phase targets, weight sums) are
// kept as data, not load errors; only malformed YAML or duplicate numbers
// fail the load.
func Parse(data []byte) (*Catalog, error) {
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog.Parse: %w", err)
	}

	c := &Catalog{
		nodes:    make(map[domain.TechniqueID]*Node),
		byPhase:  make(map[domain.EpicPhase][]*Node),
		expected: make(map[domain.EpicPhase]domain.TechniqueID),
		weights:  make(map[domain.EpicPhase]map[domain.TechniqueID]int),
	}

	for _, yt := range f.Techniques {
		id := domain.TechniqueID(yt.Number)
		if id == "" {
			return nil, fmt.Errorf("catalog.Parse: technique without number")
		}
		if _, dup := c.nodes[id]; dup {
			return nil, fmt.Errorf("catalog.Parse: duplicate technique %s", id)
		}

		n := &Node{
			Number:     id,
			Name:       yt.Name,
			Phase:      domain.EpicPhase(yt.Phase),
			Category:   yt.Category,
			DetectorID: yt.Detector,
			Points:     yt.Points,
		}
		for _, yc := range yt.Criteria {
			crit := Criterion{Kind: CriterionKind(yc.Kind), Pattern: yc.Pattern, Weight: yc.Weight}
			if crit.Weight <= 0 {
				crit.Weight = 1
			}
			if crit.Kind == KindRegex {
				re, err := regexp.Compile(yc.Pattern)
				if err != nil {
					// A broken pattern degrades to "no criterion"; the
					// reporter flags the node if nothing usable remains.
					c.warnings = append(c.warnings, fmt.Sprintf("technique %s: bad regex %q: %v", id, yc.Pattern, err))
					continue
				}
				crit.re = re
			}
			n.Criteria = append(n.Criteria, crit)
		}
		c.nodes[id] = n
		c.ordered = append(c.ordered, n)
	}

	// Link the tree from declared parents.
	for _, yt := range f.Techniques {
		if yt.Parent == "" {
			continue
		}
		child := c.nodes[domain.TechniqueID(yt.Number)]
		parent, ok := c.nodes[domain.TechniqueID(yt.Parent)]
		if !ok {
			return nil, fmt.Errorf("catalog.Parse: technique %s references unknown parent %s", yt.Number, yt.Parent)
		}
		child.Parent = parent
		parent.Children = append(parent.Children, child)
	}
	for _, n := range c.ordered {
		for p := n.Parent; p != nil; p = p.Parent {
			n.Depth++
		}
	}

	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].Number < c.ordered[j].Number })
	for _, n := range c.ordered {
		c.byPhase[n.Phase] = append(c.byPhase[n.Phase], n)
	}

	for name, yp := range f.Phases {
		phase := domain.EpicPhase(name)
		c.expected[phase] = domain.TechniqueID(yp.Expected)
		w := make(map[domain.TechniqueID]int, len(yp.Weights))
		for num, weight := range yp.Weights {
			w[domain.TechniqueID(num)] = weight
		}
		c.weights[phase] = w
	}

	return c, nil
}

// Get returns the node for a technique number.
func (c *Catalog) Get(id domain.TechniqueID) (*Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// Nodes returns all techniques in stable number order.
func (c *Catalog) Nodes() []*Node {
	return c.ordered
}

// ByPhase returns the phase-scoped subset in stable number order.
func (c *Catalog) ByPhase(phase domain.EpicPhase) []*Node {
	return c.byPhase[phase]
}

// Expected returns the technique configured as expected for a phase.
func (c *Catalog) Expected(phase domain.EpicPhase) domain.TechniqueID {
	return c.expected[phase]
}

// Weight returns the scoring weight of a technique within a phase.
func (c *Catalog) Weight(phase domain.EpicPhase, id domain.TechniqueID) (int, bool) {
	w, ok := c.weights[phase][id]
	return w, ok
}

// WeightSum returns the sum of the configured weights for a phase.
func (c *Catalog) WeightSum(phase domain.EpicPhase) int {
	sum := 0
	for _, w := range c.weights[phase] {
		sum += w
	}
	return sum
}

// Phases returns the phases that carry a weight table.
func (c *Catalog) Phases() []domain.EpicPhase {
	out := make([]domain.EpicPhase, 0, len(c.weights))
	for p := range c.weights {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ord() < out[j].Ord() })
	return out
}

// Warnings returns non-fatal load problems (e.g. discarded bad regexes).
func (c *Catalog) Warnings() []string {
	return c.warnings
}

// Matches evaluates a criterion against normalized utterance text.
func (cr *Criterion) Matches(normalized string) bool {
	switch cr.Kind {
	case KindRegex:
		return cr.re != nil && cr.re.MatchString(normalized)
	case KindKeyword, KindPhrase:
		return containsFold(normalized, cr.Pattern)
	default:
		return false
	}
}
