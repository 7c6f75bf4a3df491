package score

import (
	"fmt"
	"sort"

	"github.com/soundsentry/soundsentry/pkg/classifier"
)

const (
	// boostBreak is the score above which a group's top class speaks for
	// itself and no multi-class boosting is applied.
	boostBreak = 0.7

	// boostPerClass is the composite-score credit per surviving class in a
	// group when the top class alone is not conclusive.
	boostPerClass = 0.05

	// boostCap is the ceiling of a boosted composite score. Scores at or
	// above boostBreak bypass boosting and are reported unchanged.
	boostCap = 0.95
)

// GroupScore is the composite result for one group in one sample.
type GroupScore struct {
	// Group is the group name.
	Group string

	// Score is the composite score. Boosted scores are capped at 0.95;
	// a conclusive top class passes through unchanged.
	Score float64

	// Classes is the number of surviving classes that contributed.
	Classes int

	// TopClass and TopScore identify the strongest contributing class.
	TopClass string
	TopScore float64
}

// Params are the tuning knobs of a [Scorer]. All fields are validated by
// NewScorer; the config package enforces the same ranges at load time.
type Params struct {
	// NoiseThreshold drops class scores below it before any grouping.
	NoiseThreshold float64

	// TopK caps the number of classes considered per sample, strongest
	// first, after the noise cut.
	TopK int

	// DefaultMinScore is the minimum composite score for a group to be
	// reported, unless overridden per group.
	DefaultMinScore float64

	// MinScores holds per-group overrides of DefaultMinScore.
	MinScores map[string]float64

	// ExcludeGroups removes groups entirely before scoring: their classes
	// neither appear in output nor pad any other group's class count.
	ExcludeGroups []string
}

// Scorer maps pooled class vectors to reported group scores. It holds no
// mutable state and is safe for concurrent use by all source workers.
type Scorer struct {
	classes  *ClassMap
	params   Params
	excluded map[string]bool
}

// NewScorer creates a Scorer over the given class map.
func NewScorer(cm *ClassMap, p Params) (*Scorer, error) {
	if cm == nil || cm.Len() == 0 {
		return nil, fmt.Errorf("score: empty class map")
	}
	if p.NoiseThreshold < 0 || p.NoiseThreshold > 1 {
		return nil, fmt.Errorf("score: noise threshold %.2f out of range [0, 1]", p.NoiseThreshold)
	}
	if p.TopK <= 0 {
		return nil, fmt.Errorf("score: top_k %d must be positive", p.TopK)
	}
	if p.DefaultMinScore < 0 || p.DefaultMinScore > 1 {
		return nil, fmt.Errorf("score: default min score %.2f out of range [0, 1]", p.DefaultMinScore)
	}
	for g, ms := range p.MinScores {
		if ms < 0 || ms > 1 {
			return nil, fmt.Errorf("score: min score %.2f for group %q out of range [0, 1]", ms, g)
		}
	}

	excluded := make(map[string]bool, len(p.ExcludeGroups))
	for _, g := range p.ExcludeGroups {
		excluded[g] = true
	}
	return &Scorer{classes: cm, params: p, excluded: excluded}, nil
}

// classHit is one surviving (class, score) pair.
type classHit struct {
	index int
	score float64
}

// Score computes the reported group scores for one pooled vector, strongest
// group first. The vector length must match the class map.
func (s *Scorer) Score(v classifier.ScoreVector) ([]GroupScore, error) {
	if len(v) != s.classes.Len() {
		return nil, fmt.Errorf("score: vector has %d classes, class map has %d", len(v), s.classes.Len())
	}

	// Noise cut and exclusion. Excluded groups drop out here so they can
	// never pad another group's class count. All threshold comparisons in
	// this method happen in the model's float32 domain: a score the model
	// reports as exactly 0.7 must compare equal to a 0.7 threshold, which
	// its float64 image (0.69999998...) would not.
	noise := float32(s.params.NoiseThreshold)
	var hits []classHit
	for i, raw := range v {
		if raw < noise {
			continue
		}
		if s.excluded[s.classes.Group(i)] {
			continue
		}
		hits = append(hits, classHit{index: i, score: float64(raw)})
	}
	if len(hits) == 0 {
		return nil, nil
	}

	// Keep only the top-k classes by score.
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return hits[a].index < hits[b].index
	})
	if len(hits) > s.params.TopK {
		hits = hits[:s.params.TopK]
	}

	// Group the survivors. Iteration over the sorted slice means the first
	// hit seen per group is its strongest.
	type groupAcc struct {
		count    int
		topIndex int
		topScore float64
	}
	accs := make(map[string]*groupAcc)
	var order []string
	for _, h := range hits {
		g := s.classes.Group(h.index)
		acc, ok := accs[g]
		if !ok {
			acc = &groupAcc{topIndex: h.index, topScore: h.score}
			accs[g] = acc
			order = append(order, g)
		}
		acc.count++
	}

	// Composite score with multi-class boosting, then the per-group
	// reporting threshold.
	var out []GroupScore
	for _, g := range order {
		acc := accs[g]
		composite := acc.topScore
		if float32(composite) < boostBreak {
			composite += boostPerClass * float64(acc.count)
			if composite > boostCap {
				composite = boostCap
			}
		}
		if float32(composite) < float32(s.minScore(g)) {
			continue
		}
		out = append(out, GroupScore{
			Group:    g,
			Score:    composite,
			Classes:  acc.count,
			TopClass: s.classes.Name(acc.topIndex),
			TopScore: acc.topScore,
		})
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].Group < out[b].Group
	})
	return out, nil
}

// minScore returns the effective reporting threshold for group g.
func (s *Scorer) minScore(g string) float64 {
	if ms, ok := s.params.MinScores[g]; ok {
		return ms
	}
	return s.params.DefaultMinScore
}
