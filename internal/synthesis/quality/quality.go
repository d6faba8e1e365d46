package quality

import (
	"math"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/progression"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/score"
)

// MixTolerance is how far the observed new-content ratio may drift from the strategy target
// before individual items start counting as misfits.
const MixTolerance = 0.2

// Compute derives the advisory quality signals for a finished item list.
func Compute(items []content.CandidateItem, spec content.GenerationSpec, pctx content.ProgressionContext, strategy content.Strategy) content.Metrics {
	return content.Metrics{
		Coverage:       Coverage(items, spec.SeedWords()),
		Coherence:      Coherence(items, spec.DomainKeywords()),
		ProgressionFit: ProgressionFit(items, pctx, strategy.NewRatioTarget),
	}
}

// Coverage is the share of distinct seed words referenced by at least one item.
func Coverage(items []content.CandidateItem, seedWords []string) float64 {
	if len(seedWords) == 0 {
		return 1
	}
	hit := map[string]bool{}
	for _, it := range items {
		for _, w := range score.SourceWords(it.Payload, seedWords) {
			hit[w] = true
		}
	}
	return float64(len(hit)) / float64(len(seedWords))
}

// Coherence is the share of items mentioning at least one domain keyword.
func Coherence(items []content.CandidateItem, keywords []string) float64 {
	if len(items) == 0 {
		return 0
	}
	if len(keywords) == 0 {
		return 1
	}
	n := 0
	for _, it := range items {
		tokens := content.TokenSet(content.ItemText(it.Payload))
		for _, k := range keywords {
			if content.Matches(tokens, k) {
				n++
				break
			}
		}
	}
	return float64(n) / float64(len(items))
}

// ProgressionFit compares the new-vs-reinforced mix with target. Within MixTolerance every item
// fits; otherwise only items up to the expected count on each side fit.
func ProgressionFit(items []content.CandidateItem, pctx content.ProgressionContext, target float64) float64 {
	if len(items) == 0 {
		return 0
	}
	classes := progression.Connectivity(items, pctx)
	observed := progression.NewRatio(classes)
	if math.Abs(observed-target) <= MixTolerance {
		return 1
	}

	n := len(items)
	expectedNew := int(math.Round(target * float64(n)))
	newCount := 0
	for _, c := range classes {
		if !c.Reinforced {
			newCount++
		}
	}
	reinforced := n - newCount
	matching := min(newCount, expectedNew) + min(reinforced, n-expectedNew)
	return float64(matching) / float64(n)
}

// Thresholds are caller policy for deciding whether a result is worth regenerating.
type Thresholds struct {
	MinCoverage       float64 `json:"min_coverage" yaml:"min_coverage"`
	MinCoherence      float64 `json:"min_coherence" yaml:"min_coherence"`
	MinProgressionFit float64 `json:"min_progression_fit" yaml:"min_progression_fit"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{MinCoverage: 0.5, MinCoherence: 0.4, MinProgressionFit: 0.5}
}

// ShouldRegenerate is advisory; the engine never retries on its own.
func ShouldRegenerate(m content.Metrics, t Thresholds) bool {
	return m.Coverage < t.MinCoverage || m.Coherence < t.MinCoherence || m.ProgressionFit < t.MinProgressionFit
}
