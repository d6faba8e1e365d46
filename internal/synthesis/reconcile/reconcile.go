package reconcile

import (
	"sort"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/filler"
	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/score"
)

// Reconciler forces a result to exactly the requested number of items.
type Reconciler struct {
	Schema content.Schema
	Spec   content.GenerationSpec
	Scorer *score.Scorer
}

func New(schema content.Schema, spec content.GenerationSpec, scorer *score.Scorer) *Reconciler {
	if scorer == nil {
		scorer = score.New(schema, spec)
	}
	return &Reconciler{Schema: schema, Spec: spec, Scorer: scorer}
}

// Reconcile returns exactly Spec.TargetCount items and never fails. Items are expected to carry
// QualityScore and SourceWords already; filler items are scored before they are returned.
func (r *Reconciler) Reconcile(items []content.CandidateItem, strategy content.Strategy) ([]content.CandidateItem, content.Reconciliation) {
	target := r.Spec.TargetCount
	if target < 1 {
		target = 1
	}
	var rec content.Reconciliation

	switch {
	case len(items) > target:
		ranked := make([]content.CandidateItem, len(items))
		copy(ranked, items)
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].QualityScore > ranked[j].QualityScore
		})
		rec.Trimmed = len(items) - target
		return ranked[:target], rec

	case len(items) < target:
		deficit := target - len(items)
		out := make([]content.CandidateItem, 0, target)
		out = append(out, items...)

		referenced := map[string]bool{}
		primary := map[string]bool{}
		synthesized := 0
		for _, it := range items {
			for _, w := range it.SourceWords {
				referenced[w] = true
			}
			if p := content.StringField(it.Payload, r.Schema.PrimaryField); p != "" {
				primary[content.NormalizeWord(p)] = true
			}
			if it.Synthesized {
				synthesized++
			}
		}
		// Words already referenced or used as an item's primary content are not reused while other
		// material remains.
		exclude := make(map[string]bool, len(referenced)+len(primary))
		for w := range referenced {
			exclude[w] = true
		}
		for w := range primary {
			exclude[w] = true
		}

		syn := filler.Synthesizer{Schema: r.Schema, Spec: r.Spec}
		fill := syn.Items(filler.PoolFor(r.Spec, strategy), exclude, deficit, synthesized)
		r.Scorer.Annotate(fill)
		out = append(out, fill...)
		rec.Filled = len(fill)
		return out, rec

	default:
		return items, rec
	}
}
