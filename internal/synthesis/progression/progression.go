package progression

import (
	"math"
	"sort"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

type band struct {
	maxPosition int
	tag         content.ProgressionTag
	newRatio    float64
}

// Threshold ladder; the last band has no upper bound.
var ladder = []band{
	{maxPosition: 2, tag: content.TagFoundation, newRatio: 0.80},
	{maxPosition: 5, tag: content.TagBuilding, newRatio: 0.65},
	{maxPosition: 10, tag: content.TagConsolidation, newRatio: 0.50},
	{maxPosition: math.MaxInt, tag: content.TagMastery, newRatio: 0.35},
}

const minReinforcementPool = 8

// Band maps a sequence position onto a progression tag and its new-content ratio.
func Band(position int) (content.ProgressionTag, float64) {
	if position < 0 {
		position = 0
	}
	for _, b := range ladder {
		if position <= b.maxPosition {
			return b.tag, b.newRatio
		}
	}
	last := ladder[len(ladder)-1]
	return last.tag, last.newRatio
}

// BuildStrategy derives the new-vs-reinforced mix for the next cycle. Candidates already seen in
// PriorItemsUsed are preferred for reinforcement.
func BuildStrategy(ctx content.ProgressionContext) content.Strategy {
	tag, ratio := Band(ctx.SequencePosition)

	prior := ctx.PriorSet()
	seen := map[string]bool{}
	var preferred, rest []string
	for _, w := range ctx.ReinforcementCandidates {
		w = content.NormalizeWord(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		if prior[w] {
			preferred = append(preferred, w)
		} else {
			rest = append(rest, w)
		}
	}
	candidates := append(preferred, rest...)

	pool := len(candidates)
	if pool < minReinforcementPool {
		pool = minReinforcementPool
	}
	limit := int(math.Ceil((1 - ratio) * float64(pool)))
	if limit > len(candidates) {
		limit = len(candidates)
	}

	return content.Strategy{
		NewRatioTarget:     ratio,
		ReinforcementWords: candidates[:limit],
		Tag:                tag,
	}
}

// ItemClass is the connectivity classification of a single item.
type ItemClass struct {
	Reinforced bool
	// Links are the prior or reinforcement words the item references.
	Links []string
}

// Connectivity classifies each item as reinforcing earlier material (it references a prior item or
// a reinforcement candidate) or introducing new material.
func Connectivity(items []content.CandidateItem, ctx content.ProgressionContext) []ItemClass {
	known := ctx.PriorSet()
	for _, w := range ctx.ReinforcementCandidates {
		if w = content.NormalizeWord(w); w != "" {
			known[w] = true
		}
	}
	out := make([]ItemClass, len(items))
	if len(known) == 0 {
		return out
	}
	for i, it := range items {
		tokens := content.TokenSet(content.ItemText(it.Payload))
		var links []string
		for w := range known {
			if content.Matches(tokens, w) {
				links = append(links, w)
			}
		}
		sort.Strings(links)
		out[i] = ItemClass{Reinforced: len(links) > 0, Links: links}
	}
	return out
}

// NewRatio is the observed share of items that introduce new material.
func NewRatio(classes []ItemClass) float64 {
	if len(classes) == 0 {
		return 0
	}
	n := 0
	for _, c := range classes {
		if !c.Reinforced {
			n++
		}
	}
	return float64(n) / float64(len(classes))
}
