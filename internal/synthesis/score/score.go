package score

import (
	"math"
	"strings"
	"unicode"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

// Weights of the additive score. They sum to 1 so the raw total is already in [0,1].
const (
	weightSeed       = 0.4
	weightDomain     = 0.3
	weightComplexity = 0.2
	weightRichness   = 0.1

	seedSaturation   = 2
	domainSaturation = 2
)

// Word-count band per level ordinal, beginner through advanced.
var complexityBands = [5][2]int{
	{3, 12},
	{4, 16},
	{6, 22},
	{8, 28},
	{10, 36},
}

// Scorer ranks candidate items by contextual relevance. Scores are for trimming decisions only.
type Scorer struct {
	Schema content.Schema
	Spec   content.GenerationSpec

	seedWords []string
	keywords  []string
}

func New(schema content.Schema, spec content.GenerationSpec) *Scorer {
	return &Scorer{
		Schema:    schema,
		Spec:      spec,
		seedWords: spec.SeedWords(),
		keywords:  spec.DomainKeywords(),
	}
}

// SourceWords returns the seed words referenced by payload, in seed order.
func SourceWords(payload map[string]any, seedWords []string) []string {
	if len(seedWords) == 0 {
		return nil
	}
	tokens := content.TokenSet(content.ItemText(payload))
	var out []string
	for _, w := range seedWords {
		if content.Matches(tokens, w) {
			out = append(out, w)
		}
	}
	return out
}

// Annotate fills SourceWords and QualityScore on every item.
func (s *Scorer) Annotate(items []content.CandidateItem) {
	for i := range items {
		items[i].SourceWords = SourceWords(items[i].Payload, s.seedWords)
		items[i].QualityScore = s.Score(items[i].Payload)
	}
}

func (s *Scorer) Score(payload map[string]any) float64 {
	if len(payload) == 0 {
		return 0
	}
	text := content.ItemText(payload)
	tokens := content.TokenSet(text)

	total := 0.0
	total += weightSeed * saturate(len(SourceWords(payload, s.seedWords)), seedSaturation)

	overlap := 0
	for _, k := range s.keywords {
		if content.Matches(tokens, k) {
			overlap++
		}
	}
	total += weightDomain * saturate(overlap, domainSaturation)
	total += weightComplexity * s.complexity(len(content.Tokens(text)))
	total += weightRichness * s.richness(payload)

	return clamp01(total)
}

// complexity is 1 inside the level's word-count band and decays linearly outside it.
func (s *Scorer) complexity(words int) float64 {
	band := complexityBands[s.Spec.LevelTag.Ordinal()]
	lo, hi := band[0], band[1]
	width := float64(hi - lo)
	switch {
	case words < lo:
		return math.Max(0, 1-float64(lo-words)/width)
	case words > hi:
		return math.Max(0, 1-float64(words-hi)/width)
	default:
		return 1
	}
}

// richness mixes how many optional fields are populated with the letter variety of the primary
// content.
func (s *Scorer) richness(payload map[string]any) float64 {
	optional, filled := 0, 0
	for _, f := range s.Schema.Fields {
		if f.Name == s.Schema.PrimaryField || f.Name == content.FieldDifficulty {
			continue
		}
		optional++
		if v, ok := payload[f.Name]; ok && v != nil && v != "" {
			filled++
		}
	}
	fieldRatio := 1.0
	if optional > 0 {
		fieldRatio = float64(filled) / float64(optional)
	}

	letters := map[rune]bool{}
	for _, r := range strings.ToLower(content.StringField(payload, s.Schema.PrimaryField)) {
		if unicode.IsLetter(r) {
			letters[r] = true
		}
	}
	variety := math.Min(1, float64(len(letters))/10)

	return 0.7*fieldRatio + 0.3*variety
}

func saturate(n, at int) float64 {
	if at <= 0 {
		return 0
	}
	return math.Min(1, float64(n)/float64(at))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
