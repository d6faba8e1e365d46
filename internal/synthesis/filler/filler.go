package filler

import (
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

// fallbackWords keeps synthesis total when a request carries no seed, reinforcement or domain words.
var fallbackWords = []string{"question", "answer", "example", "practice", "review", "lesson"}

// Source is the ordered word pool a Synthesizer draws from.
type Source struct {
	// Primary words are used first, in order, without repetition.
	Primary []string
	// Secondary words are used once Primary is exhausted.
	Secondary []string
	// Cycle is reused round-robin after Primary and Secondary are spent.
	Cycle []string
}

// PoolFor builds the default pool for a spec: seed words, then reinforcement candidates, then
// domain keywords.
func PoolFor(spec content.GenerationSpec, strategy content.Strategy) Source {
	seed := spec.SeedWords()
	reinforce := dedupe(strategy.ReinforcementWords)
	cycle := seed
	if len(cycle) == 0 {
		cycle = reinforce
	}
	if len(cycle) == 0 {
		cycle = spec.DomainKeywords()
	}
	if len(cycle) == 0 {
		cycle = fallbackWords
	}
	return Source{Primary: seed, Secondary: reinforce, Cycle: cycle}
}

// Synthesizer builds minimal schema-valid items from words. Output is fully determined by its
// inputs.
type Synthesizer struct {
	Schema content.Schema
	Spec   content.GenerationSpec
}

// Words returns n words drawn from src, skipping words in exclude while unused material remains.
// Round is the number of times the cycle pool wrapped before each returned word.
func (s Synthesizer) Words(src Source, exclude map[string]bool, n int) ([]string, []int) {
	if n <= 0 {
		return nil, nil
	}
	used := map[string]bool{}
	words := make([]string, 0, n)
	rounds := make([]int, 0, n)
	take := func(pool []string) {
		for _, w := range pool {
			if len(words) >= n {
				return
			}
			w = content.NormalizeWord(w)
			if w == "" || used[w] || exclude[w] {
				continue
			}
			used[w] = true
			words = append(words, w)
			rounds = append(rounds, 0)
		}
	}
	take(src.Primary)
	take(src.Secondary)

	cycle := dedupe(src.Cycle)
	if len(cycle) == 0 {
		cycle = fallbackWords
	}
	for i := 0; len(words) < n; i++ {
		words = append(words, cycle[i%len(cycle)])
		rounds = append(rounds, i/len(cycle)+1)
	}
	return words, rounds
}

// Items synthesizes n items. startOrdinal numbers the sequence notes so items produced by separate
// calls for the same result stay distinct.
func (s Synthesizer) Items(src Source, exclude map[string]bool, n int, startOrdinal int) []content.CandidateItem {
	words, rounds := s.Words(src, exclude, n)
	out := make([]content.CandidateItem, 0, len(words))
	for i, w := range words {
		ordinal := startOrdinal + i + 1
		out = append(out, content.CandidateItem{
			Payload:     s.Item(w, ordinal, rounds[i]),
			SourceWords: []string{w},
			Synthesized: true,
		})
	}
	return out
}

// Item renders one item for word. Round selects the template variant so reused words do not
// produce identical text.
func (s Synthesizer) Item(word string, ordinal int, round int) map[string]any {
	schema := s.Schema
	item := map[string]any{}
	for _, f := range schema.Fields {
		var val string
		switch {
		case len(schema.Templates[f.Name]) > 0:
			tpls := schema.Templates[f.Name]
			val = s.render(tpls[(ordinal-1+round)%len(tpls)], word, ordinal)
		case f.Name == schema.PrimaryField:
			val = word
		case f.Name == "target_word":
			val = word
		case f.Name == content.FieldDifficulty:
			val = s.Spec.LevelTag.DifficultyLabel()
		case f.Default != "":
			val = s.render(f.Default, word, ordinal)
		}
		if f.Kind == content.KindList {
			if val == "" {
				item[f.Name] = []any{word}
			} else {
				item[f.Name] = []any{val}
			}
			continue
		}
		if val == "" && !f.Required {
			continue
		}
		item[f.Name] = val
	}
	note := fmt.Sprintf("synthesized #%d", ordinal)
	if round > 0 {
		note = fmt.Sprintf("%s (reuse %d)", note, round)
	}
	item[content.FieldSequenceNote] = note
	return item
}

func (s Synthesizer) render(tpl string, word string, ordinal int) string {
	domain := strings.TrimSpace(s.Spec.DomainContext)
	if domain == "" {
		domain = "this topic"
	}
	r := strings.NewReplacer(
		"{word}", word,
		"{domain}", domain,
		"{n}", fmt.Sprint(ordinal),
		"{level}", s.Spec.LevelTag.DifficultyLabel(),
	)
	return r.Replace(tpl)
}

func dedupe(words []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = content.NormalizeWord(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
