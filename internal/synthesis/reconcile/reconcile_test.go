package reconcile

import (
	"fmt"
	"testing"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

func vocabSpec(target int) content.GenerationSpec {
	return content.GenerationSpec{
		SchemaID:      content.SchemaVocabulary,
		TargetCount:   target,
		DomainContext: "hotel check-in",
		SeedMaterial:  map[string][]string{"nouns": {"key", "lobby", "passport"}},
	}
}

func newReconciler(target int) *Reconciler {
	return New(content.DefaultRegistry().Lookup(content.SchemaVocabulary), vocabSpec(target), nil)
}

func TestReconcile_TrimKeepsBestAndBreaksTiesByOrder(t *testing.T) {
	scores := []float64{0.2, 0.9, 0.5, 0.9, 0.1}
	items := make([]content.CandidateItem, len(scores))
	for i, s := range scores {
		items[i] = content.CandidateItem{Payload: map[string]any{"word": fmt.Sprintf("w%d", i)}, QualityScore: s}
	}

	out, rec := newReconciler(3).Reconcile(items, content.Strategy{})
	if len(out) != 3 || rec.Trimmed != 2 || rec.Filled != 0 {
		t.Fatalf("out=%d rec=%+v", len(out), rec)
	}
	want := []string{"w1", "w3", "w2"}
	for i, w := range want {
		if out[i].Payload["word"] != w {
			t.Fatalf("out[%d]=%v want %s", i, out[i].Payload["word"], w)
		}
	}
	if items[0].Payload["word"] != "w0" {
		t.Fatalf("input slice reordered")
	}
}

func TestReconcile_FillUsesUnreferencedSeedsFirst(t *testing.T) {
	items := []content.CandidateItem{{
		Payload:     map[string]any{"word": "key", "definition": "opens your room"},
		SourceWords: []string{"key"},
	}}

	out, rec := newReconciler(4).Reconcile(items, content.Strategy{})
	if len(out) != 4 || rec.Filled != 3 || rec.Trimmed != 0 {
		t.Fatalf("out=%d rec=%+v", len(out), rec)
	}
	wantWords := []string{"key", "lobby", "passport", "key"}
	for i, w := range wantWords {
		if out[i].Payload["word"] != w {
			t.Fatalf("out[%d].word=%v want %s", i, out[i].Payload["word"], w)
		}
	}
	for _, it := range out[1:] {
		if !it.Synthesized {
			t.Fatalf("filler not marked synthesized: %+v", it)
		}
	}
	notes := map[any]bool{}
	for _, it := range out[1:] {
		n := it.Payload[content.FieldSequenceNote]
		if notes[n] {
			t.Fatalf("duplicate sequence note %v", n)
		}
		notes[n] = true
	}
	if out[3].Payload[content.FieldSequenceNote] != "synthesized #3 (reuse 1)" {
		t.Fatalf("reuse note=%v", out[3].Payload[content.FieldSequenceNote])
	}
	if len(out[1].SourceWords) == 0 || out[1].QualityScore <= 0 {
		t.Fatalf("filler not annotated: %+v", out[1])
	}
}

func TestReconcile_FillSkipsPrimaryAndReferencedWords(t *testing.T) {
	items := []content.CandidateItem{
		{Payload: map[string]any{"word": "lobby"}},
		{Payload: map[string]any{"word": "front desk"}, SourceWords: []string{"key"}},
	}

	out, rec := newReconciler(3).Reconcile(items, content.Strategy{})
	if len(out) != 3 || rec.Filled != 1 {
		t.Fatalf("out=%d rec=%+v", len(out), rec)
	}
	if out[2].Payload["word"] != "passport" {
		t.Fatalf("filler word=%v want passport", out[2].Payload["word"])
	}
	if len(items[0].SourceWords) != 0 || len(items[1].SourceWords) != 1 {
		t.Fatalf("input items mutated: %+v", items)
	}
}

func TestReconcile_FillFromReinforcementWhenNoSeeds(t *testing.T) {
	spec := content.GenerationSpec{SchemaID: content.SchemaVocabulary, TargetCount: 2, DomainContext: "airport"}
	r := New(content.DefaultRegistry().Lookup(content.SchemaVocabulary), spec, nil)

	out, rec := r.Reconcile(nil, content.Strategy{ReinforcementWords: []string{"gate", "boarding pass"}})
	if len(out) != 2 || rec.Filled != 2 {
		t.Fatalf("out=%v rec=%+v", out, rec)
	}
	if out[0].Payload["word"] != "gate" || out[1].Payload["word"] != "boarding pass" {
		t.Fatalf("words=%v,%v", out[0].Payload["word"], out[1].Payload["word"])
	}
}

func TestReconcile_ExactCountUnchanged(t *testing.T) {
	items := []content.CandidateItem{{Payload: map[string]any{"word": "key"}}, {Payload: map[string]any{"word": "lobby"}}}
	out, rec := newReconciler(2).Reconcile(items, content.Strategy{})
	if len(out) != 2 || rec.Applied() {
		t.Fatalf("out=%d rec=%+v", len(out), rec)
	}
}

func TestReconcile_AlwaysHitsTarget(t *testing.T) {
	for target := 1; target <= 12; target++ {
		for have := 0; have <= 12; have++ {
			items := make([]content.CandidateItem, have)
			for i := range items {
				items[i] = content.CandidateItem{Payload: map[string]any{"word": fmt.Sprintf("item%02d", i)}}
			}
			out, _ := newReconciler(target).Reconcile(items, content.Strategy{})
			if len(out) != target {
				t.Fatalf("target=%d have=%d got=%d", target, have, len(out))
			}
		}
	}
}
