package prompt

import (
	"strings"
	"testing"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

func TestTemplateBuilder_HeaderRoundTrip(t *testing.T) {
	reg := content.DefaultRegistry()
	in := Input{
		Spec: content.GenerationSpec{
			TargetCount:   4,
			DomainContext: "ordering food\nat a cafe",
			LevelTag:      "b1",
			SeedMaterial:  map[string][]string{"nouns": {"Coffee", "menu"}},
			SchemaID:      content.SchemaVocabulary,
		},
		Schema: reg.Lookup(content.SchemaVocabulary),
		Strategy: content.Strategy{
			NewRatioTarget:     0.7,
			ReinforcementWords: []string{"table"},
			Tag:                content.TagBuilding,
		},
		Context: content.ProgressionContext{PriorItemsUsed: []string{"Table"}},
	}

	req, err := NewTemplateBuilder(0.3, true).Build(in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if req.Schema == nil || !req.Schema.Strict || req.Schema.Name != content.SchemaVocabulary {
		t.Fatalf("schema=%#v", req.Schema)
	}
	if req.Temperature != 0.3 {
		t.Fatalf("temperature=%v", req.Temperature)
	}
	if !strings.Contains(req.System, "matching the provided schema") {
		t.Fatalf("system=%q", req.System)
	}

	h := ParseHeader(req.Prompt)
	if h[HeaderSchema] != content.SchemaVocabulary {
		t.Fatalf("schema header=%q", h[HeaderSchema])
	}
	if h.Int(HeaderTargetCount, 0) != 4 {
		t.Fatalf("target=%q", h[HeaderTargetCount])
	}
	if h[HeaderLevel] != string(content.LevelIntermediate) {
		t.Fatalf("level=%q", h[HeaderLevel])
	}
	if h[HeaderDomain] != "ordering food at a cafe" {
		t.Fatalf("domain=%q", h[HeaderDomain])
	}
	seeds := h.List(HeaderSeedWords)
	if len(seeds) != 2 || seeds[0] != "coffee" || seeds[1] != "menu" {
		t.Fatalf("seeds=%v", seeds)
	}
	if r := h.List(HeaderReinforce); len(r) != 1 || r[0] != "table" {
		t.Fatalf("reinforce=%v", r)
	}
	if !strings.Contains(req.Prompt, "About 30% of the items") {
		t.Fatalf("prompt missing reinforcement guidance:\n%s", req.Prompt)
	}
	if !strings.Contains(req.Prompt, "- word (string, required)") {
		t.Fatalf("prompt missing field list:\n%s", req.Prompt)
	}
}

func TestTemplateBuilder_UnconstrainedSystem(t *testing.T) {
	reg := content.DefaultRegistry()
	req, err := NewTemplateBuilder(0, false).Build(Input{
		Spec:   content.GenerationSpec{TargetCount: 1, SchemaID: content.SchemaSentences},
		Schema: reg.Lookup(content.SchemaSentences),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(req.System, `"items" array`) {
		t.Fatalf("system=%q", req.System)
	}
	if h := ParseHeader(req.Prompt); len(h.List(HeaderSeedWords)) != 0 {
		t.Fatalf("expected no seed words, got %v", h.List(HeaderSeedWords))
	}
}

func TestNewTemplateBuilderFrom_BadTemplate(t *testing.T) {
	if _, err := NewTemplateBuilderFrom("{{", "ok", 0, false); err == nil {
		t.Fatalf("expected parse error")
	}
}
