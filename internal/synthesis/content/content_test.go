package content

import (
	"errors"
	"reflect"
	"testing"
)

func TestLevelTag_Normalize(t *testing.T) {
	cases := []struct {
		in   LevelTag
		want LevelTag
	}{
		{"beginner", LevelBeginner},
		{" Upper-Intermediate ", LevelUpperIntermediate},
		{"A1", LevelBeginner},
		{"b2", LevelUpperIntermediate},
		{"C2", LevelAdvanced},
		{"", LevelIntermediate},
		{"expert-ish", LevelIntermediate},
	}
	for _, tc := range cases {
		if got := tc.in.Normalize(); got != tc.want {
			t.Fatalf("Normalize(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
	if LevelBeginner.Ordinal() != 0 || LevelTag("c2").Ordinal() != 4 || LevelTag("").Ordinal() != 2 {
		t.Fatalf("Ordinal ordering broken")
	}
	if LevelElementary.DifficultyLabel() != "easy" || LevelIntermediate.DifficultyLabel() != "medium" || LevelAdvanced.DifficultyLabel() != "hard" {
		t.Fatalf("difficulty labels wrong")
	}
}

func TestTokensAndKeywords(t *testing.T) {
	got := Tokens("The guest's check-in, at 3pm!")
	want := []string{"the", "guest's", "check-in", "at", "3pm"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tokens=%v want %v", got, want)
	}

	kw := Keywords("Hotel check-in at the front desk, the front desk")
	wantKW := []string{"hotel", "check-in", "front", "desk"}
	if !reflect.DeepEqual(kw, wantKW) {
		t.Fatalf("Keywords=%v want %v", kw, wantKW)
	}
}

func TestMatches_Inflections(t *testing.T) {
	tokens := TokenSet("Two reservations were booking while stories about reserving the front desk spread")
	for _, w := range []string{"reservation", "book", "story", "reserve", "Front Desk"} {
		if !Matches(tokens, w) {
			t.Fatalf("expected %q to match", w)
		}
	}
	for _, w := range []string{"passport", "", "front lobby"} {
		if Matches(tokens, w) {
			t.Fatalf("did not expect %q to match", w)
		}
	}
}

func TestGenerationSpec_Validate(t *testing.T) {
	if err := (GenerationSpec{TargetCount: 0, SchemaID: "vocabulary"}).Validate(); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("target 0: err=%v", err)
	}
	if err := (GenerationSpec{TargetCount: 1, SchemaID: " "}).Validate(); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("blank schema: err=%v", err)
	}
	if err := (GenerationSpec{TargetCount: 1, SchemaID: "vocabulary"}).Validate(); err != nil {
		t.Fatalf("valid spec: %v", err)
	}
}

func TestGenerationSpec_SeedWordsStableOrder(t *testing.T) {
	spec := GenerationSpec{SeedMaterial: map[string][]string{
		"verbs": {"Book", " book", "pay"},
		"nouns": {"key", "Lobby", ""},
	}}
	want := []string{"key", "lobby", "book", "pay"}
	for i := 0; i < 5; i++ {
		if got := spec.SeedWords(); !reflect.DeepEqual(got, want) {
			t.Fatalf("SeedWords=%v want %v", got, want)
		}
	}
	if (GenerationSpec{}).SeedWords() != nil {
		t.Fatalf("expected nil for no seed material")
	}
}

func TestItemsFromValue(t *testing.T) {
	obj := map[string]any{"items": []any{map[string]any{"word": "key"}, map[string]any{"word": "lobby"}}}
	items, ok := ItemsFromValue(obj, "items")
	if !ok || len(items) != 2 {
		t.Fatalf("list key: items=%v ok=%v", items, ok)
	}

	// A single array-valued key is accepted under any name.
	items, ok = ItemsFromValue(map[string]any{"vocabulary": []any{map[string]any{"word": "key"}}, "note": "x"}, "items")
	if !ok || len(items) != 1 {
		t.Fatalf("other key: items=%v ok=%v", items, ok)
	}

	items, ok = ItemsFromValue([]any{[]any{map[string]any{"word": "a"}}, map[string]any{"word": "b"}, "menu"}, "")
	if !ok || len(items) != 3 || items[2][""] != "menu" {
		t.Fatalf("nested: items=%v ok=%v", items, ok)
	}

	items, ok = ItemsFromValue(map[string]any{"word": "key"}, "items")
	if !ok || len(items) != 1 || items[0]["word"] != "key" {
		t.Fatalf("single object: items=%v", items)
	}

	if _, ok := ItemsFromValue("text", "items"); ok {
		t.Fatalf("string should not cast")
	}
	if _, ok := ItemsFromValue(nil, "items"); ok {
		t.Fatalf("nil should not cast")
	}
}

func TestPayloadFrom(t *testing.T) {
	if _, ok := PayloadFrom(map[string]any{"items": []any{map[string]any{"w": "x"}}}, "items", "").(StructuredItems); !ok {
		t.Fatalf("expected StructuredItems")
	}
	if p, ok := PayloadFrom(nil, "items", "1. key").(RawText); !ok || p.Text != "1. key" {
		t.Fatalf("expected RawText, got %#v", p)
	}
	if _, ok := PayloadFrom(map[string]any{}, "items", "  \n").(Empty); !ok {
		t.Fatalf("expected Empty")
	}
}

func TestItemTextAndStringField(t *testing.T) {
	p := map[string]any{
		"word":    "key",
		"options": []any{"card", "code"},
		"meta":    map[string]any{"note": "front"},
		"count":   3.0,
	}
	if got := ItemText(p); got != "front card code key" {
		t.Fatalf("ItemText=%q", got)
	}
	if StringField(p, "count") != "3" || StringField(p, "word") != "key" || StringField(p, "missing") != "" || StringField(p, "options") != "" {
		t.Fatalf("StringField mismatch")
	}
}

func TestSynthesisResult_CloneIsDeep(t *testing.T) {
	orig := SynthesisResult{
		Items: []CandidateItem{{
			Payload:     map[string]any{"word": "key", "options": []any{"a", "b"}},
			SourceWords: []string{"key"},
		}},
		Strategy: Strategy{ReinforcementWords: []string{"lobby"}},
	}
	c := orig.Clone()
	c.Items[0].Payload["word"] = "changed"
	c.Items[0].Payload["options"].([]any)[0] = "z"
	c.Items[0].SourceWords[0] = "changed"
	c.Strategy.ReinforcementWords[0] = "changed"

	if orig.Items[0].Payload["word"] != "key" || orig.Items[0].Payload["options"].([]any)[0] != "a" {
		t.Fatalf("payload shared with clone: %+v", orig.Items[0].Payload)
	}
	if orig.Items[0].SourceWords[0] != "key" || orig.Strategy.ReinforcementWords[0] != "lobby" {
		t.Fatalf("slices shared with clone")
	}
}

func TestDecoderTier(t *testing.T) {
	if TierStructured.Degraded() || !TierRepairedJSON.Degraded() {
		t.Fatalf("Degraded mismatch")
	}
	if !(TierStructured.Rank() < TierRepairedJSON.Rank() && TierRepairedJSON.Rank() < TierHeuristicText.Rank() && TierHeuristicText.Rank() < TierEmergencyTemplate.Rank()) {
		t.Fatalf("tier ranks out of order")
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	for _, id := range []string{SchemaVocabulary, SchemaSentences, SchemaQuestions, SchemaGeneric} {
		if !r.Has(id) {
			t.Fatalf("missing built-in schema %s", id)
		}
	}
	if got := r.Lookup("unknown"); got.ID != SchemaGeneric {
		t.Fatalf("unknown id resolved to %s", got.ID)
	}
	if len(r.List()) != 4 || r.List()[0].ID != SchemaGeneric {
		t.Fatalf("List not sorted: %v", r.List())
	}

	if err := r.Register(Schema{ID: "broken", PrimaryField: "text"}); err == nil {
		t.Fatalf("expected error for undeclared primary field")
	}
	if err := r.Register(Schema{PrimaryField: "text", Fields: []FieldSpec{{Name: "text"}}}); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if err := r.Register(Schema{ID: "phrases", PrimaryField: "phrase", Fields: []FieldSpec{{Name: "phrase", Required: true}}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s := r.Lookup("phrases")
	if s.ListKey != "items" || s.MinPrimaryLength != 2 {
		t.Fatalf("defaults not applied: %+v", s)
	}
}

func TestSchema_CanonicalFieldAndJSONSchema(t *testing.T) {
	s := DefaultRegistry().Lookup(SchemaVocabulary)
	cases := map[string]string{
		"Word":           "word",
		"Part of speech": "part_of_speech",
		"meaning":        "definition",
		"POS":            "part_of_speech",
	}
	for in, want := range cases {
		if got, ok := s.CanonicalField(in); !ok || got != want {
			t.Fatalf("CanonicalField(%q)=%q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := s.CanonicalField("colour"); ok {
		t.Fatalf("unexpected alias match")
	}

	js := s.JSONSchema()
	props := js["properties"].(map[string]any)
	items := props["items"].(map[string]any)["items"].(map[string]any)
	if len(items["required"].([]string)) != len(s.Fields) {
		t.Fatalf("every field should be required in strict mode: %v", items["required"])
	}
}
