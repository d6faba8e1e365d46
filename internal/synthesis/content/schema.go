package content

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	SchemaVocabulary = "vocabulary"
	SchemaSentences  = "sentences"
	SchemaQuestions  = "questions"
	SchemaGeneric    = "generic"

	FieldDifficulty   = "difficulty"
	FieldSequenceNote = "sequence_note"
)

type FieldKind string

const (
	KindString FieldKind = "string"
	KindList   FieldKind = "list"
)

type FieldSpec struct {
	Name     string    `json:"name"`
	Kind     FieldKind `json:"kind"`
	Required bool      `json:"required"`
	// Default is used for back-filling; "$level" expands to the request's difficulty label.
	Default string `json:"default,omitempty"`
}

type Schema struct {
	ID               string            `json:"id"`
	PrimaryField     string            `json:"primary_field"`
	ListKey          string            `json:"list_key"`
	Fields           []FieldSpec       `json:"fields"`
	LabelAliases     map[string]string `json:"label_aliases,omitempty"`
	MinPrimaryLength int               `json:"min_primary_length"`
	// Templates used by the emergency tier and filler synthesis. Placeholders: {word}, {domain},
	// {n}, {level}.
	Templates map[string][]string `json:"-"`
}

func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// CanonicalField maps a free-form label (as written by a model) onto a schema field name.
func (s Schema) CanonicalField(label string) (string, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.ReplaceAll(l, " ", "_")
	l = strings.ReplaceAll(l, "-", "_")
	if l == "" {
		return "", false
	}
	if _, ok := s.Field(l); ok {
		return l, true
	}
	if f, ok := s.LabelAliases[l]; ok {
		return f, true
	}
	return "", false
}

// JSONSchema renders the strict JSON schema sent to clients that support constrained decoding.
func (s Schema) JSONSchema() map[string]any {
	props := map[string]any{}
	required := []string{}
	for _, f := range s.Fields {
		switch f.Kind {
		case KindList:
			props[f.Name] = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
		default:
			props[f.Name] = map[string]any{"type": "string"}
		}
		required = append(required, f.Name)
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			s.ListKey: map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties":           props,
					"required":             required,
				},
			},
		},
		"required": []string{s.ListKey},
	}
}

// Registry resolves schema ids. The zero value is not usable; use NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

func NewRegistry(schemas ...Schema) *Registry {
	r := &Registry{schemas: map[string]Schema{}}
	for _, s := range schemas {
		_ = r.Register(s)
	}
	return r
}

// DefaultRegistry returns a registry holding the built-in schemas.
func DefaultRegistry() *Registry {
	return NewRegistry(vocabularySchema(), sentencesSchema(), questionsSchema(), genericSchema())
}

func (r *Registry) Register(s Schema) error {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		return fmt.Errorf("schema id required")
	}
	if strings.TrimSpace(s.PrimaryField) == "" {
		return fmt.Errorf("schema %q missing primary field", id)
	}
	if _, ok := s.Field(s.PrimaryField); !ok {
		return fmt.Errorf("schema %q primary field %q not declared", id, s.PrimaryField)
	}
	if s.ListKey == "" {
		s.ListKey = "items"
	}
	if s.MinPrimaryLength <= 0 {
		s.MinPrimaryLength = 2
	}
	r.mu.Lock()
	r.schemas[id] = s
	r.mu.Unlock()
	return nil
}

// Lookup returns the schema for id, or the generic schema when id is unknown.
func (r *Registry) Lookup(id string) Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.schemas[strings.TrimSpace(id)]; ok {
		return s
	}
	if s, ok := r.schemas[SchemaGeneric]; ok {
		return s
	}
	return genericSchema()
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[strings.TrimSpace(id)]
	return ok
}

func (r *Registry) List() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func vocabularySchema() Schema {
	return Schema{
		ID:           SchemaVocabulary,
		PrimaryField: "word",
		ListKey:      "items",
		Fields: []FieldSpec{
			{Name: "word", Kind: KindString, Required: true},
			{Name: "definition", Kind: KindString},
			{Name: "example", Kind: KindString},
			{Name: "part_of_speech", Kind: KindString, Default: "unspecified"},
			{Name: FieldDifficulty, Kind: KindString, Default: "$level"},
		},
		LabelAliases: map[string]string{
			"term":       "word",
			"vocab":      "word",
			"vocabulary": "word",
			"meaning":    "definition",
			"def":        "definition",
			"sentence":   "example",
			"usage":      "example",
			"pos":        "part_of_speech",
			"type":       "part_of_speech",
			"level":      FieldDifficulty,
		},
		MinPrimaryLength: 2,
		Templates: map[string][]string{
			"definition": {
				"A word used in {domain}: {word}.",
				"{word}: an everyday term in {domain}.",
				"Core vocabulary for {domain} ({word}).",
			},
			"example": {
				"I need the {word} for the {domain}.",
				"Could you help me with the {word}, please?",
				"The {word} is important in {domain}.",
			},
		},
	}
}

func sentencesSchema() Schema {
	return Schema{
		ID:           SchemaSentences,
		PrimaryField: "sentence",
		ListKey:      "items",
		Fields: []FieldSpec{
			{Name: "sentence", Kind: KindString, Required: true},
			{Name: "translation", Kind: KindString},
			{Name: "target_word", Kind: KindString},
			{Name: FieldDifficulty, Kind: KindString, Default: "$level"},
		},
		LabelAliases: map[string]string{
			"example":    "sentence",
			"text":       "sentence",
			"word":       "target_word",
			"target":     "target_word",
			"meaning":    "translation",
			"translated": "translation",
			"level":      FieldDifficulty,
		},
		MinPrimaryLength: 6,
		Templates: map[string][]string{
			"sentence": {
				"I would like to ask about the {word}.",
				"Here is the {word} you asked for.",
				"Do you know where the {word} is?",
				"We talked about the {word} during the {domain}.",
			},
		},
	}
}

func questionsSchema() Schema {
	return Schema{
		ID:           SchemaQuestions,
		PrimaryField: "question",
		ListKey:      "items",
		Fields: []FieldSpec{
			{Name: "question", Kind: KindString, Required: true},
			{Name: "answer", Kind: KindString},
			{Name: "options", Kind: KindList},
			{Name: "target_word", Kind: KindString},
			{Name: FieldDifficulty, Kind: KindString, Default: "$level"},
		},
		LabelAliases: map[string]string{
			"q":       "question",
			"prompt":  "question",
			"a":       "answer",
			"correct": "answer",
			"choices": "options",
			"word":    "target_word",
			"level":   FieldDifficulty,
		},
		MinPrimaryLength: 6,
		Templates: map[string][]string{
			"question": {
				"What does \"{word}\" mean in {domain}?",
				"When would you use the word \"{word}\"?",
				"Which situation in {domain} needs a {word}?",
			},
			"answer": {
				"{word}",
			},
		},
	}
}

func genericSchema() Schema {
	return Schema{
		ID:           SchemaGeneric,
		PrimaryField: "text",
		ListKey:      "items",
		Fields: []FieldSpec{
			{Name: "text", Kind: KindString, Required: true},
			{Name: FieldDifficulty, Kind: KindString, Default: "$level"},
		},
		LabelAliases: map[string]string{
			"item":    "text",
			"content": "text",
			"word":    "text",
			"level":   FieldDifficulty,
		},
		MinPrimaryLength: 2,
		Templates: map[string][]string{
			"text": {
				"{word}",
			},
		},
	}
}
