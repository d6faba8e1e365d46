package decode

import (
	"regexp"
	"strings"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

var (
	numberedMarker = regexp.MustCompile(`^(?:\(?\d{1,3}[.)\]:]|#\d{1,3}[.:]?)\s+`)
	bulletMarker   = regexp.MustCompile(`^(?:[-*+•·▪‣]|–|—)\s+`)
	labelLine      = regexp.MustCompile(`^([A-Za-z][A-Za-z _-]{0,24}):\s*(.*)$`)
	pairSeparators = []string{" - ", " – ", " — ", " = ", ": "}
)

// Heuristic reconstructs items from labeled, numbered or bulleted lines when no JSON is
// recoverable.
type Heuristic struct{}

func (Heuristic) Tier() content.DecoderTier { return content.TierHeuristicText }

func (Heuristic) Decode(in Input) ([]map[string]any, bool) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, false
	}
	p := lineParser{schema: in.Schema, secondary: secondaryField(in.Schema)}
	for _, line := range strings.Split(text, "\n") {
		p.feed(line)
	}
	p.flush()

	out := make([]map[string]any, 0, len(p.items))
	for _, it := range p.items {
		if _, ok := it[in.Schema.PrimaryField]; ok {
			out = append(out, it)
		}
	}
	return out, len(out) > 0
}

type lineParser struct {
	schema    content.Schema
	secondary string
	items     []map[string]any
	cur       map[string]any
}

func (p *lineParser) flush() {
	if len(p.cur) > 0 {
		p.items = append(p.items, p.cur)
	}
	p.cur = nil
}

func (p *lineParser) start() {
	p.flush()
	p.cur = map[string]any{}
}

func (p *lineParser) feed(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "```") {
		return
	}
	rest, marked := stripListMarker(line)
	rest = stripEmphasis(rest)
	if rest == "" {
		return
	}

	if m := labelLine.FindStringSubmatch(rest); m != nil {
		if field, ok := p.schema.CanonicalField(m[1]); ok {
			value := strings.TrimSpace(stripEmphasis(m[2]))
			if field == p.schema.PrimaryField || p.cur == nil {
				if p.cur == nil || hasField(p.cur, p.schema.PrimaryField) || marked {
					p.start()
				}
			} else if marked && hasField(p.cur, p.schema.PrimaryField) && hasField(p.cur, field) {
				p.start()
			}
			if value != "" {
				p.set(field, value)
			}
			return
		}
	}

	if marked {
		p.start()
		if term, def, ok := splitPair(rest); ok && p.secondary != "" {
			p.set(p.schema.PrimaryField, term)
			p.set(p.secondary, def)
			return
		}
		p.set(p.schema.PrimaryField, rest)
		return
	}

	// Unlabeled continuation line.
	if p.cur != nil && p.secondary != "" && !hasField(p.cur, p.secondary) {
		p.set(p.secondary, rest)
	}
}

func (p *lineParser) set(field, value string) {
	if p.cur == nil {
		p.cur = map[string]any{}
	}
	if f, ok := p.schema.Field(field); ok && f.Kind == content.KindList {
		parts := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' || r == '|' || r == '/' })
		list := make([]any, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				list = append(list, part)
			}
		}
		p.cur[field] = list
		return
	}
	p.cur[field] = strings.Trim(value, `"'`)
}

func hasField(m map[string]any, field string) bool {
	_, ok := m[field]
	return ok
}

func stripListMarker(line string) (string, bool) {
	if loc := numberedMarker.FindStringIndex(line); loc != nil {
		return strings.TrimSpace(line[loc[1]:]), true
	}
	if loc := bulletMarker.FindStringIndex(line); loc != nil {
		return strings.TrimSpace(line[loc[1]:]), true
	}
	return line, false
}

func stripEmphasis(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	return strings.TrimSpace(s)
}

// splitPair splits "term - definition" style entries. The left side must look like a short term.
func splitPair(s string) (string, string, bool) {
	for _, sep := range pairSeparators {
		i := strings.Index(s, sep)
		if i <= 0 {
			continue
		}
		left := strings.TrimSpace(s[:i])
		right := strings.TrimSpace(s[i+len(sep):])
		if left == "" || right == "" || len(strings.Fields(left)) > 4 {
			continue
		}
		return strings.Trim(left, `"'`), right, true
	}
	return "", "", false
}

// secondaryField is the first optional string field that is not a difficulty marker; it receives
// the right side of "term - definition" lines and continuation text.
func secondaryField(s content.Schema) string {
	for _, f := range s.Fields {
		if f.Name == s.PrimaryField || f.Kind != content.KindString {
			continue
		}
		if f.Name == content.FieldDifficulty || f.Name == "target_word" || f.Name == "part_of_speech" {
			continue
		}
		return f.Name
	}
	return ""
}
