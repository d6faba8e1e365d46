package content

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "but": true,
	"by": true, "for": true, "from": true, "has": true, "have": true, "in": true, "into": true,
	"is": true, "it": true, "its": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"their": true, "this": true, "to": true, "was": true, "were": true, "will": true, "with": true,
	"you": true, "your": true, "about": true, "our": true, "we": true, "they": true, "them": true,
}

func NormalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

// Tokens splits s into lower-cased word tokens. Apostrophes and hyphens inside a word are kept.
func Tokens(s string) []string {
	s = strings.ToLower(s)
	out := []string{}
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tok := strings.Trim(b.String(), "'-")
		if tok != "" {
			out = append(out, tok)
		}
		b.Reset()
	}
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case (r == '\'' || r == '-') && b.Len() > 0:
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return out
}

// Keywords returns the distinct non-stop-word tokens of s with at least three letters.
func Keywords(s string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, t := range Tokens(s) {
		if len([]rune(t)) < 3 || stopWords[t] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ItemText concatenates every string value of the payload in key order.
func ItemText(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		appendText(&b, payload[k])
	}
	return strings.TrimSpace(b.String())
}

func appendText(b *strings.Builder, v any) {
	switch t := v.(type) {
	case string:
		b.WriteString(t)
		b.WriteByte(' ')
	case []any:
		for _, e := range t {
			appendText(b, e)
		}
	case []string:
		for _, e := range t {
			b.WriteString(e)
			b.WriteByte(' ')
		}
	case map[string]any:
		b.WriteString(ItemText(t))
		b.WriteByte(' ')
	}
}

// StringField returns payload[key] rendered as a trimmed string.
func StringField(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	case float64, int, int64, bool:
		return strings.TrimSpace(fmt.Sprint(t))
	default:
		return ""
	}
}

// Matches reports whether word occurs in the token set, tolerating simple inflection suffixes.
// Multi-word seeds match when every part occurs.
func Matches(tokens map[string]bool, word string) bool {
	word = NormalizeWord(word)
	if word == "" {
		return false
	}
	parts := Tokens(word)
	if len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if !matchToken(tokens, p) {
			return false
		}
	}
	return true
}

func matchToken(tokens map[string]bool, w string) bool {
	if tokens[w] {
		return true
	}
	for _, suf := range []string{"s", "es", "ed", "d", "ing", "'s"} {
		if tokens[w+suf] {
			return true
		}
	}
	if strings.HasSuffix(w, "e") && tokens[strings.TrimSuffix(w, "e")+"ing"] {
		return true
	}
	if strings.HasSuffix(w, "y") && tokens[strings.TrimSuffix(w, "y")+"ies"] {
		return true
	}
	return false
}

func TokenSet(s string) map[string]bool {
	toks := Tokens(s)
	out := make(map[string]bool, len(toks))
	for _, t := range toks {
		out[t] = true
	}
	return out
}
