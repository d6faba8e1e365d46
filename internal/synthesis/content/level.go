package content

import "strings"

type LevelTag string

const (
	LevelBeginner          LevelTag = "beginner"
	LevelElementary        LevelTag = "elementary"
	LevelIntermediate      LevelTag = "intermediate"
	LevelUpperIntermediate LevelTag = "upper_intermediate"
	LevelAdvanced          LevelTag = "advanced"
)

var levelOrder = map[LevelTag]int{
	LevelBeginner:          0,
	LevelElementary:        1,
	LevelIntermediate:      2,
	LevelUpperIntermediate: 3,
	LevelAdvanced:          4,
}

// CEFR-style aliases callers commonly send.
var levelAliases = map[string]LevelTag{
	"a1":           LevelBeginner,
	"a2":           LevelElementary,
	"b1":           LevelIntermediate,
	"b2":           LevelUpperIntermediate,
	"c1":           LevelAdvanced,
	"c2":           LevelAdvanced,
	"easy":         LevelBeginner,
	"medium":       LevelIntermediate,
	"hard":         LevelAdvanced,
	"upper":        LevelUpperIntermediate,
	"pre_intermed": LevelElementary,
}

func (l LevelTag) Normalize() LevelTag {
	s := strings.ToLower(strings.TrimSpace(string(l)))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if _, ok := levelOrder[LevelTag(s)]; ok {
		return LevelTag(s)
	}
	if a, ok := levelAliases[s]; ok {
		return a
	}
	return LevelIntermediate
}

// Ordinal is 0 (beginner) through 4 (advanced). Unknown tags rank as intermediate.
func (l LevelTag) Ordinal() int {
	return levelOrder[l.Normalize()]
}

// DifficultyLabel is the default value back-filled into an item's difficulty field.
func (l LevelTag) DifficultyLabel() string {
	switch l.Ordinal() {
	case 0, 1:
		return "easy"
	case 2:
		return "medium"
	default:
		return "hard"
	}
}
