package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/yungbote/neurobridge-synthesis/internal/synthesis/content"
)

// Store holds synthesis results keyed by Key(spec). Implementations are safe for concurrent use
// and hand out copies, never shared references.
type Store interface {
	Get(ctx context.Context, key string) (content.SynthesisResult, bool)
	Set(ctx context.Context, key string, result content.SynthesisResult) error
	Delete(ctx context.Context, key string) bool
	Len(ctx context.Context) int
	Stats(ctx context.Context) Stats
	Close() error
}

// Pinger is implemented by stores backed by a remote server.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Stats struct {
	Backend     string  `json:"backend"`
	Entries     int     `json:"entries"`
	MaxEntries  int     `json:"max_entries"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	HitRate     float64 `json:"hit_rate"`
}

func (s *Stats) computeHitRate() {
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
}

// Key is the content-derived cache key: sha256 over the schema id, a digest of the domain
// context, a digest of the canonical seed material and the target count.
func Key(spec content.GenerationSpec) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(spec.SchemaID)))
	h.Write([]byte("|"))
	h.Write([]byte(digest([]byte(strings.TrimSpace(spec.DomainContext)))))
	h.Write([]byte("|"))
	h.Write([]byte(digest(canonicalSeed(spec.SeedMaterial))))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.Itoa(spec.TargetCount)))
	return hex.EncodeToString(h.Sum(nil))
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalSeed renders seed material as JSON with sorted keys and sorted, normalized values, so
// ordering and casing differences do not change the key.
func canonicalSeed(seed map[string][]string) []byte {
	canon := make(map[string][]string, len(seed))
	for field, words := range seed {
		vals := make([]string, 0, len(words))
		for _, w := range words {
			if n := content.NormalizeWord(w); n != "" {
				vals = append(vals, n)
			}
		}
		if len(vals) == 0 {
			continue
		}
		sort.Strings(vals)
		canon[strings.TrimSpace(field)] = vals
	}
	// encoding/json writes map keys in sorted order.
	b, _ := json.Marshal(canon)
	return b
}

// Noop never stores anything; used when caching is disabled.
type Noop struct{}

func (Noop) Get(context.Context, string) (content.SynthesisResult, bool) {
	return content.SynthesisResult{}, false
}
func (Noop) Set(context.Context, string, content.SynthesisResult) error { return nil }
func (Noop) Delete(context.Context, string) bool                        { return false }
func (Noop) Len(context.Context) int                                    { return 0 }
func (Noop) Stats(context.Context) Stats                                { return Stats{Backend: "none"} }
func (Noop) Close() error                                               { return nil }
