package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	fieldWeight = 2.0
	wordWeight  = 1.0
)

// HashEmbedder is a local feature-hashing embedder. It needs no network, is
// a pure function of its input and keeps the fixed-dimension contract, so it
// is the default backend and the fallback for tests.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder with dims buckets
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Dimensions() int { return h.dims }

func (h *HashEmbedder) Model() string { return fmt.Sprintf("feature-hash-%d", h.dims) }

// Embed hashes "key: value" lines as whole-field features and every word as
// a token feature, then normalizes
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, h.dims)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		value := line
		if key, rest, ok := strings.Cut(line, ":"); ok && !strings.ContainsAny(key, " \t") {
			value = strings.TrimSpace(rest)
			if value != "" {
				h.add(vec, key+"="+strings.ToLower(value), fieldWeight)
			}
		}
		for _, word := range tokenize(value) {
			h.add(vec, "w:"+word, wordWeight)
		}
	}

	if _, ok := Normalize(vec); !ok {
		return nil, fmt.Errorf("no features in input text")
	}
	return vec, nil
}

// add uses the low bits for the bucket and the top bit for the sign
func (h *HashEmbedder) add(vec []float64, feature string, weight float64) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()

	bucket := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
