package semantic

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// Embedder turns texts into fixed-dimension vectors.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: Embed should honor cancellation; the index still abandons
//     calls that overrun their timeout.
//   - Embed returns exactly one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model names the embedding model. Snapshots written under one model are
	// not reused under another.
	Model() string
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc struct {
	Name string
	Fn   func(ctx context.Context, texts []string) ([][]float32, error)
}

// Embed calls f.Fn.
func (f EmbedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f.Fn(ctx, texts)
}

// Model returns f.Name.
func (f EmbedderFunc) Model() string { return f.Name }

// DefaultNgramDim is the vector size used by NgramEmbedder when Dim is zero.
const DefaultNgramDim = 512

// NgramEmbedder is an offline embedder that hashes character unigrams and
// bigrams into a fixed-size vector. It needs no model download, works on
// CJK text where word tokenization does not apply, and is deterministic.
// It captures surface similarity only.
type NgramEmbedder struct {
	Dim int
}

// Model identifies the hashing scheme and dimension.
func (n NgramEmbedder) Model() string {
	return fmt.Sprintf("ngram-%d", n.dim())
}

func (n NgramEmbedder) dim() int {
	if n.Dim <= 0 {
		return DefaultNgramDim
	}
	return n.Dim
}

// Embed hashes each text. It never fails except on cancellation.
func (n NgramEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = n.embedOne(text)
	}
	return out, nil
}

func (n NgramEmbedder) embedOne(text string) []float32 {
	dim := n.dim()
	vec := make([]float32, dim)

	runes := make([]rune, 0, len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			r = ' '
		}
		runes = append(runes, r)
	}

	add := func(feature string, weight float32) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(dim))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}

	for i, r := range runes {
		if r == ' ' {
			continue
		}
		add(string(r), 1)
		if i+1 < len(runes) && runes[i+1] != ' ' {
			add(string(runes[i:i+2]), 2)
		}
	}
	return vec
}
