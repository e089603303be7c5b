// Package local_provider implements an offline provider: a
// deterministic feature-hashing embedder and an extractive generator.
// It needs no network access, which makes it useful for development
// and tests; answer quality is well below a hosted LLM.
package local_provider

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/docqa/models"
)

// Dimension is the fixed size of locally produced embedding vectors.
const Dimension = 256

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Provider is the offline embedder+generator.
type Provider struct{}

func New() *Provider { return &Provider{} }

// ModelID identifies the local hashing embedder. The version suffix
// changes whenever the hashing scheme changes, so indexes built with an
// older scheme are rejected instead of silently mis-scored.
func (p *Provider) ModelID() string { return "local/hash-256-v1" }

// CreateEmbedding maps each text to an L2-normalized bag-of-words
// vector using feature hashing. Pure function of the input text.
func (p *Provider) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		vecs[i] = embedOne(text)
	}
	return vecs, nil
}

func embedOne(text string) []float32 {
	vec := make([]float32, Dimension)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		bucket := sum % Dimension
		// top hash bit decides the sign
		if sum&0x80000000 != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// Answer returns an extractive answer: the most relevant retrieved span
// verbatim. Contexts arrive in retrieval order, so the first one is the
// best match.
func (p *Provider) Answer(ctx context.Context, question string, contexts []string) (models.Answer, error) {
	if err := ctx.Err(); err != nil {
		return models.Answer{}, err
	}
	if len(contexts) == 0 {
		return models.Answer{}, errors.New("local provider: no context to answer from")
	}
	text := strings.TrimSpace(contexts[0])
	tokens := len(tokenPattern.FindAllString(question, -1))
	for _, c := range contexts {
		tokens += len(tokenPattern.FindAllString(c, -1))
	}
	return models.Answer{Text: text, TokensUsed: tokens}, nil
}
