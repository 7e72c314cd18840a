// Package embedding turns text into vectors for the semantic index.
package embedding

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// Options selects and configures a provider.
type Options struct {
	Provider string // hash | ollama | openai
	Model    string
	URL      string
	APIKey   string
	Dims     int
	Timeout  time.Duration
}

// New builds the embedder named by opts.Provider. The hash provider needs
// no network and is the default.
func New(opts Options) (Embedder, error) {
	client := &http.Client{Timeout: opts.Timeout}
	if opts.Timeout == 0 {
		client.Timeout = 30 * time.Second
	}
	switch opts.Provider {
	case "", "hash":
		return NewHashEmbedder(opts.Dims), nil
	case "ollama":
		return NewOllamaEmbedder(opts.URL, opts.Model, client), nil
	case "openai":
		return NewOpenAIEmbedder(opts.URL, opts.APIKey, opts.Model, opts.Dims, client), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize scales v to unit length in place. A zero vector is unchanged.
func Normalize(v Vector) Vector {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return v
}
