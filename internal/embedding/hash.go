package embedding

import (
	"context"
	"hash/fnv"

	"github.com/rcliao/ham/internal/processor"
)

const defaultHashDims = 384

// HashEmbedder is a feature-hashing bag of words: texts sharing content
// words get similar vectors. Deterministic and offline.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder. dims <= 0 selects 384.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	v := make(Vector, e.dims)
	toks := processor.ContentTokens(text)
	if len(toks) == 0 {
		toks = processor.Tokenize(text)
	}
	for _, tok := range toks {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		v[sum%uint64(e.dims)] += sign
	}
	if len(toks) == 0 {
		// chromem rejects zero vectors
		v[0] = 1
	}
	return Normalize(v), nil
}

func (e *HashEmbedder) Dims() int { return e.dims }
