package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultOpenAIEmbedModel = "text-embedding-3-small"
	defaultOpenAIEmbedDims  = 1536
)

// OpenAIEmbedder calls the embeddings endpoint of any OpenAI-compatible
// API. Dimensions are only requested when set explicitly.
type OpenAIEmbedder struct {
	client   openaigo.Client
	model    string
	dims     int
	explicit bool
}

func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int, client *http.Client) *OpenAIEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey)), option.WithMaxRetries(0)}
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}
	if model == "" {
		model = defaultOpenAIEmbedModel
	}
	e := &OpenAIEmbedder{client: openaigo.NewClient(opts...), model: model, dims: dims, explicit: dims > 0}
	if !e.explicit {
		e.dims = defaultOpenAIEmbedDims
	}
	return e
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	params := openaigo.EmbeddingNewParams{
		Model: openaigo.EmbeddingModel(e.model),
		Input: openaigo.EmbeddingNewParamsInputUnion{OfString: openaigo.String(text)},
	}
	if e.explicit {
		params.Dimensions = openaigo.Int(int64(e.dims))
	}
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embedding")
	}
	src := resp.Data[0].Embedding
	v := make(Vector, len(src))
	for i, x := range src {
		v[i] = float32(x)
	}
	return v, nil
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }
