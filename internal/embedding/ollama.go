package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// knownOllamaDims maps the common local embedding models to their width.
var knownOllamaDims = map[string]int{
	"nomic-embed-text":  768,
	"all-minilm":        384,
	"mxbai-embed-large": 1024,
}

// OllamaEmbedder asks a local Ollama server for embeddings.
type OllamaEmbedder struct {
	endpoint string
	model    string
	dims     int
	client   *http.Client
}

// NewOllamaEmbedder targets baseURL, then $OLLAMA_HOST, then localhost.
// Unknown models are assumed to be 768 wide.
func NewOllamaEmbedder(baseURL, model string, client *http.Client) *OllamaEmbedder {
	for _, u := range []string{baseURL, os.Getenv("OLLAMA_HOST"), "http://localhost:11434"} {
		if u != "" {
			baseURL = u
			break
		}
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	dims, ok := knownOllamaDims[model]
	if !ok {
		dims = 768
	}
	return &OllamaEmbedder{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/embeddings",
		model:    model,
		dims:     dims,
		client:   client,
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	in := map[string]string{"model": e.model, "prompt": text}
	if err := postJSON(ctx, e.client, e.endpoint, in, &out); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding for model %s", e.model)
	}
	return out.Embedding, nil
}

func (e *OllamaEmbedder) Dims() int { return e.dims }

// postJSON sends in as a JSON body and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
