package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0},
		{"empty", Vector{}, Vector{}, 0.0},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 0.001 {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestHashEmbedderLexicalSimilarity(t *testing.T) {
	e := NewHashEmbedder(0)
	ctx := context.Background()

	coffee, _ := e.Embed(ctx, "I love morning coffee with milk")
	coffee2, _ := e.Embed(ctx, "coffee with milk is the best")
	rain, _ := e.Embed(ctx, "heavy rain flooded the river")

	if len(coffee) != 384 {
		t.Fatalf("expected 384 dims, got %d", len(coffee))
	}
	if CosineSimilarity(coffee, coffee2) <= CosineSimilarity(coffee, rain) {
		t.Error("expected overlapping texts to be closer")
	}

	again, _ := e.Embed(ctx, "I love morning coffee with milk")
	if CosineSimilarity(coffee, again) < 0.9999 {
		t.Error("expected deterministic output")
	}
}

func TestHashEmbedderEmptyText(t *testing.T) {
	v, err := NewHashEmbedder(8).Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if v[0] != 1 {
		t.Errorf("expected unit vector on first axis, got %v", v)
	}
}

func TestNewProviders(t *testing.T) {
	for _, p := range []string{"", "hash", "ollama", "openai"} {
		if _, err := New(Options{Provider: p}); err != nil {
			t.Errorf("provider %q: %v", p, err)
		}
	}
	if _, err := New(Options{Provider: "bogus"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "all-minilm", srv.Client())
	v, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v) != 2 || e.Dims() != 384 {
		t.Errorf("unexpected result %v dims %d", v, e.Dims())
	}
}

func TestOpenAIEmbedderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing auth header")
		}
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAIEmbedder(srv.URL, "k", "", 0, srv.Client()).Embed(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "text-embedding-3-small" {
			t.Errorf("unexpected model %v", req["model"])
		}
		if _, ok := req["dimensions"]; ok {
			t.Error("dimensions sent without being configured")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",` +
			`"data":[{"object":"embedding","index":0,"embedding":[0.5,0.25,0]}],` +
			`"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "k", "", 0, srv.Client())
	v, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v) != 3 || v[0] != 0.5 || v[1] != 0.25 {
		t.Errorf("unexpected vector %v", v)
	}
	if e.Dims() != 1536 {
		t.Errorf("expected default dims, got %d", e.Dims())
	}
}
