// Package vector forwards experiences to a semantic index and ranks them
// by similarity to a query. The index is optional: every failure here is
// logged and swallowed.
package vector

import (
	"context"
	"fmt"
	"sort"

	"github.com/philippgille/chromem-go"

	"github.com/rcliao/ham/internal/chunker"
	"github.com/rcliao/ham/internal/embedding"
)

// Hit is one ranked record.
type Hit struct {
	ID       string
	Score    float64
	Content  string
	Metadata map[string]string
}

// Index is the semantic index collaborator.
type Index interface {
	Add(ctx context.Context, id, text string, meta map[string]string) error
	Query(ctx context.Context, text string, limit int) ([]Hit, error)
}

const metaParent = "memory_id"

// ChromemOptions configures a ChromemIndex.
type ChromemOptions struct {
	// PersistDir keeps the index on disk. Empty means in memory.
	PersistDir string
	Collection string
	Embedder   embedding.Embedder
	Chunking   chunker.Options
}

// ChromemIndex is an Index on chromem-go. Long texts are chunked; each
// chunk is a document carrying its parent record id.
type ChromemIndex struct {
	col      *chromem.Collection
	embedder embedding.Embedder
	chunking chunker.Options
}

// NewChromemIndex opens or creates the collection.
func NewChromemIndex(opts ChromemOptions) (*ChromemIndex, error) {
	if opts.Embedder == nil {
		opts.Embedder = embedding.NewHashEmbedder(0)
	}
	if opts.Collection == "" {
		opts.Collection = "ham_memories"
	}

	db := chromem.NewDB()
	if opts.PersistDir != "" {
		var err error
		db, err = chromem.NewPersistentDB(opts.PersistDir, true)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}

	embed := func(ctx context.Context, text string) ([]float32, error) {
		return opts.Embedder.Embed(ctx, text)
	}
	col, err := db.GetOrCreateCollection(opts.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &ChromemIndex{col: col, embedder: opts.Embedder, chunking: opts.Chunking}, nil
}

func (c *ChromemIndex) Add(ctx context.Context, id, text string, meta map[string]string) error {
	for _, ch := range chunker.Split(text, c.chunking) {
		vec, err := c.embedder.Embed(ctx, ch.Text)
		if err != nil {
			return fmt.Errorf("embed %s: %w", id, err)
		}
		md := make(map[string]string, len(meta)+1)
		for k, v := range meta {
			md[k] = v
		}
		md[metaParent] = id
		doc := chromem.Document{
			ID:        fmt.Sprintf("%s#%d", id, ch.Seq),
			Metadata:  md,
			Embedding: vec,
			Content:   ch.Text,
		}
		if err := c.col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document: %w", err)
		}
	}
	return nil
}

// Query ranks parent records by their best chunk.
func (c *ChromemIndex) Query(ctx context.Context, text string, limit int) ([]Hit, error) {
	n := c.col.Count()
	if n == 0 || limit <= 0 || text == "" {
		return nil, nil
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	// over-fetch so chunk duplicates do not crowd out other records
	want := min(limit*3, n)
	results, err := c.col.QueryEmbedding(ctx, vec, want, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	best := make(map[string]Hit)
	for _, r := range results {
		id := r.Metadata[metaParent]
		if id == "" {
			id = r.ID
		}
		if h, ok := best[id]; ok && h.Score >= float64(r.Similarity) {
			continue
		}
		best[id] = Hit{ID: id, Score: float64(r.Similarity), Content: r.Content, Metadata: r.Metadata}
	}

	hits := make([]Hit, 0, len(best))
	for _, h := range best {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Count is the number of indexed chunks.
func (c *ChromemIndex) Count() int { return c.col.Count() }
