package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcliao/ham/internal/model"
	"github.com/rcliao/ham/internal/processor"
)

func newTestCodec(t *testing.T) *processor.Codec {
	t.Helper()
	key, err := processor.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	c, err := processor.NewCodec(key)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func newTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	s, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "test.db"), newTestCodec(t))
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot() *Snapshot {
	ts := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	snap := NewSnapshot()
	snap.Memories["mem_000001"] = model.MemoryRecord{
		ID: "mem_000001", Timestamp: ts, DataType: "user_dialogue_text",
		EncryptedPackage: []byte{1, 2, 3},
		Metadata:         model.Metadata{"speaker": "user", model.MetaImportance: 0.4},
		Relevance:        0.5,
	}
	snap.Memories["mem_000002"] = model.MemoryRecord{
		ID: "mem_000002", Timestamp: ts.Add(time.Minute), DataType: "emotionalMemory",
		EncryptedPackage: []byte{4, 5},
		Metadata:         model.Metadata{},
		Relevance:        0.9,
		Protected:        true,
	}
	snap.NextMemoryID = 3
	return snap
}

func TestSQLiteSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	if err := s.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.NextMemoryID != 3 {
		t.Errorf("expected next id 3, got %d", got.NextMemoryID)
	}
	if len(got.Memories) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got.Memories))
	}
	r := got.Memories["mem_000002"]
	if !r.Protected || r.Relevance != 0.9 || r.DataType != "emotionalMemory" {
		t.Errorf("unexpected record: %+v", r)
	}
	if s := got.Memories["mem_000001"].Metadata.String("speaker"); s != "user" {
		t.Errorf("expected speaker user, got %q", s)
	}
}

func TestSQLiteSaveRemovesDeleted(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	snap := sampleSnapshot()
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	delete(snap.Memories, "mem_000001")
	snap.NextMemoryID = 4
	if err := s.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := got.Memories["mem_000001"]; ok {
		t.Error("expected mem_000001 to be gone")
	}
	if got.NextMemoryID != 4 {
		t.Errorf("expected next id 4, got %d", got.NextMemoryID)
	}
}

func TestSQLiteUsage(t *testing.T) {
	s := newTestSQLite(t)
	if err := s.Save(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	n, err := s.Usage()
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if n <= 0 {
		t.Errorf("expected positive usage, got %d", n)
	}
}
