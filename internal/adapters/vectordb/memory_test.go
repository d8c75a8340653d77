package vectordb

import (
	"context"
	"testing"

	"github.com/logsage/logsage/internal/domain/entities"
)

func TestInMemoryStore_StoreAndSearch(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	store.Store(ctx, []entities.LogChunk{
		{ID: "c1", Source: "app.log", Content: "ERROR timeout", Embedding: []float32{1, 0, 0}},
		{ID: "c2", Source: "app.log", Content: "INFO ok", Embedding: []float32{0, 1, 0}},
	})

	results, err := store.Search(ctx, []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "c1" {
		t.Errorf("expected c1 as only result, got %+v", results)
	}
}

func TestInMemoryStore_SearchStableTies(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	store.Store(ctx, []entities.LogChunk{
		{ID: "c1", Embedding: []float32{1, 0}},
		{ID: "c2", Embedding: []float32{1, 0}},
	})

	results, _ := store.Search(ctx, []float32{1, 0}, 2)
	if results[0].ChunkID != "c1" || results[1].ChunkID != "c2" {
		t.Errorf("equal scores should keep insertion order, got %+v", results)
	}
}

func TestInMemoryStore_ReplaceSwapsContents(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	store.Store(ctx, []entities.LogChunk{
		{ID: "old", Content: "INFO old", Embedding: []float32{1, 0}},
	})
	store.SetFingerprint(ctx, "fp-old")

	if err := store.Replace(ctx, []entities.LogChunk{
		{ID: "new", Content: "ERROR new", Embedding: []float32{1, 0}},
	}, "fp-new"); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	results, _ := store.Search(ctx, []float32{1, 0}, 5)
	if len(results) != 1 || results[0].ChunkID != "new" {
		t.Errorf("expected only the new chunk, got %+v", results)
	}
	fp, _ := store.Fingerprint(ctx)
	if fp != "fp-new" {
		t.Errorf("expected fp-new, got %q", fp)
	}
}

func TestInMemoryStore_ClearAndFingerprint(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	store.Store(ctx, []entities.LogChunk{{ID: "c1", Embedding: []float32{1}}})
	store.SetFingerprint(ctx, "abc123")

	store.Clear(ctx)

	count, _ := store.Count(ctx)
	if count != 0 {
		t.Errorf("expected 0 chunks after clear, got %d", count)
	}
	fp, _ := store.Fingerprint(ctx)
	if fp != "" {
		t.Errorf("fingerprint should be cleared, got %q", fp)
	}
}
