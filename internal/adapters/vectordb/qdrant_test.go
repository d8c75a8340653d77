package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/logsage/logsage/internal/domain/entities"
)

func TestQdrantStore_StoreAndSearch(t *testing.T) {
	var upserted struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  []float32      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "PUT" && r.URL.Path == "/collections/log_chunks":
			json.NewEncoder(w).Encode(map[string]any{"result": true})
		case r.Method == "PUT" && strings.HasSuffix(r.URL.Path, "/points"):
			if err := json.NewDecoder(r.Body).Decode(&upserted); err != nil {
				t.Errorf("decoding upsert: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": "completed"}})
		case r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/points/search"):
			json.NewEncoder(w).Encode(map[string]any{
				"result": []map[string]any{
					{"score": 0.95, "payload": map[string]any{"chunk_id": "c1", "source": "app.log", "content": "ERROR timeout", "seq": 1}},
					{"score": 0.40, "payload": map[string]any{"chunk_id": "c2", "source": "app.log", "content": "INFO ok", "seq": 2}},
				},
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	store := NewQdrantStore(server.URL, "log_chunks", "", 0)
	ctx := context.Background()

	err := store.Store(ctx, []entities.LogChunk{
		{ID: "c1", Source: "app.log", Content: "ERROR timeout", Embedding: []float32{1, 0}},
		{ID: "c2", Source: "app.log", Content: "INFO ok", Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if len(upserted.Points) != 2 {
		t.Fatalf("expected 2 upserted points, got %d", len(upserted.Points))
	}
	if upserted.Points[0].Payload["chunk_id"] != "c1" {
		t.Errorf("payload should carry chunk_id, got %v", upserted.Points[0].Payload)
	}

	results, err := store.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 || results[0].ChunkID != "c1" || results[0].Score != 0.95 {
		t.Errorf("unexpected search results: %+v", results)
	}
}

func TestQdrantStore_SearchBeforeStore(t *testing.T) {
	store := NewQdrantStore("http://127.0.0.1:1", "log_chunks", "", 0)

	results, err := store.Search(context.Background(), []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("search on empty store should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result, got %d", len(results))
	}
}

func TestQdrantStore_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of disk", http.StatusInternalServerError)
	}))
	defer server.Close()

	store := NewQdrantStore(server.URL, "log_chunks", "", 0)

	err := store.Store(context.Background(), []entities.LogChunk{
		{ID: "c1", Embedding: []float32{1, 0}},
	})
	if err == nil {
		t.Fatal("expected error from failing server")
	}

	var backendErr *entities.BackendError
	if !errors.As(err, &backendErr) || backendErr.Status != http.StatusInternalServerError {
		t.Errorf("expected BackendError with 500, got %v", err)
	}
}

// fakeQdrant tracks collections so generation swaps can be observed.
type fakeQdrant struct {
	t           *testing.T
	collections map[string]int // name -> stored point count
	failUpsert  map[string]bool
	searched    []string
	deleted     []string
}

func newFakeQdrant(t *testing.T) *fakeQdrant {
	return &fakeQdrant{
		t:           t,
		collections: make(map[string]int),
		failUpsert:  make(map[string]bool),
	}
}

func (f *fakeQdrant) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/collections/")
		name = strings.SplitN(name, "/", 2)[0]

		switch {
		case r.Method == "DELETE":
			if _, ok := f.collections[name]; !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			delete(f.collections, name)
			f.deleted = append(f.deleted, name)
			json.NewEncoder(w).Encode(map[string]any{"result": true})
		case r.Method == "PUT" && !strings.Contains(r.URL.Path, "/points"):
			f.collections[name] = 0
			json.NewEncoder(w).Encode(map[string]any{"result": true})
		case r.Method == "PUT" && strings.Contains(r.URL.Path, "/points"):
			if f.failUpsert[name] {
				http.Error(w, "out of disk", http.StatusInternalServerError)
				return
			}
			var body struct {
				Points []json.RawMessage `json:"points"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				f.t.Errorf("decoding upsert: %v", err)
			}
			f.collections[name] += len(body.Points)
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": "completed"}})
		case r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/points/search"):
			f.searched = append(f.searched, name)
			json.NewEncoder(w).Encode(map[string]any{
				"result": []map[string]any{
					{"score": 0.9, "payload": map[string]any{"chunk_id": "c1", "seq": 1}},
				},
			})
		default:
			f.t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	})
}

func TestQdrantStore_ReplaceSwapsGenerations(t *testing.T) {
	fake := newFakeQdrant(t)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	store := NewQdrantStore(server.URL, "log_chunks", "", 0)
	ctx := context.Background()

	chunks := []entities.LogChunk{{ID: "c1", Content: "ERROR timeout", Embedding: []float32{1, 0}}}
	if err := store.Replace(ctx, chunks, "fp1"); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if fake.collections["log_chunks_v1"] != 1 {
		t.Fatalf("expected 1 point in log_chunks_v1, got %v", fake.collections)
	}

	if _, err := store.Search(ctx, []float32{1, 0}, 5); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(fake.searched) != 1 || fake.searched[0] != "log_chunks_v1" {
		t.Errorf("search should hit the new generation, got %v", fake.searched)
	}

	if err := store.Replace(ctx, chunks, "fp2"); err != nil {
		t.Fatalf("second replace failed: %v", err)
	}
	if _, ok := fake.collections["log_chunks_v1"]; ok {
		t.Error("superseded generation should be deleted")
	}
	if fake.collections["log_chunks_v2"] != 1 {
		t.Errorf("expected 1 point in log_chunks_v2, got %v", fake.collections)
	}

	fp, _ := store.Fingerprint(ctx)
	if fp != "fp2" {
		t.Errorf("expected fingerprint fp2, got %q", fp)
	}
}

func TestQdrantStore_FailedReplaceKeepsServingPrevious(t *testing.T) {
	fake := newFakeQdrant(t)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	store := NewQdrantStore(server.URL, "log_chunks", "", 0)
	ctx := context.Background()

	chunks := []entities.LogChunk{{ID: "c1", Content: "ERROR timeout", Embedding: []float32{1, 0}}}
	if err := store.Replace(ctx, chunks, "fp1"); err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	fake.failUpsert["log_chunks_v2"] = true
	if err := store.Replace(ctx, chunks, "fp2"); err == nil {
		t.Fatal("expected error from failing upsert")
	}

	if _, err := store.Search(ctx, []float32{1, 0}, 5); err != nil {
		t.Fatalf("search after failed replace: %v", err)
	}
	if last := fake.searched[len(fake.searched)-1]; last != "log_chunks_v1" {
		t.Errorf("search must keep hitting the previous generation, got %q", last)
	}
	fp, _ := store.Fingerprint(ctx)
	if fp != "fp1" {
		t.Errorf("fingerprint must stay fp1 after failed replace, got %q", fp)
	}
}

func TestQdrantStore_APIKeyHeader(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("api-key")
		json.NewEncoder(w).Encode(map[string]any{"result": true})
	}))
	defer server.Close()

	store := NewQdrantStore(server.URL, "log_chunks", "secret", 0)

	err := store.Store(context.Background(), []entities.LogChunk{
		{ID: "c1", Embedding: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("expected api-key header, got %q", gotKey)
	}
}

func TestPointID_Deterministic(t *testing.T) {
	if pointID("c1") != pointID("c1") {
		t.Error("same chunk ID must map to same point ID")
	}
	if pointID("c1") == pointID("c2") {
		t.Error("different chunk IDs must map to different point IDs")
	}
}
