package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/logsage/logsage/internal/domain/entities"
)

// QdrantStore implements ports.VectorStore against the Qdrant REST API.
// Point IDs are deterministic UUIDs derived from chunk IDs, so re-indexing
// the same corpus upserts in place instead of duplicating points.
//
// The corpus fingerprint is held in memory only: a restart with a Qdrant
// store always rebuilds the index, which keeps the adapter free of extra
// collection bookkeeping.
type QdrantStore struct {
	mu          sync.RWMutex
	baseURL     string
	apiKey      string
	base        string
	collection  string
	gen         int
	vectorSize  int
	client      *http.Client
	seq         int64
	fingerprint string
	ensured     bool
}

// NewQdrantStore creates a REST-backed vector store. The collection is
// created lazily on the first Store call, once the vector size is known.
// apiKey may be empty for an unauthenticated local instance.
func NewQdrantStore(baseURL, collection, apiKey string, timeout time.Duration) *QdrantStore {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	if collection == "" {
		collection = "log_chunks"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		base:       collection,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *QdrantStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &entities.BackendError{Status: resp.StatusCode, Message: string(msg)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("qdrant %s %s: %w: %v", method, path, entities.ErrMalformedResponse, err)
		}
	}
	return nil
}

// ensureCollection creates the collection if it does not exist yet.
// Caller holds the write lock.
func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize int) error {
	if s.ensured && s.vectorSize == vectorSize {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	err := s.do(ctx, "PUT", "/collections/"+s.collection, body, nil)
	if err != nil {
		// 409 means the collection already exists, which is fine.
		var backendErr *entities.BackendError
		if !errors.As(err, &backendErr) || backendErr.Status != http.StatusConflict {
			return err
		}
	}

	s.ensured = true
	s.vectorSize = vectorSize
	return nil
}

// pointID derives a stable UUID from a chunk ID, as Qdrant only accepts
// UUIDs or unsigned integers as point IDs.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// Store saves chunks with their embeddings.
func (s *QdrantStore) Store(ctx context.Context, chunks []entities.LogChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureCollection(ctx, len(chunks[0].Embedding)); err != nil {
		return err
	}

	points := make([]map[string]any, 0, len(chunks))
	for _, chunk := range chunks {
		s.seq++
		points = append(points, point(chunk, s.seq))
	}

	return s.do(ctx, "PUT", "/collections/"+s.collection+"/points?wait=true",
		map[string]any{"points": points}, nil)
}

func point(chunk entities.LogChunk, seq int64) map[string]any {
	return map[string]any{
		"id":     pointID(chunk.ID),
		"vector": chunk.Embedding,
		"payload": map[string]any{
			"chunk_id": chunk.ID,
			"source":   chunk.Source,
			"line":     chunk.Line,
			"level":    chunk.Level,
			"content":  chunk.Content,
			"seq":      seq,
		},
	}
}

// Replace builds the new index into a fresh generation collection and only
// then makes it the one served by Search. A failed replace leaves the
// previous collection in place and still searchable.
func (s *QdrantStore) Replace(ctx context.Context, chunks []entities.LogChunk, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(chunks) == 0 {
		if s.ensured {
			if err := s.do(ctx, "DELETE", "/collections/"+s.collection, nil, nil); err != nil {
				return err
			}
		}
		s.collection = s.base
		s.ensured = false
		s.seq = 0
		s.fingerprint = fingerprint
		return nil
	}

	s.gen++
	next := fmt.Sprintf("%s_v%d", s.base, s.gen)

	// A crashed earlier run may have left a collection under this name.
	if err := s.do(ctx, "DELETE", "/collections/"+next, nil, nil); err != nil {
		var backendErr *entities.BackendError
		if !errors.As(err, &backendErr) || backendErr.Status != http.StatusNotFound {
			return err
		}
	}

	vectorSize := len(chunks[0].Embedding)
	if err := s.do(ctx, "PUT", "/collections/"+next, map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}, nil); err != nil {
		return err
	}

	points := make([]map[string]any, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, point(chunk, int64(i+1)))
	}
	if err := s.do(ctx, "PUT", "/collections/"+next+"/points?wait=true",
		map[string]any{"points": points}, nil); err != nil {
		return err
	}

	prev := s.collection
	prevEnsured := s.ensured
	s.collection = next
	s.ensured = true
	s.vectorSize = vectorSize
	s.seq = int64(len(chunks))
	s.fingerprint = fingerprint

	// Best-effort cleanup of the superseded generation.
	if prevEnsured && prev != next {
		_ = s.do(ctx, "DELETE", "/collections/"+prev, nil, nil)
	}
	return nil
}

type qdrantSearchResponse struct {
	Result []struct {
		Score   float64 `json:"score"`
		Payload struct {
			ChunkID string `json:"chunk_id"`
			Source  string `json:"source"`
			Content string `json:"content"`
			Seq     int64  `json:"seq"`
		} `json:"payload"`
	} `json:"result"`
}

// Search finds the topK chunks most similar to a query embedding.
func (s *QdrantStore) Search(ctx context.Context, embedding []float32, topK int) ([]entities.RetrievedChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ensured {
		return nil, nil
	}

	body := map[string]any{
		"vector":       embedding,
		"limit":        topK,
		"with_payload": true,
	}

	var out qdrantSearchResponse
	if err := s.do(ctx, "POST", "/collections/"+s.collection+"/points/search", body, &out); err != nil {
		return nil, err
	}

	type scored struct {
		chunk entities.RetrievedChunk
		seq   int64
	}
	results := make([]scored, 0, len(out.Result))
	for _, r := range out.Result {
		results = append(results, scored{
			chunk: entities.RetrievedChunk{
				ChunkID: r.Payload.ChunkID,
				Source:  r.Payload.Source,
				Content: r.Payload.Content,
				Score:   r.Score,
			},
			seq: r.Payload.Seq,
		})
	}

	// Qdrant orders by score but leaves ties unspecified; re-sort with the
	// insertion sequence as tiebreaker.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].chunk.Score != results[j].chunk.Score {
			return results[i].chunk.Score > results[j].chunk.Score
		}
		return results[i].seq < results[j].seq
	})

	retrieved := make([]entities.RetrievedChunk, len(results))
	for i, r := range results {
		retrieved[i] = r.chunk
	}
	return retrieved, nil
}

type qdrantCountResponse struct {
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
}

// Count returns the number of stored chunks.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ensured {
		return 0, nil
	}

	var out qdrantCountResponse
	err := s.do(ctx, "POST", "/collections/"+s.collection+"/points/count",
		map[string]any{"exact": true}, &out)
	if err != nil {
		return 0, err
	}
	return out.Result.Count, nil
}

// Clear drops the collection and forgets the fingerprint.
func (s *QdrantStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ensured {
		if err := s.do(ctx, "DELETE", "/collections/"+s.collection, nil, nil); err != nil {
			return err
		}
	}
	s.ensured = false
	s.seq = 0
	s.fingerprint = ""
	return nil
}

// Fingerprint returns the corpus fingerprint recorded at build time.
func (s *QdrantStore) Fingerprint(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.fingerprint, nil
}

// SetFingerprint records the corpus fingerprint for the current contents.
func (s *QdrantStore) SetFingerprint(ctx context.Context, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fingerprint = fp
	return nil
}
