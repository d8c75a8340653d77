package vectordb

import (
	"context"
	"sort"
	"sync"

	"github.com/logsage/logsage/internal/domain/entities"
)

// InMemoryStore keeps the index in process memory. Useful for tests and for
// small corpora where persistence across restarts does not matter.
type InMemoryStore struct {
	mu          sync.RWMutex
	chunks      []entities.LogChunk // insertion order, so ties stay stable
	fingerprint string
}

// NewInMemoryStore creates an empty in-memory vector store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Store saves chunks with their embeddings.
func (s *InMemoryStore) Store(ctx context.Context, chunks []entities.LogChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks = append(s.chunks, chunks...)
	return nil
}

// Replace swaps the whole index and fingerprint under the write lock.
func (s *InMemoryStore) Replace(ctx context.Context, chunks []entities.LogChunk, fingerprint string) error {
	fresh := make([]entities.LogChunk, len(chunks))
	copy(fresh, chunks)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks = fresh
	s.fingerprint = fingerprint
	return nil
}

// Search finds the topK chunks most similar to a query embedding.
func (s *InMemoryStore) Search(ctx context.Context, embedding []float32, topK int) ([]entities.RetrievedChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]entities.RetrievedChunk, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		results = append(results, entities.RetrievedChunk{
			ChunkID: chunk.ID,
			Source:  chunk.Source,
			Content: chunk.Content,
			Score:   cosineSimilarity(embedding, chunk.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count returns the number of stored chunks.
func (s *InMemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.chunks), nil
}

// Clear removes all chunks and the stored fingerprint.
func (s *InMemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks = nil
	s.fingerprint = ""
	return nil
}

// Fingerprint returns the corpus fingerprint recorded at build time.
func (s *InMemoryStore) Fingerprint(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.fingerprint, nil
}

// SetFingerprint records the corpus fingerprint for the current contents.
func (s *InMemoryStore) SetFingerprint(ctx context.Context, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fingerprint = fp
	return nil
}
