package usecases

import (
	"context"
	"log/slog"

	"github.com/logsage/logsage/internal/domain/entities"
	"github.com/logsage/logsage/internal/domain/ports"
)

// Retriever performs similarity search over the indexed corpus. It never
// returns an error: an unreachable embedder or store degrades to an empty
// result, which the orchestrator treats as "no grounding context".
type Retriever struct {
	embedder ports.EmbeddingService
	store    ports.VectorStore
	topK     int
	logger   *slog.Logger
}

// NewRetriever creates a retriever with the given result budget.
func NewRetriever(embedder ports.EmbeddingService, store ports.VectorStore, topK int, logger *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		topK:     topK,
		logger:   logger,
	}
}

// Retrieve returns the topK chunks most relevant to the query, or an empty
// slice when retrieval is impossible. A cancelled ctx short-circuits.
func (uc *Retriever) Retrieve(ctx context.Context, query string) []entities.RetrievedChunk {
	if ctx.Err() != nil {
		return nil
	}

	embedding, err := uc.embedder.Embed(ctx, query)
	if err != nil {
		uc.logger.Warn("query embedding failed, proceeding without context", "error", err)
		return nil
	}

	results, err := uc.store.Search(ctx, embedding, uc.topK)
	if err != nil {
		uc.logger.Warn("vector search failed, proceeding without context", "error", err)
		return nil
	}
	return results
}
