// Package ports defines interfaces for external dependencies.
// Usecases depend on these abstractions, not concrete implementations.
// Adapters implement these interfaces.
package ports

import (
	"context"

	"github.com/logsage/logsage/internal/domain/entities"
)

// EmbeddingService generates vector embeddings for text. Embedding is always
// served by the local inference runtime regardless of which chat backend is
// selected; the remote API offers no embeddings.
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CompleteOptions tune a single chat-completion call.
type CompleteOptions struct {
	Temperature float64
	MaxTokens   int
}

// ChatBackend is the uniform chat-completion interface. Two implementations
// exist: the remote DeepSeek-compatible API and the local Ollama runtime.
// Selection happens once at startup, never at request time.
type ChatBackend interface {
	// Complete produces the full response for a prompt. Used by the
	// intent classifier and other short non-streaming calls.
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error)

	// StreamComplete produces an incremental response. The returned channel
	// is closed after exactly one terminal event (Done or Err). Cancelling
	// ctx terminates the stream with Err = ctx.Err().
	StreamComplete(ctx context.Context, prompt string, opts CompleteOptions) (<-chan entities.StreamEvent, error)
}

// VectorStore persists log chunk embeddings and supports similarity search.
// A store also remembers the fingerprint of the corpus snapshot it was built
// from, so the indexer can decide between loading and rebuilding.
type VectorStore interface {
	// Store saves chunks with their embeddings.
	Store(ctx context.Context, chunks []entities.LogChunk) error

	// Replace swaps the entire index contents and fingerprint in one step.
	// Concurrent readers see either the previous index or the new one, never
	// a partial mix; on error the previous contents survive.
	Replace(ctx context.Context, chunks []entities.LogChunk, fingerprint string) error

	// Search returns the topK most similar chunks, score descending, ties
	// broken by insertion order. An empty store yields an empty result.
	Search(ctx context.Context, embedding []float32, topK int) ([]entities.RetrievedChunk, error)

	// Count returns the number of indexed chunks.
	Count(ctx context.Context) (int, error)

	// Clear removes all chunks and the stored fingerprint.
	Clear(ctx context.Context) error

	// Fingerprint returns the corpus fingerprint recorded at build time,
	// or "" when none is stored.
	Fingerprint(ctx context.Context) (string, error)

	// SetFingerprint records the corpus fingerprint for the current contents.
	SetFingerprint(ctx context.Context, fp string) error
}

// SessionStore keeps per-session append-only transcripts.
type SessionStore interface {
	// Load returns the ordered turns of a session. An unknown session yields
	// an empty sequence, never an error.
	Load(ctx context.Context, sessionID string) ([]entities.Turn, error)

	// Transcript returns the serialized transcript text, "" when absent.
	Transcript(ctx context.Context, sessionID string) (string, error)

	// Append adds one turn to the end of the session transcript.
	Append(ctx context.Context, sessionID string, turn entities.Turn) error

	// Clear empties the session transcript. Idempotent.
	Clear(ctx context.Context, sessionID string) error
}

// CorpusWatcher monitors the log corpus directory for changes.
type CorpusWatcher interface {
	// Watch emits a signal whenever the corpus content changes. Events are
	// debounced; one signal may cover a burst of file writes.
	Watch(ctx context.Context, dir string) (<-chan struct{}, error)

	// Close stops the watcher.
	Close() error
}
