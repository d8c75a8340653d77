package usecases

import (
	"context"
	"sync"

	"github.com/logsage/logsage/internal/domain/entities"
	"github.com/logsage/logsage/internal/domain/ports"
	"github.com/logsage/logsage/internal/transcript"
)

// mockEmbedder implements ports.EmbeddingService.
type mockEmbedder struct {
	err   error
	calls int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []float32{1, 0, 0}, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// mockVectorStore implements ports.VectorStore over a plain slice.
type mockVectorStore struct {
	chunks      []entities.LogChunk
	results     []entities.RetrievedChunk
	fingerprint string
	searchErr   error
	replaceErr  error
}

func (m *mockVectorStore) Store(ctx context.Context, chunks []entities.LogChunk) error {
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *mockVectorStore) Replace(ctx context.Context, chunks []entities.LogChunk, fingerprint string) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.chunks = append([]entities.LogChunk(nil), chunks...)
	m.fingerprint = fingerprint
	return nil
}

func (m *mockVectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]entities.RetrievedChunk, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	results := m.results
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *mockVectorStore) Count(ctx context.Context) (int, error) {
	return len(m.chunks), nil
}

func (m *mockVectorStore) Clear(ctx context.Context) error {
	m.chunks = nil
	m.fingerprint = ""
	return nil
}

func (m *mockVectorStore) Fingerprint(ctx context.Context) (string, error) {
	return m.fingerprint, nil
}

func (m *mockVectorStore) SetFingerprint(ctx context.Context, fp string) error {
	m.fingerprint = fp
	return nil
}

// mockBackend implements ports.ChatBackend. Stream deltas are emitted one by
// one; blockAfter pauses the stream until the context is cancelled, which
// lets tests exercise interruption.
type mockBackend struct {
	completeText string
	completeErr  error
	deltas       []string
	streamErr    error
	blockAfter   int // emit this many deltas, then wait for ctx cancellation

	mu      sync.Mutex
	prompts []string
}

func (m *mockBackend) Complete(ctx context.Context, prompt string, opts ports.CompleteOptions) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.completeErr != nil {
		return "", m.completeErr
	}
	return m.completeText, nil
}

func (m *mockBackend) StreamComplete(ctx context.Context, prompt string, opts ports.CompleteOptions) (<-chan entities.StreamEvent, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.streamErr != nil {
		return nil, m.streamErr
	}

	ch := make(chan entities.StreamEvent, len(m.deltas)+1)
	go func() {
		defer close(ch)
		var full string
		for i, delta := range m.deltas {
			if m.blockAfter > 0 && i == m.blockAfter {
				<-ctx.Done()
				ch <- entities.StreamEvent{Err: ctx.Err()}
				return
			}
			full += delta
			ch <- entities.StreamEvent{Delta: delta}
		}
		ch <- entities.StreamEvent{Done: true, Content: full}
	}()
	return ch, nil
}

func (m *mockBackend) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// mockSessionStore implements ports.SessionStore in memory.
type mockSessionStore struct {
	mu          sync.Mutex
	transcripts map[string]string
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{transcripts: make(map[string]string)}
}

func (m *mockSessionStore) Load(ctx context.Context, sessionID string) ([]entities.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return transcript.Parse(m.transcripts[sessionID]), nil
}

func (m *mockSessionStore) Transcript(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcripts[sessionID], nil
}

func (m *mockSessionStore) Append(ctx context.Context, sessionID string, turn entities.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts[sessionID] += transcript.Serialize([]entities.Turn{turn})
	return nil
}

func (m *mockSessionStore) Clear(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transcripts, sessionID)
	return nil
}
