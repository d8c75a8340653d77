package usecases

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsage/logsage/internal/domain/entities"
)

func writeCorpusFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func manyLines(n int) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		sb.WriteString("2024-01-01 INFO request served line ")
		sb.WriteString(strings.Repeat("x", i%7))
		sb.WriteString("\n")
	}
	return sb.String()
}

func TestIndexer_BuildOrLoad_IndexesCorpus(t *testing.T) {
	dir := t.TempDir()
	writeCorpusFile(t, dir, "app.log", "2024-01-01 ERROR timeout connecting to db\n2024-01-01 INFO retrying\n")
	writeCorpusFile(t, dir, "notes.md", "postmortem draft\n")
	writeCorpusFile(t, dir, "image.png", "not a log\n")

	store := &mockVectorStore{}
	indexer := NewIndexer(&mockEmbedder{}, store, dir, 20, 4, nil)

	require.NoError(t, indexer.BuildOrLoad(context.Background()))

	require.Len(t, store.chunks, 2, "png must be skipped")
	assert.NotEmpty(t, store.fingerprint)
	for _, chunk := range store.chunks {
		assert.NotEmpty(t, chunk.ID)
		assert.NotEmpty(t, chunk.Embedding)
	}
}

func TestIndexer_BuildOrLoad_ReusesMatchingIndex(t *testing.T) {
	dir := t.TempDir()
	writeCorpusFile(t, dir, "app.log", "2024-01-01 INFO ok\n")

	store := &mockVectorStore{}
	embedder := &mockEmbedder{}
	indexer := NewIndexer(embedder, store, dir, 20, 4, nil)

	require.NoError(t, indexer.BuildOrLoad(context.Background()))
	callsAfterBuild := embedder.calls

	// Unchanged corpus: second call must load, not re-embed.
	require.NoError(t, indexer.BuildOrLoad(context.Background()))
	assert.Equal(t, callsAfterBuild, embedder.calls)
}

func TestIndexer_BuildOrLoad_RebuildsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("2024-01-01 INFO ok\n"), 0644))

	store := &mockVectorStore{}
	embedder := &mockEmbedder{}
	indexer := NewIndexer(embedder, store, dir, 20, 4, nil)

	require.NoError(t, indexer.BuildOrLoad(context.Background()))
	callsAfterBuild := embedder.calls

	require.NoError(t, os.WriteFile(path, []byte("2024-01-01 ERROR changed\n"), 0644))
	// mtime granularity can be coarse; force a distinct timestamp.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	require.NoError(t, indexer.BuildOrLoad(context.Background()))
	assert.Greater(t, embedder.calls, callsAfterBuild)
}

func TestIndexer_ChunkIDsStableAcrossRebuilds(t *testing.T) {
	dir := t.TempDir()
	writeCorpusFile(t, dir, "app.log", manyLines(50))

	store := &mockVectorStore{}
	indexer := NewIndexer(&mockEmbedder{}, store, dir, 20, 4, nil)

	require.NoError(t, indexer.Rebuild(context.Background()))
	first := make([]string, len(store.chunks))
	for i, chunk := range store.chunks {
		first[i] = chunk.ID
	}

	require.NoError(t, indexer.Rebuild(context.Background()))
	second := make([]string, len(store.chunks))
	for i, chunk := range store.chunks {
		second[i] = chunk.ID
	}

	assert.Equal(t, first, second)
}

func TestIndexer_OverlappingWindows(t *testing.T) {
	dir := t.TempDir()
	writeCorpusFile(t, dir, "app.log", manyLines(50))

	store := &mockVectorStore{}
	indexer := NewIndexer(&mockEmbedder{}, store, dir, 20, 4, nil)

	require.NoError(t, indexer.Rebuild(context.Background()))

	// 50 lines, window 20, step 16: windows start at 1, 17, 33, 49.
	require.Len(t, store.chunks, 4)
	assert.Equal(t, 1, store.chunks[0].Line)
	assert.Equal(t, 17, store.chunks[1].Line)
	assert.Equal(t, 33, store.chunks[2].Line)
	assert.Equal(t, 49, store.chunks[3].Line)
}

func TestIndexer_FailedRebuildKeepsPreviousIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("2024-01-01 ERROR timeout connecting to db\n"), 0644))

	store := &mockVectorStore{}
	embedder := &mockEmbedder{}
	indexer := NewIndexer(embedder, store, dir, 20, 4, nil)

	require.NoError(t, indexer.BuildOrLoad(context.Background()))
	previousChunks := append([]entities.LogChunk(nil), store.chunks...)
	previousFP := store.fingerprint
	require.NotEmpty(t, previousChunks)
	require.NotEmpty(t, previousFP)

	// Corpus changes while the embedding service is down.
	require.NoError(t, os.WriteFile(path, []byte("2024-01-01 ERROR changed\n"), 0644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	embedder.err = entities.ErrNetwork

	err := indexer.BuildOrLoad(context.Background())
	assert.ErrorIs(t, err, entities.ErrIndexUnavailable)
	assert.Equal(t, previousChunks, store.chunks, "old index must survive a failed rebuild")
	assert.Equal(t, previousFP, store.fingerprint)
}

func TestIndexer_FailedReplaceKeepsPreviousIndex(t *testing.T) {
	dir := t.TempDir()
	writeCorpusFile(t, dir, "app.log", "2024-01-01 INFO ok\n")

	store := &mockVectorStore{}
	indexer := NewIndexer(&mockEmbedder{}, store, dir, 20, 4, nil)
	require.NoError(t, indexer.BuildOrLoad(context.Background()))
	previousChunks := append([]entities.LogChunk(nil), store.chunks...)

	store.replaceErr = entities.ErrNetwork
	assert.Error(t, indexer.Rebuild(context.Background()))
	assert.Equal(t, previousChunks, store.chunks)
}

func TestIndexer_EmbedFailureIsIndexUnavailable(t *testing.T) {
	dir := t.TempDir()
	writeCorpusFile(t, dir, "app.log", "2024-01-01 ERROR boom\n")

	indexer := NewIndexer(&mockEmbedder{err: entities.ErrNetwork}, &mockVectorStore{}, dir, 20, 4, nil)

	err := indexer.BuildOrLoad(context.Background())
	assert.ErrorIs(t, err, entities.ErrIndexUnavailable)
}

func TestIndexer_LevelExtraction(t *testing.T) {
	dir := t.TempDir()
	writeCorpusFile(t, dir, "app.log", "2024-01-01 WARN slow query\n2024-01-01 ERROR timeout\n")

	store := &mockVectorStore{}
	indexer := NewIndexer(&mockEmbedder{}, store, dir, 20, 4, nil)

	require.NoError(t, indexer.Rebuild(context.Background()))
	require.Len(t, store.chunks, 1)
	assert.Equal(t, "ERROR", store.chunks[0].Level)
}
