package usecases

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/logsage/logsage/internal/domain/entities"
	"github.com/logsage/logsage/internal/domain/ports"
)

// corpusExtensions are the file types treated as log sources.
var corpusExtensions = map[string]bool{
	".log": true,
	".txt": true,
	".md":  true,
}

// Indexer builds the vector index over a log corpus directory. Chunking is
// line-windowed with overlap so a multi-line diagnostic (stack trace, panic
// dump) is not cut mid-message.
type Indexer struct {
	embedder     ports.EmbeddingService
	store        ports.VectorStore
	corpusPath   string
	windowLines  int
	overlapLines int
	logger       *slog.Logger
}

// NewIndexer creates an indexer over corpusPath.
func NewIndexer(
	embedder ports.EmbeddingService,
	store ports.VectorStore,
	corpusPath string,
	windowLines, overlapLines int,
	logger *slog.Logger,
) *Indexer {
	if windowLines <= 0 {
		windowLines = 20
	}
	if overlapLines < 0 || overlapLines >= windowLines {
		overlapLines = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		embedder:     embedder,
		store:        store,
		corpusPath:   corpusPath,
		windowLines:  windowLines,
		overlapLines: overlapLines,
		logger:       logger,
	}
}

// BuildOrLoad reuses the persisted index when the corpus has not changed
// since it was built, and rebuilds otherwise.
func (uc *Indexer) BuildOrLoad(ctx context.Context) error {
	fp, err := uc.fingerprintDir()
	if err != nil {
		return fmt.Errorf("fingerprinting corpus: %w", err)
	}

	stored, err := uc.store.Fingerprint(ctx)
	if err != nil {
		return fmt.Errorf("reading stored fingerprint: %w", err)
	}
	count, err := uc.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting chunks: %w", err)
	}

	if stored == fp && count > 0 {
		uc.logger.Info("index up to date, loading from storage", "chunks", count)
		return nil
	}

	return uc.rebuild(ctx, fp)
}

// Rebuild re-indexes the corpus and swaps the result in. The previous index
// stays searchable until the new one is complete; a rebuild that fails
// mid-way leaves it untouched.
func (uc *Indexer) Rebuild(ctx context.Context) error {
	fp, err := uc.fingerprintDir()
	if err != nil {
		return fmt.Errorf("fingerprinting corpus: %w", err)
	}
	return uc.rebuild(ctx, fp)
}

// rebuild stages the whole corpus, embeddings included, before touching the
// store. The store sees a single Replace, never a partial index.
func (uc *Indexer) rebuild(ctx context.Context, fingerprint string) error {
	files, err := uc.corpusFiles()
	if err != nil {
		return fmt.Errorf("scanning corpus: %w", err)
	}

	var staged []entities.LogChunk
	for _, path := range files {
		chunks, err := uc.chunkFile(path)
		if err != nil {
			uc.logger.Warn("skipping unreadable corpus file", "path", path, "error", err)
			continue
		}
		if len(chunks) == 0 {
			continue
		}

		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Content
		}

		embeddings, err := uc.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: embedding %s: %v", entities.ErrIndexUnavailable, path, err)
		}
		for i := range chunks {
			chunks[i].Embedding = embeddings[i]
		}
		staged = append(staged, chunks...)
	}

	if err := uc.store.Replace(ctx, staged, fingerprint); err != nil {
		return fmt.Errorf("replacing index: %w", err)
	}

	uc.logger.Info("index rebuilt", "files", len(files), "chunks", len(staged))
	return nil
}

// corpusFiles lists log source files in deterministic order.
func (uc *Indexer) corpusFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(uc.corpusPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if corpusExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// fingerprintDir hashes the relative path, size and mtime of every corpus
// file. Chunk IDs stay stable across rebuilds of an identical snapshot
// because both the file walk and the hash input are sorted.
func (uc *Indexer) fingerprintDir() (string, error) {
	files, err := uc.corpusFiles()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(uc.corpusPath, path)
		if err != nil {
			rel = path
		}
		fmt.Fprintf(h, "%s|%d|%d\n", rel, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// chunkFile splits a file into overlapping line windows.
func (uc *Indexer) chunkFile(path string) ([]entities.LogChunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return nil, nil
	}
	lines := strings.Split(content, "\n")

	rel, err := filepath.Rel(uc.corpusPath, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	step := uc.windowLines - uc.overlapLines
	var chunks []entities.LogChunk
	for start := 0; start < len(lines); start += step {
		end := start + uc.windowLines
		if end > len(lines) {
			end = len(lines)
		}

		text := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if text != "" {
			chunks = append(chunks, entities.LogChunk{
				ID:      chunkID(rel, start),
				Source:  rel,
				Line:    start + 1,
				Level:   dominantLevel(text),
				Content: text,
			})
		}

		if end == len(lines) {
			break
		}
	}
	return chunks, nil
}

// chunkID derives a stable ID from the source path and window start line.
func chunkID(source string, startLine int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", source, startLine)))
	return hex.EncodeToString(hash[:8])
}

// dominantLevel reports the most severe log level mentioned in a chunk.
func dominantLevel(text string) string {
	upper := strings.ToUpper(text)
	for _, level := range []string{"FATAL", "ERROR", "WARN", "INFO", "DEBUG"} {
		if strings.Contains(upper, level) {
			return level
		}
	}
	return ""
}
