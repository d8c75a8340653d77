package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/logsage/logsage/internal/adapters/embedding"
	"github.com/logsage/logsage/internal/adapters/history"
	"github.com/logsage/logsage/internal/adapters/llm"
	"github.com/logsage/logsage/internal/adapters/vectordb"
	"github.com/logsage/logsage/internal/adapters/watcher"
	"github.com/logsage/logsage/internal/config"
	"github.com/logsage/logsage/internal/domain/entities"
	"github.com/logsage/logsage/internal/domain/ports"
	"github.com/logsage/logsage/internal/domain/usecases"
	httpserver "github.com/logsage/logsage/internal/infrastructure/http"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("loading config failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder := embedding.NewOllamaAdapter(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel, cfg.EmbedTimeout(), logger)

	store, err := buildVectorStore(cfg, logger)
	if err != nil {
		logger.Error("creating vector store failed", "error", err)
		os.Exit(1)
	}

	sessions, err := history.NewSQLiteStore(cfg.Sessions.Path)
	if err != nil {
		logger.Error("creating session store failed", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	backend := buildChatBackend(cfg, logger)

	indexer := usecases.NewIndexer(embedder, store, cfg.Corpus.Path,
		cfg.Corpus.WindowLines, cfg.Corpus.OverlapLines, logger)
	if err := indexer.BuildOrLoad(ctx); err != nil {
		// Analysis degrades to ungrounded answers; the rest keeps running.
		logger.Warn("index unavailable, analysis will run without log context", "error", err)
	}

	if cfg.Corpus.Watch {
		w, err := watcher.NewFSNotifyWatcher(nil, 0, logger)
		if err != nil {
			logger.Warn("corpus watcher init failed", "error", err)
		} else {
			defer w.Close()
			go watchCorpus(ctx, w, cfg.Corpus.Path, indexer, logger)
		}
	}

	retriever := usecases.NewRetriever(embedder, store, cfg.Chat.TopK, logger)
	orchestrator := usecases.NewOrchestrator(backend, retriever, sessions,
		cfg.Chat.HistoryBudget, cfg.Chat.MaxTokens, logger)
	classifier := usecases.NewClassifier(backend, logger)

	server := httpserver.NewServer(orchestrator, classifier, sessions, cfg.Server.Addr, logger)
	if err := server.Start(ctx); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func buildVectorStore(cfg *config.Config, logger *slog.Logger) (ports.VectorStore, error) {
	switch cfg.Store.Type {
	case "sqlite", "":
		return vectordb.NewSQLiteStore(cfg.Store.Path)
	case "memory":
		return vectordb.NewInMemoryStore(), nil
	case "qdrant":
		var url, collection, apiKey string
		var timeout time.Duration
		if cfg.Store.Qdrant != nil {
			url = cfg.Store.Qdrant.URL
			collection = cfg.Store.Qdrant.Collection
			apiKey = cfg.Store.Qdrant.APIKey
			timeout = time.Duration(cfg.Store.Qdrant.TimeoutSecs) * time.Second
		}
		return vectordb.NewQdrantStore(url, collection, apiKey, timeout), nil
	default:
		return nil, errors.New("unknown vector store type: " + cfg.Store.Type)
	}
}

// buildChatBackend resolves the configured backend once at startup. A
// deepseek selection without a credential degrades to the unconfigured
// backend rather than failing the process: classification still works via
// keywords and the condition surfaces per request.
func buildChatBackend(cfg *config.Config, logger *slog.Logger) ports.ChatBackend {
	switch cfg.Chat.Backend {
	case "deepseek":
		if !cfg.RemoteConfigured() {
			logger.Warn("deepseek backend selected but no API key found, chat is disabled until one is configured")
			return llm.Unconfigured{}
		}
		backend, err := llm.NewDeepSeekBackend(llm.DeepSeekConfig{
			BaseURL:    cfg.DeepSeek.BaseURL,
			APIKey:     cfg.DeepSeek.APIKey,
			Model:      cfg.DeepSeek.Model,
			Timeout:    time.Duration(cfg.DeepSeek.TimeoutSecs) * time.Second,
			RatePerSec: cfg.DeepSeek.RatePerSec,
			RateBurst:  cfg.DeepSeek.RateBurst,
		}, logger)
		if err != nil {
			logger.Warn("deepseek backend init failed, chat is disabled", "error", err)
			return llm.Unconfigured{}
		}
		logger.Info("chat backend: deepseek", "model", cfg.DeepSeek.Model)
		return backend
	default:
		logger.Info("chat backend: ollama", "model", cfg.Ollama.ChatModel)
		return llm.NewOllamaBackend(cfg.Ollama.BaseURL, cfg.Ollama.ChatModel, cfg.ChatTimeout(), logger)
	}
}

// watchCorpus rebuilds the index whenever the corpus directory changes.
func watchCorpus(ctx context.Context, w ports.CorpusWatcher, dir string, indexer *usecases.Indexer, logger *slog.Logger) {
	signals, err := w.Watch(ctx, dir)
	if err != nil {
		logger.Warn("watching corpus failed", "dir", dir, "error", err)
		return
	}

	for range signals {
		logger.Info("corpus changed, rebuilding index")
		if err := indexer.Rebuild(ctx); err != nil {
			if errors.Is(err, entities.ErrIndexUnavailable) {
				logger.Warn("rebuild skipped, embedding service unavailable", "error", err)
				continue
			}
			logger.Error("index rebuild failed", "error", err)
		}
	}
}
