// Package config loads the service configuration from YAML, with environment
// variables taking precedence for the remote backend credential.
package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// CorpusConfig configures log corpus indexing.
type CorpusConfig struct {
	Path         string `yaml:"path"`
	WindowLines  int    `yaml:"window_lines"`
	OverlapLines int    `yaml:"overlap_lines"`
	Watch        bool   `yaml:"watch"`
}

// OllamaConfig holds connection details for the local inference runtime.
// It serves embeddings always, and chat when the local backend is selected.
type OllamaConfig struct {
	BaseURL          string `yaml:"base_url"`
	ChatModel        string `yaml:"chat_model"`
	EmbedModel       string `yaml:"embed_model"`
	ChatTimeoutSecs  int    `yaml:"chat_timeout_secs"`
	EmbedTimeoutSecs int    `yaml:"embed_timeout_secs"`
}

// DeepSeekConfig holds connection details for the remote chat API.
// The credential resolves env var first, then this file; absence is not an
// error here, the pipeline degrades instead.
type DeepSeekConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec"`
	RateBurst   int     `yaml:"rate_burst"`
}

// StoreConfig selects the vector index implementation.
type StoreConfig struct {
	Type   string        `yaml:"type"` // sqlite, memory, qdrant
	Path   string        `yaml:"path"` // sqlite data directory
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// ChatConfig tunes answer generation.
type ChatConfig struct {
	Backend       string `yaml:"backend"` // deepseek or ollama
	TopK          int    `yaml:"top_k"`
	HistoryBudget int    `yaml:"history_budget"` // max characters of conversation tail
	MaxTokens     int    `yaml:"max_tokens"`
}

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Ollama   OllamaConfig   `yaml:"ollama"`
	DeepSeek DeepSeekConfig `yaml:"deepseek"`
	Store    StoreConfig    `yaml:"store"`
	Chat     ChatConfig     `yaml:"chat"`
	Sessions struct {
		Path string `yaml:"path"` // sqlite data directory for session transcripts
	} `yaml:"sessions"`
}

// Load reads a config from path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			resolveCredential(cfg)
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	resolveCredential(cfg)
	return cfg, nil
}

// resolveCredential applies the credential priority order: the environment
// (possibly populated from a .env file by the caller) wins over the config
// file. An empty result is valid and triggers keyword-only degradation.
func resolveCredential(cfg *Config) {
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		cfg.DeepSeek.APIKey = key
	}
}

// RemoteConfigured reports whether the remote backend has a usable credential.
func (c *Config) RemoteConfigured() bool {
	return c.DeepSeek.APIKey != ""
}

// ChatTimeout returns the chat call timeout. It is shorter than the embedding
// timeout, since embedding calls run over larger batches.
func (c *Config) ChatTimeout() time.Duration {
	return time.Duration(c.Ollama.ChatTimeoutSecs) * time.Second
}

// EmbedTimeout returns the embedding call timeout.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.Ollama.EmbedTimeoutSecs) * time.Second
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Corpus.Path == "" {
		cfg.Corpus.Path = "./data/log"
	}
	if cfg.Corpus.WindowLines <= 0 {
		cfg.Corpus.WindowLines = 20
	}
	if cfg.Corpus.OverlapLines < 0 || cfg.Corpus.OverlapLines >= cfg.Corpus.WindowLines {
		cfg.Corpus.OverlapLines = 4
	}
	if cfg.Ollama.BaseURL == "" {
		cfg.Ollama.BaseURL = "http://localhost:11434"
	}
	if cfg.Ollama.ChatModel == "" {
		cfg.Ollama.ChatModel = "qwen2.5:3b"
	}
	if cfg.Ollama.EmbedModel == "" {
		cfg.Ollama.EmbedModel = "nomic-embed-text"
	}
	if cfg.Ollama.ChatTimeoutSecs <= 0 {
		cfg.Ollama.ChatTimeoutSecs = 120
	}
	if cfg.Ollama.EmbedTimeoutSecs <= 0 {
		cfg.Ollama.EmbedTimeoutSecs = 180
	}
	if cfg.DeepSeek.BaseURL == "" {
		cfg.DeepSeek.BaseURL = "https://api.deepseek.com"
	}
	if cfg.DeepSeek.Model == "" {
		cfg.DeepSeek.Model = "deepseek-chat"
	}
	if cfg.DeepSeek.TimeoutSecs <= 0 {
		cfg.DeepSeek.TimeoutSecs = 60
	}
	if cfg.DeepSeek.RatePerSec <= 0 {
		cfg.DeepSeek.RatePerSec = 2.0
	}
	if cfg.DeepSeek.RateBurst <= 0 {
		cfg.DeepSeek.RateBurst = 5
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./data"
	}
	if cfg.Store.Qdrant != nil {
		if cfg.Store.Qdrant.Collection == "" {
			cfg.Store.Qdrant.Collection = "log_chunks"
		}
		if cfg.Store.Qdrant.TimeoutSecs <= 0 {
			cfg.Store.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.Chat.Backend == "" {
		cfg.Chat.Backend = "ollama"
	}
	if cfg.Chat.TopK <= 0 {
		cfg.Chat.TopK = 5
	}
	if cfg.Chat.HistoryBudget <= 0 {
		cfg.Chat.HistoryBudget = 4000
	}
	if cfg.Chat.MaxTokens <= 0 {
		cfg.Chat.MaxTokens = 4096
	}
	if cfg.Sessions.Path == "" {
		cfg.Sessions.Path = "./data"
	}
}
