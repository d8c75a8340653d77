package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/logsage/logsage/internal/domain/entities"
	"github.com/logsage/logsage/internal/domain/ports"
)

// DeepSeekBackend implements ports.ChatBackend against a DeepSeek-compatible
// chat-completions API. Outbound calls pass through a token bucket so a burst
// of sessions cannot trip the provider's rate limits.
type DeepSeekBackend struct {
	baseURL      string
	apiKey       string
	model        string
	client       *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// DeepSeekConfig configures the remote backend client.
type DeepSeekConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	RatePerSec float64
	RateBurst  int
}

// NewDeepSeekBackend creates the remote chat backend. An empty API key is a
// configuration error; callers should install Unconfigured instead.
func NewDeepSeekBackend(cfg DeepSeekConfig, logger *slog.Logger) (*DeepSeekBackend, error) {
	if cfg.APIKey == "" {
		return nil, entities.ErrNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com"
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2.0
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeepSeekBackend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
		// Timeout bounds response headers only here; a stream may outlive it.
		streamClient: &http.Client{Transport: streamTransport(cfg.Timeout)},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		logger:       logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (b *DeepSeekBackend) newRequest(ctx context.Context, prompt string, opts ports.CompleteOptions, stream bool) (*http.Request, error) {
	body := chatCompletionRequest{
		Model:       b.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	return req, nil
}

// Complete produces the full response for a prompt.
func (b *DeepSeekBackend) Complete(ctx context.Context, prompt string, opts ports.CompleteOptions) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := b.newRequest(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", transportErr("deepseek complete", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusErr(resp)
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("deepseek complete: %w: %v", entities.ErrMalformedResponse, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("deepseek complete: %w: no choices", entities.ErrMalformedResponse)
	}

	return out.Choices[0].Message.Content, nil
}

// StreamComplete produces a streaming response over the SSE wire format
// ("data: {...}" lines terminated by "data: [DONE]").
func (b *DeepSeekBackend) StreamComplete(ctx context.Context, prompt string, opts ports.CompleteOptions) (<-chan entities.StreamEvent, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := b.newRequest(ctx, prompt, opts, true)
	if err != nil {
		return nil, err
	}

	resp, err := b.streamClient.Do(req)
	if err != nil {
		return nil, transportErr("deepseek stream", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusErr(resp)
	}

	ch := make(chan entities.StreamEvent, 64)

	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var full bytes.Buffer
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				ch <- entities.StreamEvent{Err: ctx.Err()}
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				ch <- entities.StreamEvent{Done: true, Content: full.String()}
				return
			}

			var chunk chatCompletionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue // skip malformed chunks
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				full.WriteString(delta)
				ch <- entities.StreamEvent{Delta: delta}
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				ch <- entities.StreamEvent{Err: ctx.Err()}
				return
			}
			ch <- entities.StreamEvent{Err: transportErr("deepseek stream", err)}
			return
		}
		ch <- entities.StreamEvent{Err: fmt.Errorf("deepseek stream: %w: truncated stream", entities.ErrMalformedResponse)}
	}()

	return ch, nil
}
