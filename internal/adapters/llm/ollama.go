// Package llm provides the chat backend adapters: the local Ollama runtime
// and the remote DeepSeek-compatible API. Both implement ports.ChatBackend
// and map their failures onto the shared error taxonomy.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/logsage/logsage/internal/domain/entities"
	"github.com/logsage/logsage/internal/domain/ports"
)

// OllamaBackend implements ports.ChatBackend using the Ollama generate API.
type OllamaBackend struct {
	baseURL      string
	model        string
	client       *http.Client
	streamClient *http.Client
	logger       *slog.Logger
}

// NewOllamaBackend creates a local-inference chat backend. timeout bounds a
// full non-streaming call; for streams it bounds the wait for response
// headers only, the body is governed by ctx.
func NewOllamaBackend(baseURL, model string, timeout time.Duration, logger *slog.Logger) *OllamaBackend {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "qwen2.5:3b"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaBackend{
		baseURL:      baseURL,
		model:        model,
		client:       &http.Client{Timeout: timeout},
		streamClient: &http.Client{Transport: streamTransport(timeout)},
		logger:       logger,
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (b *OllamaBackend) generateRequest(prompt string, opts ports.CompleteOptions, stream bool) ollamaGenerateRequest {
	req := ollamaGenerateRequest{Model: b.model, Prompt: prompt, Stream: stream}
	options := map[string]any{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if len(options) > 0 {
		req.Options = options
	}
	return req
}

// Complete produces the full response for a prompt.
func (b *OllamaBackend) Complete(ctx context.Context, prompt string, opts ports.CompleteOptions) (string, error) {
	jsonData, err := json.Marshal(b.generateRequest(prompt, opts, false))
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", transportErr("ollama complete", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusErr(resp)
	}

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("ollama complete: %w: %v", entities.ErrMalformedResponse, err)
	}

	return genResp.Response, nil
}

// StreamComplete produces a streaming response over Ollama's NDJSON stream.
// Events are delivered on the returned channel; the channel closes after the
// terminal event.
func (b *OllamaBackend) StreamComplete(ctx context.Context, prompt string, opts ports.CompleteOptions) (<-chan entities.StreamEvent, error) {
	jsonData, err := json.Marshal(b.generateRequest(prompt, opts, true))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.streamClient.Do(req)
	if err != nil {
		return nil, transportErr("ollama stream", err)
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

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk ollamaGenerateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue // skip malformed lines
			}

			if chunk.Response != "" {
				full.WriteString(chunk.Response)
				ch <- entities.StreamEvent{Delta: chunk.Response}
			}
			if chunk.Done {
				ch <- entities.StreamEvent{Done: true, Content: full.String()}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				ch <- entities.StreamEvent{Err: ctx.Err()}
				return
			}
			ch <- entities.StreamEvent{Err: transportErr("ollama stream", err)}
			return
		}
		// Stream ended without a done marker.
		ch <- entities.StreamEvent{Err: fmt.Errorf("ollama stream: %w: truncated stream", entities.ErrMalformedResponse)}
	}()

	return ch, nil
}
