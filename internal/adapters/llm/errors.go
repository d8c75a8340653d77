package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/logsage/logsage/internal/domain/entities"
	"github.com/logsage/logsage/internal/domain/ports"
)

// transportErr maps a transport-level failure onto the shared taxonomy.
// Caller cancellation passes through untouched; it is not a failure.
func transportErr(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%s: %w", op, entities.ErrTimeout)
	}
	return fmt.Errorf("%s: %w: %v", op, entities.ErrNetwork, err)
}

// streamTransport builds the transport for streaming calls: timeout bounds
// the wait for response headers only. The streamed body carries no deadline
// and ends with the request context.
func streamTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = timeout
	return t
}

// statusErr converts a non-2xx response into a BackendError, reading a
// bounded amount of the body for the message.
func statusErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &entities.BackendError{Status: resp.StatusCode, Message: string(body)}
}

// Unconfigured is the chat backend installed when no remote credential could
// be resolved. Every call fails with ErrNotConfigured, which the classifier
// absorbs (keyword fallback) and the orchestrator surfaces as a terminal
// error event.
type Unconfigured struct{}

// Complete always reports the missing configuration.
func (Unconfigured) Complete(ctx context.Context, prompt string, opts ports.CompleteOptions) (string, error) {
	return "", entities.ErrNotConfigured
}

// StreamComplete always reports the missing configuration.
func (Unconfigured) StreamComplete(ctx context.Context, prompt string, opts ports.CompleteOptions) (<-chan entities.StreamEvent, error) {
	return nil, entities.ErrNotConfigured
}
