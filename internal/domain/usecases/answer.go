package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/logsage/logsage/internal/domain/entities"
	"github.com/logsage/logsage/internal/domain/ports"
	"github.com/logsage/logsage/internal/transcript"
)

const analysisPersona = `You are an expert log analyst. You find problems in
large volumes of logs, locate root causes and propose fixes.

Your analysis should be:
1. Structured, with clear sections
2. Evidence-driven, citing specific log lines
3. Actionable, ending in concrete remediation steps

Work through: problem identification, root cause, impact, solution
(immediate fix, short-term, long-term), prevention.`

const generalPersona = `You are a helpful assistant for an engineering team.
Answer concisely and stay on topic.`

// Orchestrator composes prompts from history and retrieved context, drives
// the chat backend's streaming completion, and records completed exchanges
// in the session store. At most one generation per session may be in flight.
type Orchestrator struct {
	backend       ports.ChatBackend
	retriever     *Retriever
	sessions      ports.SessionStore
	historyBudget int
	maxTokens     int
	logger        *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewOrchestrator creates the answer orchestrator. historyBudget bounds the
// conversation tail included in prompts, in characters.
func NewOrchestrator(
	backend ports.ChatBackend,
	retriever *Retriever,
	sessions ports.SessionStore,
	historyBudget, maxTokens int,
	logger *slog.Logger,
) *Orchestrator {
	if historyBudget <= 0 {
		historyBudget = 4000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		backend:       backend,
		retriever:     retriever,
		sessions:      sessions,
		historyBudget: historyBudget,
		maxTokens:     maxTokens,
		logger:        logger,
		inFlight:      make(map[string]struct{}),
	}
}

// Answer streams a response for the user input. A second call for the same
// session while one is active fails with ErrSessionBusy; concurrent appends
// would corrupt the transcript's turn ordering.
func (uc *Orchestrator) Answer(ctx context.Context, sessionID, userInput string, intent entities.Intent) (<-chan entities.StreamEvent, error) {
	if !uc.acquire(sessionID) {
		return nil, entities.ErrSessionBusy
	}

	turns, err := uc.sessions.Load(ctx, sessionID)
	if err != nil {
		uc.logger.Warn("loading session history failed, answering without it",
			"session", sessionID, "error", err)
		turns = nil
	}
	tail := historyTail(turns, uc.historyBudget-len(userInput))

	var prompt string
	switch intent {
	case entities.IntentAnalysis:
		chunks := uc.retriever.Retrieve(ctx, userInput)
		prompt = buildAnalysisPrompt(chunks, tail, userInput)
	default:
		prompt = buildGeneralPrompt(tail, userInput)
	}

	events, err := uc.backend.StreamComplete(ctx, prompt, ports.CompleteOptions{
		MaxTokens: uc.maxTokens,
	})
	if err != nil {
		uc.release(sessionID)
		return nil, err
	}

	out := make(chan entities.StreamEvent, 64)
	go uc.pump(ctx, sessionID, userInput, events, out)
	return out, nil
}

// pump forwards backend events, persisting the exchange on completion. A
// cancelled stream is not a failure: the partial content is persisted with
// an interruption marker and surfaced as a normal terminal event.
func (uc *Orchestrator) pump(ctx context.Context, sessionID, userInput string, events <-chan entities.StreamEvent, out chan<- entities.StreamEvent) {
	defer uc.release(sessionID)
	defer close(out)

	var partial strings.Builder
	for ev := range events {
		switch {
		case ev.Err != nil:
			if ctx.Err() != nil {
				uc.persistInterrupted(sessionID, userInput, partial.String())
				out <- entities.StreamEvent{Done: true, Content: partial.String()}
				return
			}
			out <- ev
			return

		case ev.Done:
			uc.persistExchange(sessionID, userInput, ev.Content)
			out <- ev
			return

		default:
			partial.WriteString(ev.Delta)
			out <- ev
		}
	}

	// Backend closed the stream without a terminal event.
	out <- entities.StreamEvent{
		Err: fmt.Errorf("generation: %w: stream ended without completion", entities.ErrMalformedResponse),
	}
}

func (uc *Orchestrator) persistExchange(sessionID, userInput, answer string) {
	// Stream lifetime outlived the request context; persistence must not be
	// tied to it.
	ctx := context.Background()
	if err := uc.sessions.Append(ctx, sessionID, entities.Turn{Role: entities.RoleUser, Content: userInput}); err != nil {
		uc.logger.Error("persisting user turn failed", "session", sessionID, "error", err)
		return
	}
	if err := uc.sessions.Append(ctx, sessionID, entities.Turn{Role: entities.RoleAssistant, Content: answer}); err != nil {
		uc.logger.Error("persisting assistant turn failed", "session", sessionID, "error", err)
	}
}

func (uc *Orchestrator) persistInterrupted(sessionID, userInput, partial string) {
	uc.persistExchange(sessionID, userInput, partial+transcript.InterruptionMarker)
}

func (uc *Orchestrator) acquire(sessionID string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if _, busy := uc.inFlight[sessionID]; busy {
		return false
	}
	uc.inFlight[sessionID] = struct{}{}
	return true
}

func (uc *Orchestrator) release(sessionID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	delete(uc.inFlight, sessionID)
}

// historyTail returns the newest turns whose combined content fits budget,
// dropping oldest first.
func historyTail(turns []entities.Turn, budget int) []entities.Turn {
	if budget <= 0 {
		return nil
	}
	size := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		size += len(turns[i].Content)
		if size > budget {
			break
		}
		start = i
	}
	return turns[start:]
}

func buildAnalysisPrompt(chunks []entities.RetrievedChunk, tail []entities.Turn, userInput string) string {
	var sb strings.Builder
	sb.WriteString(analysisPersona)
	sb.WriteString("\n\n## Retrieved log context\n")

	if len(chunks) == 0 {
		sb.WriteString("No grounding context was found in the indexed logs. ")
		sb.WriteString("Answer from general knowledge and say so explicitly.\n")
	} else {
		for i, chunk := range chunks {
			fmt.Fprintf(&sb, "[%d] score=%.2f source=%s\n%s\n\n", i+1, chunk.Score, chunk.Source, chunk.Content)
		}
	}

	writeConversationTail(&sb, tail)

	sb.WriteString("\n## Analysis task\n")
	sb.WriteString(userInput)
	sb.WriteString("\n\nBegin your analysis:")
	return sb.String()
}

func buildGeneralPrompt(tail []entities.Turn, userInput string) string {
	var sb strings.Builder
	sb.WriteString(generalPersona)
	writeConversationTail(&sb, tail)
	sb.WriteString("\n## User\n")
	sb.WriteString(userInput)
	sb.WriteString("\n\nAssistant:")
	return sb.String()
}

func writeConversationTail(sb *strings.Builder, tail []entities.Turn) {
	if len(tail) == 0 {
		return
	}
	sb.WriteString("\n## Conversation so far\n")
	sb.WriteString(transcript.Serialize(tail))
}
