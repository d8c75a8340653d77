// Package http provides the HTTP server infrastructure.
// Clean Architecture: Framework/driver layer - outermost circle.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/logsage/logsage/internal/domain/entities"
	"github.com/logsage/logsage/internal/domain/ports"
	"github.com/logsage/logsage/internal/domain/usecases"
)

// Server exposes the chat, history and health endpoints.
type Server struct {
	orchestrator *usecases.Orchestrator
	classifier   *usecases.Classifier
	sessions     ports.SessionStore
	addr         string
	logger       *slog.Logger
}

// NewServer creates the HTTP server.
func NewServer(
	orchestrator *usecases.Orchestrator,
	classifier *usecases.Classifier,
	sessions ports.SessionStore,
	addr string,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		orchestrator: orchestrator,
		classifier:   classifier,
		sessions:     sessions,
		addr:         addr,
		logger:       logger,
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/stream", s.handleChatStream)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/health", s.handleHealth)
	return corsMiddleware(s.loggingMiddleware(mux))
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second, // streams can run long
	}

	s.logger.Info("server starting", "addr", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	UserInput string `json:"user_input"`
	QueryType string `json:"query_type"`
	WebSearch bool   `json:"web_search"`
}

// handleChatStream serves the streaming chat endpoint as SSE.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.UserInput == "" {
		writeJSONError(w, http.StatusBadRequest, "session_id and user_input are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Accepted for wire compatibility but not implemented; the caller must
	// hear about it rather than silently getting a non-web answer.
	if req.WebSearch {
		sendSSE(w, flusher, map[string]any{"error": "web search is not supported"})
		return
	}

	intent := resolveIntent(req.QueryType)
	if intent == "" {
		result := s.classifier.Classify(r.Context(), req.UserInput)
		intent = result.Intent
		s.logger.Debug("classified intent",
			"session", req.SessionID, "intent", intent,
			"source", result.Source, "confidence", result.Confidence)
	}

	events, err := s.orchestrator.Answer(r.Context(), req.SessionID, req.UserInput, intent)
	if err != nil {
		if errors.Is(err, entities.ErrSessionBusy) {
			sendSSE(w, flusher, map[string]any{"error": "a response for this session is already in progress"})
			return
		}
		sendSSE(w, flusher, map[string]any{"error": userMessage(err)})
		return
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			sendSSE(w, flusher, map[string]any{"error": userMessage(ev.Err)})
			return
		case ev.Done:
			sendSSE(w, flusher, map[string]any{"done": true, "content": ev.Content})
			return
		default:
			sendSSE(w, flusher, map[string]any{"delta": true, "content": ev.Delta})
		}
	}
}

// handleHistory serves transcript replay (GET) and session reset (DELETE).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSONError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		text, err := s.sessions.Transcript(r.Context(), sessionID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "loading history failed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"session_id": sessionID, "history": text})

	case http.MethodDelete:
		if err := s.sessions.Clear(r.Context(), sessionID); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "clearing history failed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// resolveIntent maps an explicit query_type to an intent, "" when the
// classifier should decide.
func resolveIntent(queryType string) entities.Intent {
	switch queryType {
	case "analysis":
		return entities.IntentAnalysis
	case "general_chat":
		return entities.IntentGeneralChat
	default:
		return ""
	}
}

// userMessage converts internal errors into messages that distinguish
// "not configured", "rejected" and "unreachable" for the caller.
func userMessage(err error) string {
	var backendErr *entities.BackendError
	switch {
	case errors.Is(err, entities.ErrNotConfigured):
		return "the remote model service is not configured; set an API key to enable it"
	case errors.As(err, &backendErr) && backendErr.IsAuth():
		return "the model service rejected the credentials"
	case errors.As(err, &backendErr) && backendErr.IsRateLimit():
		return "the model service is rate limiting requests, try again shortly"
	case errors.As(err, &backendErr):
		return fmt.Sprintf("the model service rejected the request (status %d)", backendErr.Status)
	case errors.Is(err, entities.ErrTimeout):
		return "the model service timed out"
	case errors.Is(err, entities.ErrNetwork):
		return "the model service is unreachable"
	case errors.Is(err, entities.ErrMalformedResponse):
		return "the model service returned an unreadable response"
	default:
		return err.Error()
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, data map[string]any) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			return
		}
		next.ServeHTTP(w, r)
	})
}
