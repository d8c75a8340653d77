// Package entities contains core business entities.
// These are pure domain objects with no external dependencies.
package entities

import "time"

// LogChunk is a bounded span of log text indexed as one retrievable unit.
// ID is deterministic over (source file, window position) so a rebuild of the
// same corpus snapshot produces the same IDs.
type LogChunk struct {
	ID        string
	Source    string // originating log file, relative to the corpus root
	Line      int    // first line of the window within the file
	Level     string // highest severity seen in the window, if any
	Content   string
	Embedding []float32
}

// RetrievedChunk is one similarity-search hit.
type RetrievedChunk struct {
	ChunkID string
	Source  string
	Content string
	Score   float64
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in a session transcript. Timestamps are in-memory
// bookkeeping only; the transcript wire format does not carry them.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Intent is the behavior a user turn should invoke.
type Intent string

const (
	IntentGeneralChat Intent = "general_chat"
	IntentAnalysis    Intent = "analysis"
)

// ClassificationSource records which tier produced a classification.
type ClassificationSource string

const (
	SourceKeyword ClassificationSource = "keyword"
	SourceModel   ClassificationSource = "model"
)

// ClassificationResult always resolves to exactly one of the two intents.
// Classification never fails; backend trouble degrades to the keyword tier.
type ClassificationResult struct {
	Intent     Intent
	Source     ClassificationSource
	Confidence float64
}

// StreamEvent is one framed unit of an incremental response. Any number of
// delta events precede exactly one terminal event, which either carries
// Done=true with the full accumulated text or a non-nil Err.
type StreamEvent struct {
	Delta   string // incremental text; empty on terminal events
	Done    bool   // set on successful (or user-interrupted) completion
	Content string // full accumulated text, set when Done
	Err     error  // terminal failure, nil otherwise
}
