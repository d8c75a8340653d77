// Package history persists per-session conversation transcripts.
// Clean Architecture: Adapter implementing ports.SessionStore.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/logsage/logsage/internal/domain/entities"
	"github.com/logsage/logsage/internal/transcript"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore keeps one serialized transcript per session. Appending a turn
// concatenates its serialized form onto the stored text, which is equivalent
// to re-serializing the whole history.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore opens or creates the session database under dataPath.
func NewSQLiteStore(dataPath string) (*SQLiteStore, error) {
	if dataPath == "" {
		dataPath = "./data"
	}

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dataPath, "sessions.db"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		transcript TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load returns the ordered turns of a session. Unknown sessions yield an
// empty sequence.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) ([]entities.Turn, error) {
	text, err := s.Transcript(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return transcript.Parse(text), nil
}

// Transcript returns the raw serialized transcript, "" when absent.
func (s *SQLiteStore) Transcript(ctx context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var text string
	err := s.db.QueryRowContext(ctx,
		"SELECT transcript FROM sessions WHERE session_id = ?", sessionID).Scan(&text)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading transcript: %w", err)
	}
	return text, nil
}

// Append adds one turn to the end of the session transcript.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, turn entities.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fragment := transcript.Serialize([]entities.Turn{turn})
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, transcript) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			transcript = sessions.transcript || excluded.transcript,
			updated_at = CURRENT_TIMESTAMP
	`, sessionID, fragment)
	if err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

// Clear empties the session transcript. Idempotent.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
