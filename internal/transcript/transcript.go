// Package transcript implements the session transcript wire format.
//
// The format is line-oriented and kept compatible with existing stored
// histories: a turn starts with the marker 用户： (user) or 回复：
// (assistant), lines without a marker continue the open turn, and a line
// consisting of --- closes an assistant turn. Serialization and parsing are
// exact inverses for any turn sequence whose contents avoid the marker
// prefixes and the bare separator line.
package transcript

import (
	"strings"

	"github.com/logsage/logsage/internal/domain/entities"
)

const (
	userMarker      = "用户："
	assistantMarker = "回复："
	separator       = "---"
)

// InterruptionMarker annotates an assistant turn whose generation was
// cancelled by the user before completion.
const InterruptionMarker = " [interrupted]"

// Serialize renders turns in the wire format. Serializing turns one at a time
// and concatenating the results is equivalent to serializing the whole slice,
// which lets the store append without rewriting the transcript.
func Serialize(turns []entities.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		switch t.Role {
		case entities.RoleAssistant:
			b.WriteString(assistantMarker)
			b.WriteString(t.Content)
			b.WriteString("\n")
			b.WriteString(separator)
			b.WriteString("\n")
		default:
			b.WriteString(userMarker)
			b.WriteString(t.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

type parseState int

const (
	stateIdle parseState = iota
	stateInUserTurn
	stateInAssistantTurn
)

// Parse reconstructs the turn sequence from transcript text. Unknown text
// before the first marker is skipped. Parsed turns carry zero timestamps;
// the wire format does not record them.
func Parse(text string) []entities.Turn {
	var (
		turns   []entities.Turn
		state   = stateIdle
		content strings.Builder
	)

	flush := func() {
		switch state {
		case stateInUserTurn:
			turns = append(turns, entities.Turn{Role: entities.RoleUser, Content: content.String()})
		case stateInAssistantTurn:
			turns = append(turns, entities.Turn{Role: entities.RoleAssistant, Content: content.String()})
		}
		content.Reset()
		state = stateIdle
	}

	lines := strings.Split(text, "\n")
	// A trailing newline produces one empty trailing element; drop it so it
	// is not mistaken for a continuation line.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, userMarker):
			flush()
			state = stateInUserTurn
			content.WriteString(strings.TrimPrefix(line, userMarker))
		case strings.HasPrefix(line, assistantMarker):
			flush()
			state = stateInAssistantTurn
			content.WriteString(strings.TrimPrefix(line, assistantMarker))
		case line == separator:
			flush()
		default:
			if state == stateIdle {
				continue
			}
			content.WriteString("\n")
			content.WriteString(line)
		}
	}
	flush()
	return turns
}
