// Package codex implements the connector.Connector contract for Codex CLI's
// rollout transcripts under $CODEX_HOME/sessions/YYYY/MM/DD/rollout-*.jsonl.
package codex

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
)

const maxScanTokenSize = 10 * 1024 * 1024

// rolloutHeader is the first line of a rollout file, carrying session
// identity and the working directory Codex was launched from.
type rolloutHeader struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
}

// rolloutEvent is every subsequent line.
type rolloutEvent struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
}

type parsedFile struct {
	sessionID string
	cwd       string
	messages  []model.Message
	startedAt int64
	endedAt   int64
}

// parseFile reads one rollout file: the first non-blank line is the session
// header, every line after that is an event. Malformed lines are reported
// via warn and skipped rather than failing the file.
func parseFile(path string, warn func(connector.ParseWarning)) (parsedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return parsedFile{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, maxScanTokenSize)
	scanner.Buffer(buf, maxScanTokenSize)

	var out parsedFile
	lineNum := 0
	idx := 0
	headerSeen := false
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		if !headerSeen {
			headerSeen = true
			var h rolloutHeader
			if err := json.Unmarshal([]byte(line), &h); err != nil {
				warn(connector.ParseWarning{SourcePath: path, Offset: lineNum, Reason: "malformed session header: " + err.Error()})
				continue
			}
			out.sessionID = h.SessionID
			if out.sessionID == "" {
				out.sessionID = h.ID
			}
			out.cwd = h.Cwd
			continue
		}

		var ev rolloutEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			warn(connector.ParseWarning{SourcePath: path, Offset: lineNum, Reason: "malformed event: " + err.Error()})
			continue
		}

		msg, ok := eventToMessage(ev)
		if !ok {
			continue
		}
		msg.Idx = idx
		idx++
		if msg.CreatedAt != 0 {
			if out.startedAt == 0 {
				out.startedAt = msg.CreatedAt
			}
			out.endedAt = msg.CreatedAt
		}
		out.messages = append(out.messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scanning %s: %w", path, err)
	}
	if out.sessionID == "" {
		out.sessionID = strings.TrimSuffix(filepath.Base(path), ".jsonl")
	}
	return out, nil
}

func eventToMessage(ev rolloutEvent) (model.Message, bool) {
	var role model.Role
	switch {
	case ev.Type == "user_message":
		role = model.RoleUser
	case ev.Type == "assistant_message":
		role = model.RoleAgent
	case strings.HasPrefix(ev.Type, "tool_"):
		role = model.RoleTool
	default:
		return model.Message{}, false
	}

	content := ev.Content
	if content == "" {
		content = ev.Text
	}
	if content == "" {
		return model.Message{}, false
	}

	var createdAt int64
	if ev.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
			createdAt = ts.UnixMilli()
		}
	}

	extra, _ := json.Marshal(struct {
		EventType string `json:"event_type"`
		ToolName  string `json:"tool_name,omitempty"`
	}{EventType: ev.Type, ToolName: ev.ToolName})

	return model.Message{
		Role:      role,
		Author:    ev.ToolName,
		CreatedAt: createdAt,
		Content:   content,
		Extra:     extra,
	}, true
}
