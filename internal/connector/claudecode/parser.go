// Package claudecode implements the connector.Connector contract for Claude
// Code's per-project JSONL transcripts under ~/.claude/projects.
package claudecode

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
)

const maxScanTokenSize = 10 * 1024 * 1024 // 10MB, matches the largest observed tool_result payloads

// jsonlEvent is one line of a Claude Code transcript.
type jsonlEvent struct {
	UUID       string          `json:"uuid"`
	ParentUUID string          `json:"parentUuid,omitempty"`
	Type       string          `json:"type"`
	Message    json.RawMessage `json:"message,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	Cwd        string          `json:"cwd,omitempty"`
}

type claudeMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolUse   *toolUseBlock   `json:"tool_use,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type toolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// rawToolCall is an intermediate shape used only to derive snippets; it is
// not part of the normalized model.
type rawToolCall struct {
	Name   string
	Params map[string]string
	Result string
}

// parsedFile is everything parseFile recovers from one transcript.
type parsedFile struct {
	sessionID string
	cwd       string
	messages  []model.Message
	startedAt int64
	endedAt   int64
}

// parseFile reads one Claude Code JSONL transcript and returns its messages
// in source order, 0-based dense idx already assigned. Malformed lines are
// skipped with a ParseWarning passed to warn rather than failing the scan.
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
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var ev jsonlEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			warn(connector.ParseWarning{SourcePath: path, Offset: lineNum, Reason: "malformed json: " + err.Error()})
			continue
		}
		if ev.SessionID != "" && out.sessionID == "" {
			out.sessionID = ev.SessionID
		}
		if ev.Cwd != "" && out.cwd == "" {
			out.cwd = ev.Cwd
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

// eventToMessage maps one transcript event onto the normalized model,
// returning ok=false for event types carrying nothing worth indexing.
func eventToMessage(ev jsonlEvent) (model.Message, bool) {
	role, knownRole := eventRole(ev.Type)

	var content string
	var toolCalls []rawToolCall
	if role == model.RoleUser {
		var plain string
		if err := json.Unmarshal(ev.Message, &plain); err == nil {
			content = plain
		} else {
			var cm claudeMessage
			if err := json.Unmarshal(ev.Message, &cm); err == nil {
				content, toolCalls = extractContent(cm.Content)
			}
		}
	} else {
		var cm claudeMessage
		if err := json.Unmarshal(ev.Message, &cm); err == nil {
			content, toolCalls = extractContent(cm.Content)
		}
	}

	if content == "" && len(toolCalls) == 0 {
		return model.Message{}, false
	}

	createdAt := int64(0)
	if ev.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
			createdAt = ts.UnixMilli()
		} else if ts, err := time.Parse("2006-01-02T15:04:05Z", ev.Timestamp); err == nil {
			createdAt = ts.UnixMilli()
		}
	}

	extraFields := struct {
		UUID       string `json:"uuid,omitempty"`
		ParentUUID string `json:"parent_uuid,omitempty"`
		SourceRole string `json:"source_role,omitempty"`
	}{UUID: ev.UUID, ParentUUID: ev.ParentUUID}
	if !knownRole {
		extraFields.SourceRole = ev.Type
	}
	extra, _ := json.Marshal(extraFields)

	return model.Message{
		Role:      role,
		Author:    ev.Type,
		CreatedAt: createdAt,
		Content:   content,
		Extra:     extra,
		Snippets:  snippetsFromToolCalls(toolCalls),
	}, true
}

// eventRole maps a transcript event's own type label onto the closed Role
// variant. An unrecognized label collapses to RoleTool rather than dropping
// the event; known=false tells the caller to preserve the original label in
// Extra.
func eventRole(eventType string) (model.Role, bool) {
	switch eventType {
	case "user":
		return model.RoleUser, true
	case "assistant":
		return model.RoleAgent, true
	case "tool":
		return model.RoleTool, true
	case "system":
		return model.RoleSystem, true
	default:
		return model.RoleTool, false
	}
}

// extractContent flattens a content-block array into plain text plus the
// tool invocations it carries, associating tool_result blocks back onto the
// tool_use immediately preceding them.
func extractContent(blocks []contentBlock) (string, []rawToolCall) {
	var textParts []string
	var calls []rawToolCall

	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				textParts = append(textParts, block.Text)
			}
		case "tool_use":
			if block.ToolUse != nil {
				calls = append(calls, toolCallFromInput(block.ToolUse.Name, block.ToolUse.Input))
			} else if block.Name != "" {
				calls = append(calls, toolCallFromInput(block.Name, block.Input))
			}
		case "tool_result":
			if block.Content != "" && len(calls) > 0 {
				calls[len(calls)-1].Result = block.Content
			}
		}
	}
	return strings.Join(textParts, "\n"), calls
}

func toolCallFromInput(name string, input json.RawMessage) rawToolCall {
	tc := rawToolCall{Name: name, Params: make(map[string]string)}
	var m map[string]interface{}
	if err := json.Unmarshal(input, &m); err == nil {
		for k, v := range m {
			tc.Params[k] = fmt.Sprintf("%v", v)
		}
	}
	return tc
}

// snippetsFromToolCalls turns Read/Edit/Write tool invocations into
// model.Snippet entries so the files an agent touched stay attached to the
// message that touched them.
func snippetsFromToolCalls(calls []rawToolCall) []model.Snippet {
	var out []model.Snippet
	for _, tc := range calls {
		path := tc.Params["file_path"]
		if path == "" {
			continue
		}
		s := model.Snippet{Path: path, Text: tc.Result}
		if offset, ok := tc.Params["offset"]; ok {
			if n, err := strconv.Atoi(offset); err == nil {
				s.LineStart = n
				if limit, ok := tc.Params["limit"]; ok {
					if m, err := strconv.Atoi(limit); err == nil {
						s.LineEnd = n + m
					}
				}
			}
		}
		out = append(out, s)
	}
	return out
}
