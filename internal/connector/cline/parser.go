// Package cline implements the connector.Connector contract for Cline's
// per-task directories under the VS Code extension's globalStorage:
// saoudrizwan.claude-dev/tasks/<task-uuid>/{ui_messages.json,
// api_conversation_history.json,task_metadata.json}.
package cline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
)

// tsToleranceMs is how close two timestamps from the two Cline message
// streams must be to be treated as the same logical turn.
const tsToleranceMs = 250

type uiMessage struct {
	Ts   int64  `json:"ts"`
	Type string `json:"type"`
	Say  string `json:"say,omitempty"`
	Ask  string `json:"ask,omitempty"`
	Text string `json:"text,omitempty"`
}

type apiMessage struct {
	Ts      int64           `json:"ts,omitempty"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type taskMetadata struct {
	Workspace string `json:"workspace,omitempty"`
	Task      string `json:"task,omitempty"`
}

// turn is one resequenced message before idx assignment.
type turn struct {
	ts      int64
	order   int // source-order secondary sort key
	role    model.Role
	author  string
	content string
}

type parsedTask struct {
	workspace string
	title     string
	messages  []model.Message
	startedAt int64
	endedAt   int64
}

// parseTask reads one task directory's two message streams, merges
// overlapping entries (preferring the API-history copy, which carries the
// richer tool-call payload), sorts by timestamp then source order, and
// resequences into dense 0-based idx.
func parseTask(dir string, warn func(connector.ParseWarning)) (parsedTask, error) {
	var out parsedTask

	if meta, err := readTaskMetadata(filepath.Join(dir, "task_metadata.json")); err == nil {
		out.workspace = meta.Workspace
		out.title = meta.Task
	}

	uiTurns, err := readUITurns(filepath.Join(dir, "ui_messages.json"), warn)
	if err != nil {
		return out, err
	}
	apiTurns, err := readAPITurns(filepath.Join(dir, "api_conversation_history.json"), warn)
	if err != nil {
		return out, err
	}

	merged := mergeTurns(uiTurns, apiTurns)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].ts != merged[j].ts {
			return merged[i].ts < merged[j].ts
		}
		return merged[i].order < merged[j].order
	})

	idx := 0
	for _, t := range merged {
		if t.content == "" {
			continue
		}
		out.messages = append(out.messages, model.Message{
			Idx:       idx,
			Role:      t.role,
			Author:    t.author,
			CreatedAt: t.ts,
			Content:   t.content,
		})
		idx++
		if t.ts != 0 {
			if out.startedAt == 0 {
				out.startedAt = t.ts
			}
			out.endedAt = t.ts
		}
	}
	return out, nil
}

func readTaskMetadata(path string) (taskMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return taskMetadata{}, err
	}
	var meta taskMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return taskMetadata{}, err
	}
	return meta, nil
}

func readUITurns(path string, warn func(connector.ParseWarning)) ([]turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var raw []uiMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		warn(connector.ParseWarning{SourcePath: path, Reason: "malformed ui_messages.json: " + err.Error()})
		return nil, nil
	}
	turns := make([]turn, 0, len(raw))
	for i, m := range raw {
		role := model.RoleAgent
		if m.Type == "ask" {
			role = model.RoleUser
		}
		text := m.Text
		if text == "" {
			continue
		}
		turns = append(turns, turn{ts: m.Ts, order: i, role: role, author: "ui:" + firstNonEmpty(m.Say, m.Ask, m.Type), content: text})
	}
	return turns, nil
}

func readAPITurns(path string, warn func(connector.ParseWarning)) ([]turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var raw []apiMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		warn(connector.ParseWarning{SourcePath: path, Reason: "malformed api_conversation_history.json: " + err.Error()})
		return nil, nil
	}
	turns := make([]turn, 0, len(raw))
	for i, m := range raw {
		role := model.RoleAgent
		if m.Role == "user" {
			role = model.RoleUser
		}
		content := apiContent(m.Content)
		if content == "" {
			continue
		}
		turns = append(turns, turn{ts: m.Ts, order: i, role: role, author: "api:" + m.Role, content: content})
	}
	return turns, nil
}

func apiContent(raw json.RawMessage) string {
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var blocks []apiContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// mergeTurns drops a ui turn whenever an api turn exists within
// tsToleranceMs of it and shares the same role, since the api-history copy
// carries the richer tool-call payload for that logical turn.
func mergeTurns(ui, api []turn) []turn {
	out := make([]turn, 0, len(ui)+len(api))
	out = append(out, api...)
	for _, u := range ui {
		if hasOverlap(api, u) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func hasOverlap(api []turn, u turn) bool {
	for _, a := range api {
		if a.role != u.role {
			continue
		}
		diff := a.ts - u.ts
		if diff < 0 {
			diff = -diff
		}
		if diff <= tsToleranceMs {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
