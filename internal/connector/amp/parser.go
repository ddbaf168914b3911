// Package amp implements the connector.Connector contract for Amp's thread
// caches: the VS Code extension's globalStorage and the CLI's
// ~/.local/share/amp (or %APPDATA%\amp on Windows).
package amp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
)

// threadFile is the shape of one Amp thread cache file.
type threadFile struct {
	ThreadID  string        `json:"threadId,omitempty"`
	Workspace string        `json:"workspace,omitempty"`
	Messages  []threadEntry `json:"messages"`
}

type threadEntry struct {
	Role string `json:"role"`
	Text string `json:"text,omitempty"`
	Ts   int64  `json:"ts,omitempty"`
}

type parsedThread struct {
	threadID  string
	partial   bool
	workspace string
	messages  []model.Message
	startedAt int64
	endedAt   int64
}

// parseFile reads one thread cache file. When the file carries no thread
// id, it falls back to a stable hash of the file path and marks the thread
// partial=true, since Amp's local cache layout is under-specified and may be
// truncated or split across files.
func parseFile(path string, mtimeMs int64, warn func(connector.ParseWarning)) (parsedThread, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return parsedThread{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var tf threadFile
	if err := json.Unmarshal(data, &tf); err != nil {
		warn(connector.ParseWarning{SourcePath: path, Reason: "malformed thread cache: " + err.Error()})
		return parsedThread{}, nil
	}

	out := parsedThread{threadID: tf.ThreadID, workspace: tf.Workspace}
	if out.threadID == "" {
		out.threadID = hashPath(path)
		out.partial = true
	}

	idx := 0
	for _, e := range tf.Messages {
		if e.Text == "" {
			continue
		}
		role, known := roleFor(e.Role)
		var extra json.RawMessage
		if !known {
			extra, _ = json.Marshal(struct {
				SourceRole string `json:"source_role"`
			}{SourceRole: e.Role})
		}
		ts := e.Ts
		if ts == 0 {
			ts = mtimeMs
		}
		out.messages = append(out.messages, model.Message{
			Idx:       idx,
			Role:      role,
			Author:    e.Role,
			CreatedAt: ts,
			Content:   e.Text,
			Extra:     extra,
		})
		idx++
		if out.startedAt == 0 {
			out.startedAt = ts
		}
		out.endedAt = ts
	}
	return out, nil
}

// roleFor maps Amp's own role label onto the closed Role variant. An
// unrecognized label collapses to RoleTool rather than dropping the
// message; known=false tells the caller to preserve the original label in
// Extra.
func roleFor(kind string) (model.Role, bool) {
	switch strings.ToLower(kind) {
	case "user":
		return model.RoleUser, true
	case "assistant", "agent":
		return model.RoleAgent, true
	case "tool":
		return model.RoleTool, true
	case "system":
		return model.RoleSystem, true
	default:
		return model.RoleTool, false
	}
}

func hashPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	return "path:" + hex.EncodeToString(sum[:])[:16]
}
