// Package geminicli implements the connector.Connector contract for Gemini
// CLI's per-project chat and checkpoint files under
// ~/.gemini/tmp/<project-hash>/*.json.
package geminicli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fyrsmithlabs/sessiondex/internal/connector"
	"github.com/fyrsmithlabs/sessiondex/internal/model"
)

// turn is one entry of a chat/checkpoint file, modeled on the Gemini API's
// own content shape: a role ("user" or "model") and one or more text parts.
type turn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type parsedFile struct {
	messages []model.Message
}

// parseFile reads one chat/checkpoint JSON file: a top-level array of
// turns. Gemini CLI checkpoints carry no per-turn timestamp, so every
// message is stamped with mtimeMs, the file's own modification time as
// passed in by the caller.
func parseFile(path string, mtimeMs int64, warn func(connector.ParseWarning)) (parsedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return parsedFile{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var turns []turn
	if err := json.Unmarshal(data, &turns); err != nil {
		warn(connector.ParseWarning{SourcePath: path, Reason: "malformed checkpoint json: " + err.Error()})
		return parsedFile{}, nil
	}

	var out parsedFile
	idx := 0
	for _, t := range turns {
		var texts []string
		for _, p := range t.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		content := strings.Join(texts, "\n")
		if content == "" {
			continue
		}

		role, known := roleFor(t.Role)
		var extra json.RawMessage
		if !known {
			extra, _ = json.Marshal(struct {
				SourceRole string `json:"source_role"`
			}{SourceRole: t.Role})
		}

		out.messages = append(out.messages, model.Message{
			Idx:       idx,
			Role:      role,
			Author:    t.Role,
			CreatedAt: mtimeMs,
			Content:   content,
			Extra:     extra,
		})
		idx++
	}
	return out, nil
}

// roleFor maps Gemini's own "user"/"model"/"function" event kinds onto the
// normalized role set. An unrecognized kind collapses to RoleTool rather
// than dropping the turn; known=false tells the caller to preserve the
// original label in Extra.
func roleFor(kind string) (model.Role, bool) {
	switch kind {
	case "user":
		return model.RoleUser, true
	case "model":
		return model.RoleAgent, true
	case "function", "tool":
		return model.RoleTool, true
	default:
		return model.RoleTool, false
	}
}
