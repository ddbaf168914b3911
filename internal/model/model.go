// Package model defines the normalized record types shared by every connector,
// the storage layer, and the query client. The model is input-only to storage
// (connectors produce it) and read-only out of storage (the query client returns
// projected views over it).
package model

import "encoding/json"

// Kind describes the shape a supported tool presents to the user.
type Kind string

const (
	KindCLI             Kind = "cli"
	KindEditorExtension Kind = "editor-extension"
	KindHybrid          Kind = "hybrid"
)

// Agent identifies one supported coding-assistant tool. Slugs are unique and
// immutable; adding a new agent is additive and never renames an existing slug.
type Agent struct {
	Slug        string
	DisplayName string
	Kind        Kind
}

// Well-known agent slugs. Connector packages reference these constants rather
// than string literals so a typo can't silently create a phantom agent.
const (
	AgentCodex      = "codex"
	AgentClaudeCode = "claude_code"
	AgentGeminiCLI  = "gemini_cli"
	AgentCline      = "cline"
	AgentOpenCode   = "opencode"
	AgentAmp        = "amp"
)

// Workspace is a project root path with an optional display name. It is unique
// by its canonical absolute path.
type Workspace struct {
	Path        string
	DisplayName string
}

// Role is a closed variant: every connector maps its source's own role labels
// onto one of these four values. A source label with no obvious mapping
// collapses to RoleTool with the original label preserved in Extra.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleTool   Role = "tool"
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the closed set of roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleTool, RoleSystem:
		return true
	default:
		return false
	}
}

// Snippet is an optional code or file reference attached to a message.
type Snippet struct {
	Path      string
	LineStart int
	LineEnd   int
	Language  string
	Text      string
}

// Message is a single turn in a conversation. Idx is the 0-based order of the
// message within its conversation; (conversation, idx) is unique in storage.
// CreatedAt is epoch milliseconds UTC, or zero when the source carries no
// timestamp for this message.
type Message struct {
	Idx       int
	Role      Role
	Author    string
	CreatedAt int64 // 0 means "absent"
	Content   string
	Extra     json.RawMessage
	Snippets  []Snippet
}

// HasCreatedAt reports whether the message carries a timestamp.
func (m Message) HasCreatedAt() bool { return m.CreatedAt != 0 }

// Conversation is a single thread/task/session owned by one agent and
// optionally scoped to a workspace. (AgentSlug, ExternalID) is the
// deduplication key enforced by storage.
type Conversation struct {
	AgentSlug    string
	ExternalID   string
	Workspace    *Workspace // nil when the source has no notion of a workspace
	Title        string
	SourcePath   string
	SourceMTime  int64 // epoch ms UTC of the source artifact at scan time; feeds max_source_mtime
	StartedAt    int64 // 0 means "absent"
	EndedAt      int64 // 0 means "absent"
	Metadata     json.RawMessage
	Messages     []Message
}

// NormalizedConversation is what connectors emit from a scan: a Conversation
// together with its messages, ready for storage.insert_conversation_tree.
type NormalizedConversation = Conversation

// IDs as assigned by storage. Connectors never see these; only storage and the
// query client operate in terms of them.
type (
	AgentID        int64
	WorkspaceID    int64
	ConversationID int64
	MessageID      int64
)
