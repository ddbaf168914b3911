// Package connector defines the contract every supported tool's connector
// implements: detect, scan, and claim ownership of a filesystem path for the
// watcher's event routing.
package connector

import (
	"context"
	"strconv"

	"github.com/fyrsmithlabs/sessiondex/internal/model"
	"github.com/fyrsmithlabs/sessiondex/internal/pathresolver"
)

// DetectionResult reports whether a connector found any artifacts at all,
// without reading them.
type DetectionResult struct {
	Found bool
	Roots pathresolver.Roots
}

// Connector is implemented once per supported tool. Implementations are
// idempotent and side-effect-free outside storage: scan only reads source
// artifacts and emits normalized conversations for the caller to persist.
type Connector interface {
	// AgentSlug returns the stable slug this connector owns (model.AgentCodex
	// and friends).
	AgentSlug() string

	// Detect reports whether this agent's artifacts are present at all,
	// using resolver to compute candidate roots.
	Detect(resolver *pathresolver.Resolver) DetectionResult

	// Scan walks the given roots and emits normalized conversations touched
	// since the given cursor (exclusive). A nil since scans everything
	// (full mode). Scan must emit conversations in an order stable enough
	// for tests: by source modification time, then by source path.
	Scan(ctx context.Context, roots pathresolver.Roots, since *int64) ([]model.NormalizedConversation, error)

	// OwnsPath reports whether p falls under this connector's artifact
	// roots, for the watcher's event-routing.
	OwnsPath(p string) bool
}

// ParseWarning is a structured diagnostic for a malformed record that was
// skipped rather than failing the whole artifact.
type ParseWarning struct {
	SourcePath string
	Offset     int // line number for line-delimited formats, 0 if not applicable
	Reason     string
}

func (w ParseWarning) Error() string {
	if w.Offset > 0 {
		return w.SourcePath + ":" + strconv.Itoa(w.Offset) + ": " + w.Reason
	}
	return w.SourcePath + ": " + w.Reason
}
