package searchindex

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// indexVersion selects the on-disk directory (index/v1, index/v2, ...). A
// schema change that can't be expressed as a pure field addition bumps this
// alongside buildMapping.
const indexVersion = "v1"

// Document is what gets indexed per message. Field names match the bleve
// mapping built below and the searchindex schema described in spec §4.5.
type Document struct {
	MessageID      int64  `json:"message_id"`
	ConversationID int64  `json:"conversation_id"`
	AgentSlug      string `json:"agent_slug"`
	Workspace      string `json:"workspace"`
	Role           string `json:"role"`
	CreatedAt      int64  `json:"created_at"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	SourcePath     string `json:"source_path"`
	LineNumber     int64  `json:"line_number"`
}

func buildMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = "standard"

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = "keyword"

	numericField := bleve.NewNumericFieldMapping()

	messageMapping := bleve.NewDocumentMapping()
	messageMapping.AddFieldMappingsAt("content", textField)
	messageMapping.AddFieldMappingsAt("title", textField)
	messageMapping.AddFieldMappingsAt("agent_slug", keywordField)
	messageMapping.AddFieldMappingsAt("workspace", keywordField)
	messageMapping.AddFieldMappingsAt("role", keywordField)
	messageMapping.AddFieldMappingsAt("created_at", numericField)
	messageMapping.AddFieldMappingsAt("message_id", numericField)
	messageMapping.AddFieldMappingsAt("conversation_id", numericField)
	messageMapping.AddFieldMappingsAt("source_path", keywordField)
	messageMapping.AddFieldMappingsAt("line_number", numericField)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = messageMapping
	im.DefaultAnalyzer = "standard"
	return im
}

// schemaHash canonicalizes the mapping's field list and analyzers into a
// stable string; a mismatch against the sidecar hash file on disk forces a
// rebuild rather than risking stale-analyzer query results.
func schemaHash(im mapping.IndexMapping) (string, error) {
	// bleve's mapping doesn't implement a stable canonical encoding, but its
	// own JSON marshaling is deterministic field-order, which is sufficient
	// to detect any field/analyzer change we make to buildMapping.
	encoded, err := json.Marshal(im)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(append(encoded, []byte(indexVersion)...))
	return hex.EncodeToString(sum[:]), nil
}
