package embedstore

import (
	"strings"
	"time"
)

// Record is one stored embedding, keyed by the content hash of the text it
// was computed from. Re-storing the same hash overwrites the document, so
// writes are idempotent and concurrent writers converge last-write-wins.
type Record struct {
	ContentHash    string    `json:"content_hash"`
	Vector         []float32 `json:"vector"`
	Model          string    `json:"model"`
	Dimension      int       `json:"dimension"`
	SourceID       string    `json:"source_id,omitempty"`
	DocumentID     string    `json:"document_id,omitempty"`
	ContentPreview string    `json:"content_preview,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const previewLen = 200

// Preview returns the first 200 characters of text, with "..." appended when
// truncated.
func Preview(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= previewLen {
		return text
	}
	return string(runes[:previewLen]) + "..."
}
