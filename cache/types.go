package cache

// Entry is a cached record of one source's most recent content.
// Timestamps are Unix milliseconds. Processed and ErrorMessage are mutually
// exclusive: a processed entry carries no error.
type Entry struct {
	SourceID     string
	ContentHash  string
	ContentType  string
	SizeBytes    int64
	Processed    bool
	ErrorMessage string
	MetadataJSON string
	CreatedAt    int64
	UpdatedAt    int64
}

// DuplicateRecord tracks every source that registered a given content hash.
// Count increments on every registration; SourceIDs is a set.
type DuplicateRecord struct {
	ContentHash string
	SourceIDs   []string
	Count       int
	FirstSeen   int64
	LastSeen    int64
}

// Stats aggregates cache-wide counters.
type Stats struct {
	Entries         int     `json:"entries"`
	Processed       int     `json:"processed"`
	Errored         int     `json:"errored"`
	DistinctHashes  int     `json:"distinct_hashes"`
	DuplicateHashes int     `json:"duplicate_hashes"`
	TotalBytes      int64   `json:"total_bytes"`
	SuccessRate     float64 `json:"success_rate"`
	LogEntries      int     `json:"log_entries"`
}

// DuplicateGroup describes one content hash shared across registrations.
type DuplicateGroup struct {
	ContentHash string   `json:"content_hash"`
	Count       int      `json:"count"`
	SourceCount int      `json:"source_count"`
	SourceIDs   []string `json:"source_ids"`
}

// DuplicateSummary reports the most duplicated hashes and the total
// processing saved by deduplication (sum of count-1 over all records).
type DuplicateSummary struct {
	TotalHashes     int              `json:"total_hashes"`
	ProcessingSaved int              `json:"processing_saved"`
	Top             []DuplicateGroup `json:"top"`
}

// LogEntry is one row of the per-source operation log.
type LogEntry struct {
	ID        string `json:"id"`
	SourceID  string `json:"source_id"`
	Operation string `json:"operation"`
	Detail    string `json:"detail"`
	CreatedAt int64  `json:"created_at"`
}
