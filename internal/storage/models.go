package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ScrapingEntry is one row of the extraction working set (the knowledge DB).
// Rows are soft-deleted, never removed.
type ScrapingEntry struct {
	ID                 string
	SourceTypeKey      string // method + URL path, used for grouping
	URL                string
	OriginalRequest    string // JSON snapshot
	OriginalResponse   string // JSON snapshot
	FiltererJSON       string
	ConverterCode      string
	FinalCleanResponse string
	ProcessingStatus   string
	IsDeleted          bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ChatMessage is one entry of the append-only conversation log.
type ChatMessage struct {
	ID            string
	Role          string // "user", "model", "system"
	Text          string
	ToolCallsJSON string // JSON array stored as text
	CreatedAt     time.Time
}

// HarRecord mirrors har.Record for persistence.
type HarRecord struct {
	Idx              int
	ID               string
	Method           string
	URL              string
	Status           int
	Size             int64
	MimeType         string
	ResponseBodyText string
	Selected         bool
}

// GroupSummary is the per-source-type-key row of the scraping table listing:
// one representative status and filter per group plus the row count.
type GroupSummary struct {
	SourceTypeKey string
	Count         int
	Status        string
	FiltererJSON  string
}
