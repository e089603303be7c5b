package models

import "time"

// Document is one ingested unit of text. FileID is caller-assigned and
// unique; Blocks holds the extracted text in page/section order.
type Document struct {
	FileID   string
	Filename string
	Blocks   []string
}

// Chunk is a contiguous span of a document's text, the unit of
// embedding and retrieval.
type Chunk struct {
	FileID  string
	Text    string
	Ordinal int
}

// SearchResult is a retrieved chunk together with its similarity score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// IndexStats reports the outcome of indexing one document.
type IndexStats struct {
	ChunksAdded int
}

// QueryRun captures one query execution end to end. It is assembled by
// the orchestrator and handed immutably to the metrics and query-log
// sinks; the process does not retain it afterwards.
type QueryRun struct {
	RunID        string
	Query        string
	FileID       string
	Contexts     []string
	Reply        string
	Confidence   float64
	TokensUsed   int
	ResponseTime time.Duration
	CreatedAt    time.Time
}

// Answer is a complete generation result. Either the whole answer is
// produced or the call fails; there is no partial output.
type Answer struct {
	Text       string
	TokensUsed int
}

// DocumentMeta is the durable metadata record kept per uploaded file.
type DocumentMeta struct {
	FileID     string
	Filename   string
	UploadedAt time.Time
}

// QueryLogRecord is the durable audit record kept per answered query.
type QueryLogRecord struct {
	RunID      string
	QueryText  string
	Response   string
	Confidence float64
	FileID     string
	CreatedAt  time.Time
}
