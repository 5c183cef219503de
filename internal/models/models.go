package models

// Chunk is the atomic retrievable unit of the knowledge base. Chunks are
// created at ingestion time, immutable afterwards, and removed only when
// their source document is deleted.
type Chunk struct {
	ID     int    `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source"`
	Page   int    `json:"page"`
}

// RetrievedChunk is a Chunk annotated with per-query similarity data.
// It is built per query and never persisted.
type RetrievedChunk struct {
	Chunk
	Score     float64 `json:"score"`
	Relevance string  `json:"relevance"`
}

// GroundedAnswer is the outcome of one question against the knowledge base.
type GroundedAnswer struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
	Model      string   `json:"model"`
	Err        error    `json:"-"`
}

// Failed reports whether answer generation did not complete.
func (a GroundedAnswer) Failed() bool { return a.Err != nil }

// UploadRecord is one entry of the upload audit log.
type UploadRecord struct {
	Filename  string  `json:"filename"`
	Timestamp float64 `json:"timestamp"`
	Chunks    int     `json:"chunks"`
	Status    string  `json:"status"`
}
