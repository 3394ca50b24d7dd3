package model

// Confidence levels returned by the extraction stage.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
)

// Candidate is a memory proposed by the extraction stage. It is never stored
// as-is: the key is sanitized and a storage mode is chosen first.
type Candidate struct {
	Key         string   `json:"key"`
	Summary     string   `json:"summary"`
	Content     string   `json:"content"`
	Confidence  string   `json:"confidence"`
	RelatedKeys []string `json:"relatedKeys,omitempty"`
}

// ExtractionRequest is the input of one extraction call.
type ExtractionRequest struct {
	Date     string
	NoteText string
	Existing []MemoryIndexEntry
	Limit    int
	// AtCapacity tells the model that only existing keys can be updated.
	AtCapacity bool
}

// ConsolidationRequest is the input of one consolidation call.
type ConsolidationRequest struct {
	Key      string
	New      Candidate
	Existing []MemoryDetail
}

// Consolidated is the merged entry returned by the consolidation stage.
type Consolidated struct {
	Summary string `json:"summary"`
	Content string `json:"content"`
}

// BatchResult aggregates the outcome of one day.
type BatchResult struct {
	Extracted int
	Created   int
	Updated   int
}

// PipelineResult aggregates the outcome of one pipeline run.
type PipelineResult struct {
	Processed    int      `json:"processed"`
	Extracted    int      `json:"extracted"`
	Created      int      `json:"created"`
	Updated      int      `json:"updated"`
	Dates        []string `json:"dates"`
	SkippedDates []string `json:"skippedDates"`
	// Locked is set when another run held the processing lock.
	Locked bool `json:"-"`
}

// NewPipelineResult returns a zero result with non-nil slices.
func NewPipelineResult() *PipelineResult {
	return &PipelineResult{
		Dates:        []string{},
		SkippedDates: []string{},
	}
}
