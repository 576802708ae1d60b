package model

import "time"

// ExtractionCandidate is the parsed output of one model call over one
// RawDocument. ParsedFields holds the model's JSON object keyed by the
// extraction schema's top-level fields; a nil map means the response could
// not be parsed at all.
type ExtractionCandidate struct {
	Issuer           string         `json:"issuer"`
	SourceURL        string         `json:"sourceUrl"`
	PageTitle        string         `json:"pageTitle"`
	ExtractedAt      time.Time      `json:"extractedAt"`
	Model            string         `json:"model"`
	RawModelResponse string         `json:"rawModelResponse"`
	ParsedFields     map[string]any `json:"parsedFields"`

	// Confidence starts at the populated-required-fields heuristic and is
	// only ever lowered by validation, never raised.
	Confidence float64 `json:"confidence"`
}

// FieldIssue is a single validation finding against one field.
type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationReport is the deterministic verdict on one candidate.
type ValidationReport struct {
	SourceURL          string       `json:"sourceUrl"`
	Errors             []FieldIssue `json:"errors"`
	Warnings           []FieldIssue `json:"warnings"`
	AdjustedConfidence float64      `json:"adjustedConfidence"`
	ManualReview       bool         `json:"manualReviewRequired"`
}

// ConflictWarning records a merge where an incoming card lost to the record
// already in the dataset. Never dropped silently; persisted as an artifact.
type ConflictWarning struct {
	CardID             string    `json:"cardId"`
	Reason             string    `json:"reason"`
	ExistingConfidence float64   `json:"existingConfidence"`
	IncomingConfidence float64   `json:"incomingConfidence"`
	RecordedAt         time.Time `json:"recordedAt"`
}

// RunStatus is the state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusFetching   RunStatus = "fetching"
	RunStatusExtracting RunStatus = "extracting"
	RunStatusValidating RunStatus = "validating"
	RunStatusMerging    RunStatus = "merging"
	RunStatusComplete   RunStatus = "complete"
	RunStatusFailed     RunStatus = "failed"
)

// Run is one recorded execution of the pipeline for an issuer selection.
type Run struct {
	ID        string      `json:"id"`
	Issuer    string      `json:"issuer"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RunSummary is the end-of-run per-document tally reported to the caller.
// Counts, not dumps; automation keys exit codes off Degraded.
type RunSummary struct {
	URLs         int   `json:"urls"`
	Fetched      int   `json:"fetched"`
	FetchFailed  int   `json:"fetch_failed"`
	Extracted    int   `json:"extracted"`
	ParseFailed  int   `json:"parse_failed"`
	ManualReview int   `json:"manual_review"`
	Merged       int   `json:"merged"`
	Conflicts    int   `json:"conflicts"`
	DurationMS   int64 `json:"duration_ms"`

	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Degraded reports whether any document ended failed or flagged for manual
// review. Degraded runs exit nonzero so automation can detect them without
// parsing logs.
func (s *RunSummary) Degraded() bool {
	return s.FetchFailed > 0 || s.ParseFailed > 0 || s.ManualReview > 0
}

// Add accumulates another summary into s.
func (s *RunSummary) Add(o RunSummary) {
	s.URLs += o.URLs
	s.Fetched += o.Fetched
	s.FetchFailed += o.FetchFailed
	s.Extracted += o.Extracted
	s.ParseFailed += o.ParseFailed
	s.ManualReview += o.ManualReview
	s.Merged += o.Merged
	s.Conflicts += o.Conflicts
	s.InputTokens += o.InputTokens
	s.OutputTokens += o.OutputTokens
	s.CostUSD += o.CostUSD
}
