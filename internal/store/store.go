// Package store persists the raw corpus, extraction candidates, merge
// conflict artifacts and run bookkeeping behind a driver-neutral interface.
// SQLite backs local runs; Postgres backs shared deployments.
package store

import (
	"context"

	"github.com/cardscope/card-pipeline/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Issuer string          `json:"issuer,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// CandidateRecord pairs a stored candidate with its validation report. The
// report is nil when the candidate never validated (parse failure).
type CandidateRecord struct {
	Candidate model.ExtractionCandidate
	Report    *model.ValidationReport
}

// Store defines the persistence interface for the card pipeline.
type Store interface {
	// Raw corpus. PutRawDocument appends a new row unless the latest stored
	// row for (issuer, source_url) has an identical content hash; it reports
	// whether a row was written. LatestRawDocuments returns the newest row
	// per source URL, for the given issuer or all issuers when issuer is "".
	PutRawDocument(ctx context.Context, doc model.RawDocument) (bool, error)
	LatestRawDocuments(ctx context.Context, issuer string) ([]model.RawDocument, error)

	// Fetch failures, recorded per URL so degraded batches are auditable.
	RecordFetchFailure(ctx context.Context, issuer, url, reason string, permanent bool) error

	// Candidates with their validation reports, keyed by source URL. A
	// re-process of the same URL supersedes the stored candidate.
	PutCandidate(ctx context.Context, cand model.ExtractionCandidate, report *model.ValidationReport) error
	ListCandidates(ctx context.Context, issuer string) ([]CandidateRecord, error)

	// Merge conflict artifacts.
	RecordConflict(ctx context.Context, w model.ConflictWarning) error
	ListConflicts(ctx context.Context, limit int) ([]model.ConflictWarning, error)

	// Runs
	CreateRun(ctx context.Context, issuer string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
