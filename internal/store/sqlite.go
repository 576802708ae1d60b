package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/cardscope/card-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_documents (
	id           TEXT PRIMARY KEY,
	issuer       TEXT NOT NULL,
	source_url   TEXT NOT NULL,
	page_title   TEXT NOT NULL DEFAULT '',
	fetched_at   DATETIME NOT NULL,
	raw_text     TEXT NOT NULL,
	http_status  INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fetch_failures (
	id        TEXT PRIMARY KEY,
	issuer    TEXT NOT NULL,
	url       TEXT NOT NULL,
	reason    TEXT NOT NULL,
	permanent INTEGER NOT NULL DEFAULT 0,
	failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS candidates (
	id            TEXT PRIMARY KEY,
	issuer        TEXT NOT NULL,
	source_url    TEXT NOT NULL UNIQUE,
	page_title    TEXT NOT NULL DEFAULT '',
	extracted_at  DATETIME NOT NULL,
	model         TEXT NOT NULL,
	raw_response  TEXT NOT NULL,
	parsed_fields TEXT,
	confidence    REAL NOT NULL DEFAULT 0,
	report        TEXT
);

CREATE TABLE IF NOT EXISTS merge_conflicts (
	id                  TEXT PRIMARY KEY,
	card_id             TEXT NOT NULL,
	reason              TEXT NOT NULL,
	existing_confidence REAL NOT NULL,
	incoming_confidence REAL NOT NULL,
	recorded_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	issuer     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	summary    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_raw_documents_source ON raw_documents(issuer, source_url, fetched_at);
CREATE INDEX IF NOT EXISTS idx_fetch_failures_issuer ON fetch_failures(issuer);
CREATE INDEX IF NOT EXISTS idx_candidates_issuer ON candidates(issuer);
CREATE INDEX IF NOT EXISTS idx_merge_conflicts_card ON merge_conflicts(card_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_issuer ON runs(issuer);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutRawDocument(ctx context.Context, doc model.RawDocument) (bool, error) {
	hash := doc.ContentHash()

	var latestHash string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM raw_documents
		 WHERE issuer = ? AND source_url = ?
		 ORDER BY fetched_at DESC LIMIT 1`,
		doc.Issuer, doc.SourceURL,
	).Scan(&latestHash)
	if err != nil && err != sql.ErrNoRows {
		return false, eris.Wrap(err, "sqlite: lookup raw document hash")
	}
	if err == nil && latestHash == hash {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO raw_documents (id, issuer, source_url, page_title, fetched_at, raw_text, http_status, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), doc.Issuer, doc.SourceURL, doc.PageTitle,
		doc.FetchedAt.UTC(), doc.RawText, doc.HTTPStatus, hash,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert raw document")
	}
	return true, nil
}

func (s *SQLiteStore) LatestRawDocuments(ctx context.Context, issuer string) ([]model.RawDocument, error) {
	query := `SELECT issuer, source_url, page_title, fetched_at, raw_text, http_status
	          FROM raw_documents d
	          WHERE fetched_at = (SELECT MAX(fetched_at) FROM raw_documents WHERE source_url = d.source_url)`
	var args []any
	if issuer != "" {
		query += ` AND issuer = ?`
		args = append(args, issuer)
	}
	query += ` ORDER BY source_url`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list raw documents")
	}
	defer rows.Close()

	var docs []model.RawDocument
	for rows.Next() {
		var d model.RawDocument
		if err := rows.Scan(&d.Issuer, &d.SourceURL, &d.PageTitle, &d.FetchedAt, &d.RawText, &d.HTTPStatus); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list raw documents iterate")
}

func (s *SQLiteStore) RecordFetchFailure(ctx context.Context, issuer, url, reason string, permanent bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fetch_failures (id, issuer, url, reason, permanent, failed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), issuer, url, reason, permanent, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: record fetch failure")
}

func (s *SQLiteStore) PutCandidate(ctx context.Context, cand model.ExtractionCandidate, report *model.ValidationReport) error {
	var fieldsJSON sql.NullString
	if cand.ParsedFields != nil {
		b, err := json.Marshal(cand.ParsedFields)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal parsed fields")
		}
		fieldsJSON = sql.NullString{String: string(b), Valid: true}
	}

	var reportJSON sql.NullString
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal validation report")
		}
		reportJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO candidates (id, issuer, source_url, page_title, extracted_at, model, raw_response, parsed_fields, confidence, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_url) DO UPDATE SET
		   issuer = excluded.issuer, page_title = excluded.page_title,
		   extracted_at = excluded.extracted_at, model = excluded.model,
		   raw_response = excluded.raw_response, parsed_fields = excluded.parsed_fields,
		   confidence = excluded.confidence, report = excluded.report`,
		uuid.New().String(), cand.Issuer, cand.SourceURL, cand.PageTitle,
		cand.ExtractedAt.UTC(), cand.Model, cand.RawModelResponse,
		fieldsJSON, cand.Confidence, reportJSON,
	)
	return eris.Wrap(err, "sqlite: put candidate")
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, issuer string) ([]CandidateRecord, error) {
	query := `SELECT issuer, source_url, page_title, extracted_at, model, raw_response, parsed_fields, confidence, report
	          FROM candidates WHERE 1=1`
	var args []any
	if issuer != "" {
		query += ` AND issuer = ?`
		args = append(args, issuer)
	}
	query += ` ORDER BY source_url`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close()

	var records []CandidateRecord
	for rows.Next() {
		var rec CandidateRecord
		c := &rec.Candidate
		var fieldsJSON, reportJSON sql.NullString
		if err := rows.Scan(&c.Issuer, &c.SourceURL, &c.PageTitle, &c.ExtractedAt,
			&c.Model, &c.RawModelResponse, &fieldsJSON, &c.Confidence, &reportJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		if fieldsJSON.Valid {
			if err := json.Unmarshal([]byte(fieldsJSON.String), &c.ParsedFields); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal parsed fields")
			}
		}
		if reportJSON.Valid {
			rec.Report = &model.ValidationReport{}
			if err := json.Unmarshal([]byte(reportJSON.String), rec.Report); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal validation report")
			}
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list candidates iterate")
}

func (s *SQLiteStore) RecordConflict(ctx context.Context, w model.ConflictWarning) error {
	recordedAt := w.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO merge_conflicts (id, card_id, reason, existing_confidence, incoming_confidence, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), w.CardID, w.Reason, w.ExistingConfidence, w.IncomingConfidence, recordedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: record conflict")
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, limit int) ([]model.ConflictWarning, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT card_id, reason, existing_confidence, incoming_confidence, recorded_at
		 FROM merge_conflicts ORDER BY recorded_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list conflicts")
	}
	defer rows.Close()

	var warns []model.ConflictWarning
	for rows.Next() {
		var w model.ConflictWarning
		if err := rows.Scan(&w.CardID, &w.Reason, &w.ExistingConfidence, &w.IncomingConfidence, &w.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conflict")
		}
		warns = append(warns, w)
	}
	return warns, eris.Wrap(rows.Err(), "sqlite: list conflicts iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, issuer string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, issuer, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, issuer, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Issuer:    issuer,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET summary = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(summaryJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, issuer, status, summary, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, issuer, status, summary, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Issuer != "" {
		query += ` AND issuer = ?`
		args = append(args, filter.Issuer)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var summaryJSON sql.NullString

	err := row.Scan(&r.ID, &r.Issuer, &r.Status, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if summaryJSON.Valid {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}
