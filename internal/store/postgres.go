package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/cardscope/card-pipeline/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. Declared as an
// interface so tests can substitute a pgxmock pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_raw_document":  `INSERT INTO raw_documents (id, issuer, source_url, page_title, fetched_at, raw_text, http_status, content_hash) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"latest_document_hash": `SELECT content_hash FROM raw_documents WHERE issuer = $1 AND source_url = $2 ORDER BY fetched_at DESC LIMIT 1`,
	"insert_fetch_failure": `INSERT INTO fetch_failures (id, issuer, url, reason, permanent, failed_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"insert_run":           `INSERT INTO runs (id, issuer, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status":    `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"complete_run":         `UPDATE runs SET summary = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":              `SELECT id, issuer, status, summary, created_at, updated_at FROM runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS raw_documents (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	issuer       TEXT NOT NULL,
	source_url   TEXT NOT NULL,
	page_title   TEXT NOT NULL DEFAULT '',
	fetched_at   TIMESTAMPTZ NOT NULL,
	raw_text     TEXT NOT NULL,
	http_status  INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fetch_failures (
	id        TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	issuer    TEXT NOT NULL,
	url       TEXT NOT NULL,
	reason    TEXT NOT NULL,
	permanent BOOLEAN NOT NULL DEFAULT false,
	failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS candidates (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	issuer        TEXT NOT NULL,
	source_url    TEXT NOT NULL UNIQUE,
	page_title    TEXT NOT NULL DEFAULT '',
	extracted_at  TIMESTAMPTZ NOT NULL,
	model         TEXT NOT NULL,
	raw_response  TEXT NOT NULL,
	parsed_fields JSONB,
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	report        JSONB
);

CREATE TABLE IF NOT EXISTS merge_conflicts (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	card_id             TEXT NOT NULL,
	reason              TEXT NOT NULL,
	existing_confidence DOUBLE PRECISION NOT NULL,
	incoming_confidence DOUBLE PRECISION NOT NULL,
	recorded_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	issuer     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_raw_documents_source ON raw_documents(issuer, source_url, fetched_at DESC);
CREATE INDEX IF NOT EXISTS idx_fetch_failures_issuer ON fetch_failures(issuer);
CREATE INDEX IF NOT EXISTS idx_candidates_issuer ON candidates(issuer);
CREATE INDEX IF NOT EXISTS idx_merge_conflicts_card ON merge_conflicts(card_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_issuer ON runs(issuer);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) PutRawDocument(ctx context.Context, doc model.RawDocument) (bool, error) {
	hash := doc.ContentHash()

	var latestHash string
	err := s.pool.QueryRow(ctx,
		`SELECT content_hash FROM raw_documents WHERE issuer = $1 AND source_url = $2 ORDER BY fetched_at DESC LIMIT 1`,
		doc.Issuer, doc.SourceURL,
	).Scan(&latestHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrap(err, "postgres: lookup raw document hash")
	}
	if err == nil && latestHash == hash {
		return false, nil
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO raw_documents (id, issuer, source_url, page_title, fetched_at, raw_text, http_status, content_hash) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), doc.Issuer, doc.SourceURL, doc.PageTitle,
		doc.FetchedAt.UTC(), doc.RawText, doc.HTTPStatus, hash,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert raw document")
	}
	return true, nil
}

func (s *PostgresStore) LatestRawDocuments(ctx context.Context, issuer string) ([]model.RawDocument, error) {
	query := `SELECT DISTINCT ON (source_url) issuer, source_url, page_title, fetched_at, raw_text, http_status
	          FROM raw_documents`
	args := []any{}
	if issuer != "" {
		query += ` WHERE issuer = $1`
		args = append(args, issuer)
	}
	query += ` ORDER BY source_url, fetched_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list raw documents")
	}
	defer rows.Close()

	var docs []model.RawDocument
	for rows.Next() {
		var d model.RawDocument
		if err := rows.Scan(&d.Issuer, &d.SourceURL, &d.PageTitle, &d.FetchedAt, &d.RawText, &d.HTTPStatus); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list raw documents iterate")
}

func (s *PostgresStore) RecordFetchFailure(ctx context.Context, issuer, url, reason string, permanent bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fetch_failures (id, issuer, url, reason, permanent, failed_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), issuer, url, reason, permanent, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: record fetch failure")
}

func (s *PostgresStore) PutCandidate(ctx context.Context, cand model.ExtractionCandidate, report *model.ValidationReport) error {
	var fieldsJSON []byte
	if cand.ParsedFields != nil {
		b, err := json.Marshal(cand.ParsedFields)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal parsed fields")
		}
		fieldsJSON = b
	}

	var reportJSON []byte
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal validation report")
		}
		reportJSON = b
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO candidates (id, issuer, source_url, page_title, extracted_at, model, raw_response, parsed_fields, confidence, report)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (source_url) DO UPDATE SET
		   issuer = $2, page_title = $4, extracted_at = $5, model = $6,
		   raw_response = $7, parsed_fields = $8, confidence = $9, report = $10`,
		uuid.New().String(), cand.Issuer, cand.SourceURL, cand.PageTitle,
		cand.ExtractedAt.UTC(), cand.Model, cand.RawModelResponse,
		fieldsJSON, cand.Confidence, reportJSON,
	)
	return eris.Wrap(err, "postgres: put candidate")
}

func (s *PostgresStore) ListCandidates(ctx context.Context, issuer string) ([]CandidateRecord, error) {
	query := `SELECT issuer, source_url, page_title, extracted_at, model, raw_response, parsed_fields, confidence, report
	          FROM candidates`
	args := []any{}
	if issuer != "" {
		query += ` WHERE issuer = $1`
		args = append(args, issuer)
	}
	query += ` ORDER BY source_url`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var records []CandidateRecord
	for rows.Next() {
		var rec CandidateRecord
		c := &rec.Candidate
		var fieldsNull, reportNull *[]byte
		if err := rows.Scan(&c.Issuer, &c.SourceURL, &c.PageTitle, &c.ExtractedAt,
			&c.Model, &c.RawModelResponse, &fieldsNull, &c.Confidence, &reportNull); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		if fieldsNull != nil {
			if err := json.Unmarshal(*fieldsNull, &c.ParsedFields); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal parsed fields")
			}
		}
		if reportNull != nil {
			rec.Report = &model.ValidationReport{}
			if err := json.Unmarshal(*reportNull, rec.Report); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal validation report")
			}
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list candidates iterate")
}

func (s *PostgresStore) RecordConflict(ctx context.Context, w model.ConflictWarning) error {
	recordedAt := w.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO merge_conflicts (id, card_id, reason, existing_confidence, incoming_confidence, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), w.CardID, w.Reason, w.ExistingConfidence, w.IncomingConfidence, recordedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: record conflict")
}

func (s *PostgresStore) ListConflicts(ctx context.Context, limit int) ([]model.ConflictWarning, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT card_id, reason, existing_confidence, incoming_confidence, recorded_at
		 FROM merge_conflicts ORDER BY recorded_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list conflicts")
	}
	defer rows.Close()

	var warns []model.ConflictWarning
	for rows.Next() {
		var w model.ConflictWarning
		if err := rows.Scan(&w.CardID, &w.Reason, &w.ExistingConfidence, &w.IncomingConfidence, &w.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan conflict")
		}
		warns = append(warns, w)
	}
	return warns, eris.Wrap(rows.Err(), "postgres: list conflicts iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, issuer string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, issuer, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, issuer, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Issuer:    issuer,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET summary = $1, status = $2, updated_at = $3 WHERE id = $4`,
		summaryJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var summaryNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, issuer, status, summary, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Issuer, &r.Status, &summaryNull, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if summaryNull != nil {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(*summaryNull, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, issuer, status, summary, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Issuer != "" {
		query += fmt.Sprintf(` AND issuer = $%d`, argIdx)
		args = append(args, filter.Issuer)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var summaryNull *[]byte

		if err := rows.Scan(&r.ID, &r.Issuer, &r.Status, &summaryNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if summaryNull != nil {
			r.Summary = &model.RunSummary{}
			if err := json.Unmarshal(*summaryNull, r.Summary); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal summary")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
