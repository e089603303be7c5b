// Package store persists document metadata, per-query metrics and the
// full query/response audit log in Postgres. Tables are created by the
// migrations under migrations/.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/docqa/models"
)

type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// SaveDocumentMeta records metadata for a freshly uploaded file.
func (s *Store) SaveDocumentMeta(ctx context.Context, fileID, filename string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO document_metadata (file_id, filename, uploaded_at)
VALUES ($1, $2, NOW())`, fileID, filename)
	if err != nil {
		return fmt.Errorf("save document metadata: %w", err)
	}
	return nil
}

// GetDocumentMeta looks up one file's metadata. The second return is
// false when no record exists.
func (s *Store) GetDocumentMeta(ctx context.Context, fileID string) (models.DocumentMeta, bool, error) {
	var m models.DocumentMeta
	err := s.DB.QueryRowContext(ctx, `
SELECT file_id, filename, uploaded_at FROM document_metadata WHERE file_id = $1`, fileID).
		Scan(&m.FileID, &m.Filename, &m.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DocumentMeta{}, false, nil
	}
	if err != nil {
		return models.DocumentMeta{}, false, fmt.Errorf("get document metadata: %w", err)
	}
	return m, true, nil
}

// ListDocumentMeta returns one page of uploaded-file records, newest
// first, along with the total count.
func (s *Store) ListDocumentMeta(ctx context.Context, offset, limit int) ([]models.DocumentMeta, int, error) {
	var total int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_metadata`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count document metadata: %w", err)
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT file_id, filename, uploaded_at FROM document_metadata
ORDER BY uploaded_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list document metadata: %w", err)
	}
	defer rows.Close()
	var items []models.DocumentMeta
	for rows.Next() {
		var m models.DocumentMeta
		if err := rows.Scan(&m.FileID, &m.Filename, &m.UploadedAt); err != nil {
			return nil, 0, fmt.Errorf("scan document metadata: %w", err)
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

// RecordMetrics stores the per-run usage metrics. Implements the
// orchestrator's MetricsSink.
func (s *Store) RecordMetrics(ctx context.Context, run models.QueryRun) error {
	fileID := run.FileID
	if fileID == "" {
		fileID = "unknown"
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO llm_metrics (run_id, tokens_used, confidence_score, response_time_ms, file_id, created_at)
VALUES ($1, $2, $3, $4, $5, NOW())`,
		run.RunID, run.TokensUsed, run.Confidence, run.ResponseTime.Milliseconds(), fileID)
	if err != nil {
		return fmt.Errorf("record metrics: %w", err)
	}
	return nil
}

// LogQuery stores the full query/response record. Implements the
// orchestrator's QueryLogSink.
func (s *Store) LogQuery(ctx context.Context, run models.QueryRun) error {
	fileID := run.FileID
	if fileID == "" {
		fileID = "unknown"
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO query_log (run_id, query_text, response_text, confidence_score, file_id, created_at)
VALUES ($1, $2, $3, $4, $5, NOW())`,
		run.RunID, run.Query, run.Reply, run.Confidence, fileID)
	if err != nil {
		return fmt.Errorf("log query: %w", err)
	}
	return nil
}

// MetricsSummary aggregates the recorded query metrics.
type MetricsSummary struct {
	TotalQueries      int     `json:"total_queries"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	AvgConfidence     float64 `json:"avg_confidence"`
	TotalTokens       int64   `json:"total_tokens"`
}

// Summary computes aggregate metrics across all recorded runs.
func (s *Store) Summary(ctx context.Context) (MetricsSummary, error) {
	var sum MetricsSummary
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*),
       COALESCE(AVG(response_time_ms), 0),
       COALESCE(AVG(confidence_score), 0),
       COALESCE(SUM(tokens_used), 0)
FROM llm_metrics`).
		Scan(&sum.TotalQueries, &sum.AvgResponseTimeMs, &sum.AvgConfidence, &sum.TotalTokens)
	if err != nil {
		return MetricsSummary{}, fmt.Errorf("metrics summary: %w", err)
	}
	return sum, nil
}

// RecentQueryLogs returns the newest audit-log records, newest first.
func (s *Store) RecentQueryLogs(ctx context.Context, limit int) ([]models.QueryLogRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, query_text, response_text, confidence_score, file_id, created_at
FROM query_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent query logs: %w", err)
	}
	defer rows.Close()
	var items []models.QueryLogRecord
	for rows.Next() {
		var r models.QueryLogRecord
		var created time.Time
		if err := rows.Scan(&r.RunID, &r.QueryText, &r.Response, &r.Confidence, &r.FileID, &created); err != nil {
			return nil, fmt.Errorf("scan query log: %w", err)
		}
		r.CreatedAt = created
		items = append(items, r)
	}
	return items, rows.Err()
}
