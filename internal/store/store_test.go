package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/docqa/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestSaveDocumentMeta(t *testing.T) {
	st, mock := newMockStore(t)

	query := regexp.QuoteMeta(`
INSERT INTO document_metadata (file_id, filename, uploaded_at)
VALUES ($1, $2, NOW())`)
	mock.ExpectExec(query).
		WithArgs("file-1", "report.pdf").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SaveDocumentMeta(context.Background(), "file-1", "report.pdf"); err != nil {
		t.Fatalf("SaveDocumentMeta: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetDocumentMetaMissing(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT file_id, filename, uploaded_at FROM document_metadata").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"file_id", "filename", "uploaded_at"}))

	_, ok, err := st.GetDocumentMeta(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetDocumentMeta: %v", err)
	}
	if ok {
		t.Fatal("expected missing record")
	}
}

func TestRecordMetricsDefaultsFileID(t *testing.T) {
	st, mock := newMockStore(t)

	query := regexp.QuoteMeta(`
INSERT INTO llm_metrics (run_id, tokens_used, confidence_score, response_time_ms, file_id, created_at)
VALUES ($1, $2, $3, $4, $5, NOW())`)
	mock.ExpectExec(query).
		WithArgs("run-1", 345, 0.92, int64(1200), "unknown").
		WillReturnResult(sqlmock.NewResult(0, 1))

	run := models.QueryRun{
		RunID:        "run-1",
		TokensUsed:   345,
		Confidence:   0.92,
		ResponseTime: 1200 * time.Millisecond,
	}
	if err := st.RecordMetrics(context.Background(), run); err != nil {
		t.Fatalf("RecordMetrics: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLogQuery(t *testing.T) {
	st, mock := newMockStore(t)

	query := regexp.QuoteMeta(`
INSERT INTO query_log (run_id, query_text, response_text, confidence_score, file_id, created_at)
VALUES ($1, $2, $3, $4, $5, NOW())`)
	mock.ExpectExec(query).
		WithArgs("run-1", "what is this?", "an answer", 0.5, "file-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	run := models.QueryRun{
		RunID:      "run-1",
		Query:      "what is this?",
		Reply:      "an answer",
		Confidence: 0.5,
		FileID:     "file-1",
	}
	if err := st.LogQuery(context.Background(), run); err != nil {
		t.Fatalf("LogQuery: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSummary(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows(
			[]string{"count", "avg_rt", "avg_conf", "tokens"}).
			AddRow(3, 150.5, 0.8, int64(900)))

	sum, err := st.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalQueries != 3 || sum.TotalTokens != 900 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestRecentQueryLogs(t *testing.T) {
	st, mock := newMockStore(t)

	now := time.Now()
	mock.ExpectQuery("SELECT run_id, query_text, response_text").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(
			[]string{"run_id", "query_text", "response_text", "confidence_score", "file_id", "created_at"}).
			AddRow("r2", "q2", "a2", 0.9, "f", now).
			AddRow("r1", "q1", "a1", 0.8, "f", now.Add(-time.Minute)))

	items, err := st.RecentQueryLogs(context.Background(), 2)
	if err != nil {
		t.Fatalf("RecentQueryLogs: %v", err)
	}
	if len(items) != 2 || items[0].RunID != "r2" {
		t.Fatalf("unexpected items: %+v", items)
	}
}
