package rag

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/docqa/internal/chunker"
	"github.com/mohammad-safakhou/docqa/internal/index"
	"github.com/mohammad-safakhou/docqa/models"
)

// fakeEmbedder produces tiny deterministic vectors: texts containing
// "apple" point one way, everything else the other. failAfter > 0 makes
// the call fail once that many calls have succeeded.
type fakeEmbedder struct {
	calls     int
	failAfter int
	err       error
}

func (f *fakeEmbedder) ModelID() string { return "fake/v1" }

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.failAfter > 0 && f.calls > f.failAfter {
		return nil, errors.New("embedding backend down")
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(strings.ToLower(t), "apple") {
			vecs[i] = []float32{1, 0}
		} else {
			vecs[i] = []float32{0, 1}
		}
	}
	return vecs, nil
}

type fakeGenerator struct {
	reply  string
	tokens int
	err    error
	delay  time.Duration

	gotQuestion string
	gotContexts []string
}

func (f *fakeGenerator) Answer(ctx context.Context, question string, contexts []string) (models.Answer, error) {
	f.gotQuestion = question
	f.gotContexts = contexts
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.Answer{}, ctx.Err()
		}
	}
	if f.err != nil {
		return models.Answer{}, f.err
	}
	return models.Answer{Text: f.reply, TokensUsed: f.tokens}, nil
}

type fakeSink struct {
	metrics []models.QueryRun
	logs    []models.QueryRun
	err     error
}

func (f *fakeSink) RecordMetrics(ctx context.Context, run models.QueryRun) error {
	if f.err != nil {
		return f.err
	}
	f.metrics = append(f.metrics, run)
	return nil
}

func (f *fakeSink) LogQuery(ctx context.Context, run models.QueryRun) error {
	if f.err != nil {
		return f.err
	}
	f.logs = append(f.logs, run)
	return nil
}

func testLogger() *log.Logger { return log.New(testWriter{}, "", 0) }

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestIndex(t *testing.T) *index.Index {
	t.Helper()
	ix, err := index.Open(filepath.Join(t.TempDir(), "index.db"), "fake/v1")
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func newTestChunker(t *testing.T, size, overlap int) *chunker.Chunker {
	t.Helper()
	c, err := chunker.New(size, overlap)
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	return c
}

func TestIndexDocumentReportsChunksAdded(t *testing.T) {
	ix := newTestIndex(t)
	in := NewIndexer(newTestChunker(t, 10, 2), &fakeEmbedder{}, ix, testLogger())

	stats, err := in.IndexDocument(context.Background(), models.Document{
		FileID: "f1",
		Blocks: []string{"Apple is an apple fruit company based somewhere."},
	})
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if stats.ChunksAdded == 0 {
		t.Fatal("expected chunks to be added")
	}
	n, _ := ix.Count(context.Background())
	if n != stats.ChunksAdded {
		t.Fatalf("stats say %d, index has %d", stats.ChunksAdded, n)
	}
}

func TestIndexDocumentEmbedFailureCommitsNothing(t *testing.T) {
	ix := newTestIndex(t)
	emb := &fakeEmbedder{err: errors.New("model not loaded")}
	in := NewIndexer(newTestChunker(t, 10, 0), emb, ix, testLogger())

	_, err := in.IndexDocument(context.Background(), models.Document{FileID: "f1", Blocks: []string{"some text here"}})
	if KindOf(err) != KindEmbedding {
		t.Fatalf("expected embedding kind, got %v", err)
	}
	var ie *IndexingError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IndexingError, got %v", err)
	}
	if ie.Committed != 0 {
		t.Fatalf("expected 0 committed, got %d", ie.Committed)
	}
}

func TestIndexDocumentPartialFailureReportsCommitted(t *testing.T) {
	ix := newTestIndex(t)
	// One block of 700 chars with chunk size 10 and no overlap gives 70
	// chunks, i.e. two embed batches. Fail the second batch.
	emb := &fakeEmbedder{failAfter: 1}
	in := NewIndexer(newTestChunker(t, 10, 0), emb, ix, testLogger())

	_, err := in.IndexDocument(context.Background(), models.Document{
		FileID: "big",
		Blocks: []string{strings.Repeat("x", 700)},
	})
	var ie *IndexingError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IndexingError, got %v", err)
	}
	if ie.Committed != 64 {
		t.Fatalf("expected 64 committed chunks, got %d", ie.Committed)
	}
	n, _ := ix.Count(context.Background())
	if n != 64 {
		t.Fatalf("index should hold the committed batch, has %d", n)
	}
}

func TestRetrieveRanksMatchingChunkFirst(t *testing.T) {
	ix := newTestIndex(t)
	in := NewIndexer(newTestChunker(t, 100, 0), &fakeEmbedder{}, ix, testLogger())
	ctx := context.Background()
	_, err := in.IndexDocument(ctx, models.Document{
		FileID: "f1",
		Blocks: []string{"Apple fruit company", "unrelated quantum physics"},
	})
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	r := NewRetriever(&fakeEmbedder{}, ix)
	results, err := r.Retrieve(ctx, "tell me about the apple document", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !strings.Contains(results[0].Chunk.Text, "Apple") {
		t.Fatalf("expected apple chunk first, got %q", results[0].Chunk.Text)
	}
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	ix := newTestIndex(t)
	r := NewRetriever(&fakeEmbedder{err: errors.New("down")}, ix)
	_, err := r.Retrieve(context.Background(), "q", 3)
	if KindOf(err) != KindEmbedding {
		t.Fatalf("expected embedding kind, got %v", err)
	}
}

func seededOrchestrator(t *testing.T, gen *fakeGenerator, sink *fakeSink) *Orchestrator {
	t.Helper()
	ix := newTestIndex(t)
	in := NewIndexer(newTestChunker(t, 100, 0), &fakeEmbedder{}, ix, testLogger())
	_, err := in.IndexDocument(context.Background(), models.Document{
		FileID: "f1",
		Blocks: []string{"Apple fruit company"},
	})
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	r := NewRetriever(&fakeEmbedder{}, ix)
	return NewOrchestrator(r, gen, sink, sink, 4, time.Second, testLogger())
}

func TestQueryHappyPath(t *testing.T) {
	gen := &fakeGenerator{reply: "It is about the Apple fruit company.", tokens: 42}
	sink := &fakeSink{}
	o := seededOrchestrator(t, gen, sink)

	res, err := o.Query(context.Background(), "  what is the document about?  ", "f1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Reply == "" {
		t.Fatal("expected a non-empty reply")
	}
	if _, err := uuid.Parse(res.RunID); err != nil {
		t.Fatalf("run id is not a uuid: %q", res.RunID)
	}
	if gen.gotQuestion != "what is the document about?" {
		t.Fatalf("question not trimmed: %q", gen.gotQuestion)
	}
	if len(gen.gotContexts) == 0 {
		t.Fatal("generator received no context")
	}
	if len(sink.metrics) != 1 || len(sink.logs) != 1 {
		t.Fatalf("expected one metrics and one log record, got %d/%d", len(sink.metrics), len(sink.logs))
	}
	run := sink.metrics[0]
	if run.RunID != res.RunID || run.TokensUsed != 42 || run.FileID != "f1" {
		t.Fatalf("unexpected run record: %+v", run)
	}
	if run.ResponseTime <= 0 {
		t.Fatal("expected positive latency")
	}
	if run.Confidence < 0 || run.Confidence > 1 {
		t.Fatalf("confidence out of range: %f", run.Confidence)
	}

	// A second query gets a fresh run id.
	res2, err := o.Query(context.Background(), "again?", "")
	if err != nil {
		t.Fatalf("second Query: %v", err)
	}
	if res2.RunID == res.RunID {
		t.Fatal("run ids must be unique per query")
	}
}

func TestQueryEmptyQuestionEmitsNothing(t *testing.T) {
	sink := &fakeSink{}
	o := seededOrchestrator(t, &fakeGenerator{reply: "x"}, sink)

	_, err := o.Query(context.Background(), "   ", "")
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation kind, got %v", err)
	}
	if !IsClientError(err) {
		t.Fatal("validation failure must classify as client error")
	}
	if len(sink.metrics) != 0 || len(sink.logs) != 0 {
		t.Fatal("validation failure must not emit telemetry")
	}
}

func TestQueryGenerationFailureEmitsNothing(t *testing.T) {
	sink := &fakeSink{}
	o := seededOrchestrator(t, &fakeGenerator{err: errors.New("quota exceeded")}, sink)

	_, err := o.Query(context.Background(), "question", "")
	if KindOf(err) != KindGeneration {
		t.Fatalf("expected generation kind, got %v", err)
	}
	if IsClientError(err) {
		t.Fatal("generation failure is a dependency error, not client error")
	}
	if len(sink.metrics) != 0 || len(sink.logs) != 0 {
		t.Fatal("failed query must not be recorded")
	}
}

func TestQueryGeneratorTimeout(t *testing.T) {
	sink := &fakeSink{}
	gen := &fakeGenerator{reply: "late", delay: 5 * time.Second}
	ix := newTestIndex(t)
	in := NewIndexer(newTestChunker(t, 100, 0), &fakeEmbedder{}, ix, testLogger())
	if _, err := in.IndexDocument(context.Background(), models.Document{FileID: "f1", Blocks: []string{"apple"}}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	o := NewOrchestrator(NewRetriever(&fakeEmbedder{}, ix), gen, sink, sink, 4, 20*time.Millisecond, testLogger())

	_, err := o.Query(context.Background(), "question", "")
	if KindOf(err) != KindGeneration {
		t.Fatalf("expected generation kind on timeout, got %v", err)
	}
	if len(sink.metrics) != 0 {
		t.Fatal("timed-out query must not be recorded")
	}
}

func TestQueryTelemetryFailureDoesNotFailRequest(t *testing.T) {
	sink := &fakeSink{err: errors.New("sink down")}
	o := seededOrchestrator(t, &fakeGenerator{reply: "answer"}, sink)

	res, err := o.Query(context.Background(), "question", "")
	if err != nil {
		t.Fatalf("telemetry failure must not fail the query: %v", err)
	}
	if res.Reply != "answer" {
		t.Fatalf("unexpected reply %q", res.Reply)
	}
}

func TestQueryWithTelemetryDisabled(t *testing.T) {
	ix := newTestIndex(t)
	emb := &fakeEmbedder{}
	indexer := NewIndexer(newTestChunker(t, 20, 0), emb, ix, testLogger())
	if _, err := indexer.IndexDocument(context.Background(), models.Document{
		FileID: "f1",
		Blocks: []string{"apples are red"},
	}); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	gen := &fakeGenerator{reply: "red", tokens: 3}
	orch := NewOrchestrator(NewRetriever(emb, ix), gen, nil, nil, 2, time.Second, testLogger())

	res, err := orch.Query(context.Background(), "what color are apples?", "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Reply != "red" {
		t.Fatalf("reply = %q", res.Reply)
	}
	if _, err := uuid.Parse(res.RunID); err != nil {
		t.Fatalf("run id %q not a uuid: %v", res.RunID, err)
	}
}
