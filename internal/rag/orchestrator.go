package rag

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/docqa/models"
	"github.com/mohammad-safakhou/docqa/provider"
)

// state names one stage of a query's lifecycle. A query moves
// received → validated → retrieved → generated → recorded → complete;
// failed is terminal and reachable from any non-terminal state.
type state string

const (
	stateReceived  state = "received"
	stateValidated state = "validated"
	stateRetrieved state = "retrieved"
	stateGenerated state = "generated"
	stateRecorded  state = "recorded"
	stateComplete  state = "complete"
	stateFailed    state = "failed"
)

// MetricsSink receives one metrics record per answered query.
// Fire-and-forget from the orchestrator's perspective.
type MetricsSink interface {
	RecordMetrics(ctx context.Context, run models.QueryRun) error
}

// QueryLogSink receives the full query/response audit record.
type QueryLogSink interface {
	LogQuery(ctx context.Context, run models.QueryRun) error
}

// DefaultGenerateTimeout bounds the generator call so an unresponsive
// LLM backend cannot hold a request forever.
const DefaultGenerateTimeout = 30 * time.Second

// Orchestrator drives one query through retrieval and generation and
// emits the bookkeeping that must accompany every answered query: a
// fresh run id, latency, a metrics record and an audit-log record.
type Orchestrator struct {
	retriever *Retriever
	generator provider.Generator
	metrics   MetricsSink
	queryLog  QueryLogSink
	logger    *log.Logger

	topK            int
	generateTimeout time.Duration
}

// QueryResult is what the front door returns to the caller.
type QueryResult struct {
	RunID      string
	Reply      string
	Confidence float64
}

// NewOrchestrator wires the read path. metrics and queryLog may be nil,
// in which case the corresponding emission is skipped.
func NewOrchestrator(r *Retriever, g provider.Generator, metrics MetricsSink, queryLog QueryLogSink, topK int, generateTimeout time.Duration, logger *log.Logger) *Orchestrator {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if generateTimeout <= 0 {
		generateTimeout = DefaultGenerateTimeout
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		retriever:       r,
		generator:       g,
		metrics:         metrics,
		queryLog:        queryLog,
		logger:          logger,
		topK:            topK,
		generateTimeout: generateTimeout,
	}
}

// Query answers a question against the indexed documents. fileID is
// optional context recorded with the run's telemetry; it does not
// scope retrieval. Validation failures emit nothing: a run id denotes
// an attempted retrieval+generation, not a rejected request.
func (o *Orchestrator) Query(ctx context.Context, question, fileID string) (QueryResult, error) {
	st := stateReceived
	start := time.Now()

	// received → validated
	question = strings.TrimSpace(question)
	if question == "" {
		o.fail(&st, "", errors.New("empty query"))
		return QueryResult{}, Errorf(KindValidation, "empty query")
	}
	st = stateValidated

	runID := uuid.NewString()

	// validated → retrieved
	results, err := o.retriever.Retrieve(ctx, question, o.topK)
	if err != nil {
		o.fail(&st, runID, err)
		return QueryResult{}, err
	}
	st = stateRetrieved

	contexts := make([]string, len(results))
	for i, r := range results {
		contexts[i] = r.Chunk.Text
	}

	// retrieved → generated
	genCtx, cancel := context.WithTimeout(ctx, o.generateTimeout)
	defer cancel()
	answer, err := o.generator.Answer(genCtx, question, contexts)
	if err != nil {
		o.fail(&st, runID, err)
		return QueryResult{}, E(KindGeneration, err)
	}
	st = stateGenerated
	latency := time.Since(start)

	run := models.QueryRun{
		RunID:        runID,
		Query:        question,
		FileID:       fileID,
		Contexts:     contexts,
		Reply:        answer.Text,
		Confidence:   confidence(results),
		TokensUsed:   answer.TokensUsed,
		ResponseTime: latency,
		CreatedAt:    start,
	}

	// generated → recorded: both emissions are best-effort. The answer
	// is already final; a telemetry failure is logged for the operator
	// and never fails the request.
	o.record(ctx, run)
	st = stateRecorded
	o.logger.Printf("run=%s state=%s", runID, st)

	st = stateComplete
	o.logger.Printf("run=%s state=%s latency=%s tokens=%d confidence=%.2f", runID, st, latency, run.TokensUsed, run.Confidence)
	return QueryResult{RunID: runID, Reply: answer.Text, Confidence: run.Confidence}, nil
}

func (o *Orchestrator) record(ctx context.Context, run models.QueryRun) {
	if o.metrics != nil {
		if err := o.metrics.RecordMetrics(ctx, run); err != nil {
			o.logger.Printf("run=%s telemetry error (metrics): %v", run.RunID, E(KindTelemetry, err))
		}
	}
	if o.queryLog != nil {
		if err := o.queryLog.LogQuery(ctx, run); err != nil {
			o.logger.Printf("run=%s telemetry error (query log): %v", run.RunID, E(KindTelemetry, err))
		}
	}
}

func (o *Orchestrator) fail(st *state, runID string, err error) {
	o.logger.Printf("run=%s state=%s -> %s: %v", runID, *st, stateFailed, err)
	*st = stateFailed
}

// confidence derives the run's confidence score from the retrieval
// similarities: the mean top-k cosine score clamped to [0,1]. This is
// a retrieval-quality signal, not a model-calibrated probability; the
// generator gives us no usable confidence of its own.
func confidence(results []models.SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	c := sum / float64(len(results))
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
