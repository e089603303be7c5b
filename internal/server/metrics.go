package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_uploads_total",
		Help: "Document uploads by outcome.",
	}, []string{"status"})

	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_queries_total",
		Help: "Question-answering requests by outcome.",
	}, []string{"status"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docqa_query_duration_seconds",
		Help:    "End-to-end latency of question-answering requests.",
		Buckets: prometheus.DefBuckets,
	})
)

func observeUpload(status string) { uploadsTotal.WithLabelValues(status).Inc() }

func observeQuery(status string) { queriesTotal.WithLabelValues(status).Inc() }

func observeQueryDuration(d time.Duration) { queryDuration.Observe(d.Seconds()) }
