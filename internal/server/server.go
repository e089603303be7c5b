// Package server exposes the document QA pipeline over HTTP: upload,
// query, metadata and metrics endpoints.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/docqa/config"
	"github.com/mohammad-safakhou/docqa/internal/chunker"
	"github.com/mohammad-safakhou/docqa/internal/extract"
	"github.com/mohammad-safakhou/docqa/internal/index"
	"github.com/mohammad-safakhou/docqa/internal/rag"
	"github.com/mohammad-safakhou/docqa/internal/store"
	"github.com/mohammad-safakhou/docqa/provider"
)

// Deps are the collaborators the HTTP handlers need. They are built by
// Run for production and by tests directly with fakes.
type Deps struct {
	Cfg          *config.Config
	Orchestrator *rag.Orchestrator
	Indexer      *rag.Indexer
	Extractor    extract.Extractor
	Store        Storage
	Limiter      Limiter
}

// Run wires all dependencies from configuration and serves until the
// listener fails.
func Run(cfg *config.Config) error {
	ctx := context.Background()

	prov, err := provider.NewProvider(cfg.Providers)
	if err != nil {
		return err
	}

	ix, err := index.Open(cfg.Index.Path, prov.ModelID())
	if err != nil {
		return err
	}

	ch, err := chunker.New(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return err
	}

	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	indexer := rag.NewIndexer(ch, prov, ix, nil)
	retriever := rag.NewRetriever(prov, ix)

	// Telemetry sinks are optional; with telemetry disabled the
	// orchestrator skips metrics and query-log emission entirely.
	var metrics rag.MetricsSink
	var queryLog rag.QueryLogSink
	if cfg.Telemetry.Enabled {
		metrics, queryLog = st, st
	}
	orch := rag.NewOrchestrator(retriever, prov, metrics, queryLog, cfg.Index.TopK, cfg.Index.GenerateTimeout, nil)

	var limiter Limiter
	if cfg.RateLimit.Enabled {
		if addr := cfg.Databases.Redis.Addr(); addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     addr,
				Password: cfg.Databases.Redis.Password,
				DB:       cfg.Databases.Redis.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis connection failed (%s): %w", addr, err)
			}
			limiter = NewRedisLimiter(rdb)
		} else {
			limiter = NewMemoryLimiter()
		}
	}

	if err := os.MkdirAll(cfg.General.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	e := NewEcho(Deps{
		Cfg:          cfg,
		Orchestrator: orch,
		Indexer:      indexer,
		Extractor:    extract.NewPDF(),
		Store:        st,
		Limiter:      limiter,
	})

	addr := cfg.General.Listen
	if addr != "" && addr[0] != ':' {
		addr = ":" + addr
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// NewEcho builds the echo instance with all routes and middleware.
func NewEcho(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Debug = d.Cfg.General.Debug
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	rl := d.Cfg.RateLimit
	uh := &UploadHandler{Deps: d}
	e.POST("/upload", uh.Upload, RateLimit(d.Limiter, "upload", rl.UploadPerMin))

	qh := &QueryHandler{Deps: d}
	e.POST("/query", qh.Query, RateLimit(d.Limiter, "query", rl.QueryPerMin))

	dh := &DocumentsHandler{Store: d.Store}
	e.GET("/documents/:id", dh.Get, RateLimit(d.Limiter, "read", rl.ReadPerMin))
	e.GET("/documents", dh.List, RateLimit(d.Limiter, "read", rl.ReadPerMin))

	mh := &MetricsAPIHandler{Store: d.Store}
	e.GET("/metrics/summary", mh.Summary, RateLimit(d.Limiter, "read", rl.ReadPerMin))
	e.GET("/querylog", mh.QueryLog, RateLimit(d.Limiter, "read", rl.ReadPerMin))

	return e
}
