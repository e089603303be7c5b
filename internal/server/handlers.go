package server

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/docqa/internal/extract"
	"github.com/mohammad-safakhou/docqa/internal/rag"
	"github.com/mohammad-safakhou/docqa/internal/store"
	"github.com/mohammad-safakhou/docqa/models"
)

// Storage is the slice of the store the HTTP handlers depend on.
// *store.Store implements it; tests substitute fakes.
type Storage interface {
	SaveDocumentMeta(ctx context.Context, fileID, filename string) error
	GetDocumentMeta(ctx context.Context, fileID string) (models.DocumentMeta, bool, error)
	ListDocumentMeta(ctx context.Context, offset, limit int) ([]models.DocumentMeta, int, error)
	Summary(ctx context.Context) (store.MetricsSummary, error)
	RecentQueryLogs(ctx context.Context, limit int) ([]models.QueryLogRecord, error)
}

// UploadHandler ingests a PDF: save locally, extract text, persist
// metadata, index the content.
type UploadHandler struct {
	Deps Deps
}

func (h *UploadHandler) Upload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field required")
	}
	if fileHeader.Header.Get("Content-Type") != "application/pdf" {
		observeUpload("rejected")
		return echo.NewHTTPError(http.StatusBadRequest, "Only PDF files are supported.")
	}

	fileID := uuid.NewString()
	dstPath := filepath.Join(h.Deps.Cfg.General.UploadDir, fileID+".pdf")
	if err := saveUpload(fileHeader, dstPath); err != nil {
		observeUpload("error")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	blocks, err := h.Deps.Extractor.Extract(dstPath)
	if err != nil {
		if errors.Is(err, extract.ErrEncrypted) {
			observeUpload("rejected")
			return echo.NewHTTPError(http.StatusBadRequest, "Encrypted PDFs are not supported.")
		}
		observeUpload("error")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if h.Deps.Store != nil {
		if err := h.Deps.Store.SaveDocumentMeta(c.Request().Context(), fileID, fileHeader.Filename); err != nil {
			observeUpload("error")
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	doc := models.Document{FileID: fileID, Filename: fileHeader.Filename, Blocks: blocks}
	stats, err := h.Deps.Indexer.IndexDocument(c.Request().Context(), doc)
	if err != nil {
		observeUpload("error")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	observeUpload("ok")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"file_id":      fileID,
		"message":      "Uploaded and indexed successfully",
		"chunks_added": stats.ChunksAdded,
	})
}

func saveUpload(fh *multipart.FileHeader, dstPath string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// QueryHandler answers a question against the indexed documents.
type QueryHandler struct {
	Deps Deps
}

func (h *QueryHandler) Query(c echo.Context) error {
	var req struct {
		Query   string `json:"query"`
		FileKey string `json:"file_key"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	start := time.Now()
	res, err := h.Deps.Orchestrator.Query(c.Request().Context(), req.Query, req.FileKey)
	observeQueryDuration(time.Since(start))
	if err != nil {
		if rag.IsClientError(err) {
			observeQuery("rejected")
			return echo.NewHTTPError(http.StatusBadRequest, "Empty query.")
		}
		observeQuery("error")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	observeQuery("ok")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id": res.RunID,
		"reply":  res.Reply,
	})
}

// DocumentsHandler serves uploaded-file metadata.
type DocumentsHandler struct {
	Store Storage
}

func (h *DocumentsHandler) Get(c echo.Context) error {
	meta, ok, err := h.Store.GetDocumentMeta(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "File not found.")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"file_id":     meta.FileID,
		"filename":    meta.Filename,
		"uploaded_at": meta.UploadedAt,
	})
}

func (h *DocumentsHandler) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = 10
	}
	items, total, err := h.Store.ListDocumentMeta(c.Request().Context(), (page-1)*limit, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"total": total,
		"page":  page,
		"limit": limit,
		"files": items,
	})
}

// MetricsAPIHandler serves aggregate metrics and the query audit log.
type MetricsAPIHandler struct {
	Store Storage
}

func (h *MetricsAPIHandler) Summary(c echo.Context) error {
	sum, err := h.Store.Summary(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *MetricsAPIHandler) QueryLog(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.Store.RecentQueryLogs(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": items, "count": len(items)})
}
