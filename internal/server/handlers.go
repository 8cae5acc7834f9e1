package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/AdamLam-AI/TaobaoLens/internal/export"
	"github.com/AdamLam-AI/TaobaoLens/internal/ingest"
)

type errorResponse struct {
	Error string `json:"error"`
}

type enqueueResponse struct {
	ItemIDs []string `json:"item_ids"`
}

type fetchRequest struct {
	URL string `json:"url" binding:"required"`
}

// handleUploads accepts a multipart batch of image, HEIC, and PDF files
// and starts analysis in the background.
func (s *Server) handleUploads(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid multipart form"})
		return
	}
	parts := form.File["files"]
	if len(parts) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "no files provided"})
		return
	}

	files := make([]ingest.File, 0, len(parts))
	for _, part := range parts {
		src, err := part.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("failed to open %s", part.Filename)})
			return
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("failed to read %s", part.Filename)})
			return
		}
		files = append(files, ingest.File{Name: part.Filename, Data: data})
	}

	s.submit(c, files)
}

// handlePaste accepts raw image bytes or a data URI from a clipboard paste.
func (s *Server) handlePaste(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "empty paste payload"})
		return
	}
	s.submit(c, []ingest.File{{Name: "pasted-image", Data: data}})
}

// handleFetch downloads a remote image by URL and feeds it to the pipeline.
func (s *Server) handleFetch(c *gin.Context) {
	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "url is required"})
		return
	}

	data, err := s.fetcher.Fetch(c.Request.Context(), req.URL)
	if err != nil {
		if errors.Is(err, ingest.ErrUnsupportedInput) {
			c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	s.submit(c, []ingest.File{{Name: req.URL, Data: data}})
}

func (s *Server) submit(c *gin.Context, files []ingest.File) {
	entries, err := s.ingestor.IngestFiles(c.Request.Context(), files)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrBatchTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
		case errors.Is(err, ingest.ErrUnsupportedInput):
			c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
		return
	}

	ids := s.pipe.Enqueue(entries)
	// Analysis outlives the request, so it gets its own context.
	go s.pipe.Process(context.Background(), ids)

	c.JSON(http.StatusAccepted, enqueueResponse{ItemIDs: ids})
}

// handleItems reports the full collection with aggregate state and progress.
func (s *Server) handleItems(c *gin.Context) {
	success, total := s.pipe.Progress()
	c.JSON(http.StatusOK, gin.H{
		"state": s.pipe.State(),
		"items": s.pipe.Items(),
		"progress": gin.H{
			"success": success,
			"total":   total,
		},
	})
}

func (s *Server) handleReset(c *gin.Context) {
	s.pipe.Reset()
	c.JSON(http.StatusOK, gin.H{"state": s.pipe.State()})
}

// handleExport streams the xlsx workbook of successful items.
func (s *Server) handleExport(c *gin.Context) {
	items := s.pipe.Items()

	data, err := export.Workbook(items)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	filename := export.Filename(time.Now())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
