// Package server exposes the sourcing pipeline over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AdamLam-AI/TaobaoLens/internal/ingest"
	"github.com/AdamLam-AI/TaobaoLens/internal/pipeline"
)

type Server struct {
	pipe     *pipeline.Pipeline
	ingestor *ingest.Ingestor
	fetcher  *ingest.Fetcher
	router   *gin.Engine
}

func New(pipe *pipeline.Pipeline, ingestor *ingest.Ingestor) *Server {
	s := &Server{
		pipe:     pipe,
		ingestor: ingestor,
		fetcher:  ingest.NewFetcher(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/uploads", s.handleUploads)
		v1.POST("/paste", s.handlePaste)
		v1.POST("/fetch", s.handleFetch)
		v1.GET("/items", s.handleItems)
		v1.POST("/reset", s.handleReset)
		v1.GET("/export", s.handleExport)
	}
	return r
}

// Handler returns the router for mounting in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}
