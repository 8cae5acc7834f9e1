package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/AdamLam-AI/TaobaoLens/internal/analysis"
	"github.com/AdamLam-AI/TaobaoLens/internal/config"
	"github.com/AdamLam-AI/TaobaoLens/internal/ingest"
	"github.com/AdamLam-AI/TaobaoLens/internal/pipeline"
	"github.com/AdamLam-AI/TaobaoLens/internal/server"
	"github.com/AdamLam-AI/TaobaoLens/internal/storage"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cacheStore analysis.CacheStore
	if cfg.CacheDBPath != "" {
		store, err := storage.NewSQLiteStore(cfg.CacheDBPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize analysis cache store")
		}
		defer store.Close()
		cacheStore = store
		log.Info().Str("dbPath", cfg.CacheDBPath).Msg("analysis cache store initialized")
	}

	var analyzer analysis.Analyzer
	switch cfg.AnalyzerBackend {
	case config.BackendGemini:
		analyzer, err = analysis.NewGeminiAnalyzer(ctx, cfg.GeminiAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize gemini analyzer")
		}
		log.Info().Msg("gemini analyzer initialized")
	case config.BackendOllama:
		analyzer, err = analysis.NewOllamaAnalyzer(cfg.OllamaURL, cfg.OllamaModel)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize ollama analyzer")
		}
		log.Info().Str("model", cfg.OllamaModel).Msg("ollama analyzer initialized")
	}

	if cacheStore != nil {
		analyzer = analysis.NewCachedAnalyzer(analyzer, cacheStore)
		log.Info().Msg("analysis caching enabled")
	}

	pipe := pipeline.New(analyzer)
	ingestor := ingest.New(cfg.MaxBatchItems)
	srv := server.New(pipe, ingestor)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}
