package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// CacheStore persists analysis results keyed by image content hash.
// Implemented by the SQLite store; nil-safe at the CachedAnalyzer level.
type CacheStore interface {
	GetAnalysisCache(imageHash string) ([]byte, error)
	SetAnalysisCache(imageHash string, records []byte) error
}

// CachedAnalyzer wraps an Analyzer with content-addressed caching, so
// re-submitting the same photo costs nothing.
type CachedAnalyzer struct {
	inner Analyzer
	store CacheStore
}

// NewCachedAnalyzer creates a cached analyzer.
func NewCachedAnalyzer(inner Analyzer, store CacheStore) *CachedAnalyzer {
	return &CachedAnalyzer{inner: inner, store: store}
}

// hashImage creates a SHA-256 content hash for cache keying.
func hashImage(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Analyze implements the Analyzer interface with caching. Cache errors are
// logged and bypassed; only the upstream call's result is authoritative.
func (c *CachedAnalyzer) Analyze(ctx context.Context, imageData []byte) ([]ProductAnalysis, error) {
	hash := hashImage(imageData)

	if c.store != nil {
		cached, err := c.store.GetAnalysisCache(hash)
		if err != nil {
			log.Warn().Err(err).Msg("failed to check analysis cache")
		} else if cached != nil {
			var records []ProductAnalysis
			if err := json.Unmarshal(cached, &records); err != nil {
				log.Warn().Err(err).Str("hash", hash[:16]).Msg("discarding corrupt cache entry")
			} else {
				log.Debug().Str("hash", hash[:16]).Msg("analysis cache hit")
				return records, nil
			}
		}
	}

	records, err := c.inner.Analyze(ctx, imageData)
	if err != nil {
		return nil, err
	}

	// Empty results are not cached: the user's recovery path is
	// re-submission, which should get a fresh model call.
	if c.store != nil && len(records) > 0 {
		payload, err := json.Marshal(records)
		if err == nil {
			if err := c.store.SetAnalysisCache(hash, payload); err != nil {
				log.Warn().Err(err).Msg("failed to cache analysis result")
			} else {
				log.Debug().Str("hash", hash[:16]).Msg("cached analysis result")
			}
		}
	}

	return records, nil
}
