package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drguilhermecapel/medai-sub005/pkg/common/config"
	"github.com/drguilhermecapel/medai-sub005/pkg/common/database"
	"github.com/drguilhermecapel/medai-sub005/pkg/common/logger"
	"github.com/drguilhermecapel/medai-sub005/pkg/pipeline"
)

// ResultCache keeps recent analysis records in Redis so repeated fetches
// for the same analysis do not rerun the pipeline. The cache is an
// optimization only: every failure path degrades to a miss.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewResultCache() *ResultCache {
	cfg := config.Load()
	return &ResultCache{
		client: database.GetRedis(),
		ttl:    cfg.ResultCacheTTL,
	}
}

func cacheKey(analysisID string) string {
	return fmt.Sprintf("analysis:%s", analysisID)
}

// Get returns the cached record for the id, or (nil, false) on a miss or
// any cache failure.
func (c *ResultCache) Get(ctx context.Context, analysisID string) (*pipeline.Record, bool) {
	data, err := c.client.Get(ctx, cacheKey(analysisID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		logger.Log.WithError(err).WithField("analysis_id", analysisID).Warn("Result cache read failed")
		return nil, false
	}

	var record pipeline.Record
	if err := json.Unmarshal(data, &record); err != nil {
		logger.Log.WithError(err).WithField("analysis_id", analysisID).Warn("Result cache entry corrupt")
		return nil, false
	}
	return &record, true
}

// Put stores the record under its analysis id for the configured TTL.
func (c *ResultCache) Put(ctx context.Context, record *pipeline.Record) {
	data, err := json.Marshal(record)
	if err != nil {
		logger.Log.WithError(err).WithField("analysis_id", record.AnalysisID).Warn("Result cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, cacheKey(record.AnalysisID), data, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).WithField("analysis_id", record.AnalysisID).Warn("Result cache write failed")
	}
}
