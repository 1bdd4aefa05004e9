package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hwickes/archive-search/internal/config"
	"github.com/hwickes/archive-search/internal/models"
	"github.com/hwickes/archive-search/internal/observability"
)

type RedisCache struct {
	client redis.UniversalClient
	ttl    config.CacheTTLConfig
	logger *zap.Logger
}

func NewRedisCache(cfg config.RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	var client redis.UniversalClient

	if len(cfg.Addresses) > 1 {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis cache connected", zap.Strings("addresses", cfg.Addresses))

	return &RedisCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func (rc *RedisCache) GetSearchResults(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	key := rc.buildSearchKey(req)
	return rc.getResponse(ctx, key)
}

// SetSearchResults writes the fresh entry and a longer-lived stale copy under
// the same request fingerprint. The stale copy is only read when the primary
// index is unreachable.
func (rc *RedisCache) SetSearchResults(ctx context.Context, req *models.SearchRequest, resp *models.SearchResponse) error {
	key := rc.buildSearchKey(req)
	if err := rc.setResponse(ctx, key, resp, rc.ttl.SearchResults); err != nil {
		return err
	}
	staleKey := rc.buildStaleKey(req)
	return rc.setResponse(ctx, staleKey, resp, rc.ttl.StaleFallback)
}

func (rc *RedisCache) GetStaleResults(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	key := rc.buildStaleKey(req)
	return rc.getResponse(ctx, key)
}

func (rc *RedisCache) GetFacets(ctx context.Context, collection, lang string) (map[string][]models.Facet, error) {
	key := fmt.Sprintf("fc:%s:%s", collection, lang)
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		observability.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get facets: %w", err)
	}
	observability.CacheHits.Inc()
	var facets map[string][]models.Facet
	if err := json.Unmarshal([]byte(val), &facets); err != nil {
		return nil, fmt.Errorf("cache unmarshal facets: %w", err)
	}
	return facets, nil
}

func (rc *RedisCache) SetFacets(ctx context.Context, collection, lang string, facets map[string][]models.Facet) error {
	key := fmt.Sprintf("fc:%s:%s", collection, lang)
	data, err := json.Marshal(facets)
	if err != nil {
		return fmt.Errorf("cache marshal facets: %w", err)
	}
	return rc.client.Set(ctx, key, data, rc.ttl.FacetCounts).Err()
}

func (rc *RedisCache) InvalidatePattern(ctx context.Context, patterns []string) error {
	for _, pattern := range patterns {
		iter := rc.client.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			rc.logger.Warn("cache scan error", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if len(keys) > 0 {
			if err := rc.client.Del(ctx, keys...).Err(); err != nil {
				rc.logger.Warn("cache delete error", zap.Strings("keys", keys), zap.Error(err))
			}
		}
	}
	return nil
}

func (rc *RedisCache) HealthCheck(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) getResponse(ctx context.Context, key string) (*models.SearchResponse, error) {
	val, err := rc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		observability.CacheMisses.Inc()
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	observability.CacheHits.Inc()
	var resp models.SearchResponse
	if err := json.Unmarshal([]byte(val), &resp); err != nil {
		return nil, fmt.Errorf("cache unmarshal: %w", err)
	}
	return &resp, nil
}

func (rc *RedisCache) setResponse(ctx context.Context, key string, resp *models.SearchResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return rc.client.Set(ctx, key, data, ttl).Err()
}

// The fingerprint covers every request field that changes what the index
// returns. Language matters because the same text is searched against
// different analyzed subfields per language.
func requestFingerprint(req *models.SearchRequest) string {
	return fmt.Sprintf("%s:%s:%s:%t:%s:%d:%d",
		req.Query, req.Language, strings.Join(req.Fields, ","),
		req.MultiField, req.Sort, req.Page, req.PageSize)
}

func (rc *RedisCache) buildSearchKey(req *models.SearchRequest) string {
	return fmt.Sprintf("sr:%s", hashString(requestFingerprint(req)))
}

func (rc *RedisCache) buildStaleKey(req *models.SearchRequest) string {
	return fmt.Sprintf("sr:stale:%s", hashString(requestFingerprint(req)))
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:8])
}
