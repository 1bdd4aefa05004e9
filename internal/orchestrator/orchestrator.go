package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hwickes/archive-search/internal/cache"
	"github.com/hwickes/archive-search/internal/clickhouse"
	"github.com/hwickes/archive-search/internal/config"
	"github.com/hwickes/archive-search/internal/elasticsearch"
	"github.com/hwickes/archive-search/internal/firestore"
	"github.com/hwickes/archive-search/internal/language"
	"github.com/hwickes/archive-search/internal/models"
	"github.com/hwickes/archive-search/internal/observability"
)

// Executor runs a materialized boolean query against the full-text index.
// *elasticsearch.Client is the production implementation; tests substitute
// their own.
type Executor interface {
	Search(ctx context.Context, index string, query map[string]any) (*elasticsearch.SearchResult, error)
}

// Orchestrator drives a search request through the full pipeline: normalize,
// classify, select a strategy, materialize the predicate, execute, hydrate.
// The normalize/classify/select/materialize steps are pure and touch no
// shared state; the orchestrator itself is safe for concurrent use.
type Orchestrator struct {
	executor   Executor
	chClient   *clickhouse.Client
	fsClient   *firestore.Client
	cache      *cache.RedisCache
	normalizer *Normalizer
	classifier *PatternClassifier
	selector   *StrategySelector
	builder    *QueryBuilder
	slowQuery  *observability.SlowQueryDetector
	cfg        config.SearchConfig
	esCfg      config.ElasticsearchConfig
	logger     *zap.Logger
}

func New(
	executor Executor,
	chClient *clickhouse.Client,
	fsClient *firestore.Client,
	redisCache *cache.RedisCache,
	slowQuery *observability.SlowQueryDetector,
	cfg config.SearchConfig,
	esCfg config.ElasticsearchConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		executor:   executor,
		chClient:   chClient,
		fsClient:   fsClient,
		cache:      redisCache,
		normalizer: NewNormalizer(logger),
		classifier: NewPatternClassifier(cfg.LongTokenLen),
		selector:   NewStrategySelector(),
		builder:    NewQueryBuilder(cfg.Fields),
		slowQuery:  slowQuery,
		cfg:        cfg,
		esCfg:      esCfg,
		logger:     logger,
	}
}

func (o *Orchestrator) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "orchestrator.search",
		attribute.String("query", req.Query),
	)
	defer span.End()

	if req.PageSize <= 0 {
		req.PageSize = o.cfg.DefaultPageSize
	}
	if req.PageSize > o.cfg.MaxPageSize {
		req.PageSize = o.cfg.MaxPageSize
	}

	lang, err := o.resolveLanguage(req)
	if err != nil {
		return nil, err
	}

	normalized := o.normalizer.Normalize(req.Query)
	class, feats := o.classifier.Classify(normalized)

	o.logger.Debug("query classified",
		zap.String("query", normalized),
		zap.String("classification", class.String()),
		zap.Int("word_count", feats.WordCount),
	)

	pred, err := o.selector.Select(normalized, class, lang)
	if errors.Is(err, ErrEmptyQuery) {
		// Empty queries never reach the adapter; the caller decides whether
		// zero results or a validation error is appropriate.
		observability.SearchRequestsTotal.WithLabelValues(class.String(), "empty").Inc()
		return emptyResponse(req, class, feats, start), nil
	}
	if err != nil {
		return nil, err
	}
	observability.ClassificationsTotal.WithLabelValues(class.String()).Inc()

	if !req.ForceFresh && o.cache != nil {
		cached, cacheErr := o.cache.GetSearchResults(ctx, req)
		if cacheErr != nil {
			o.logger.Warn("cache lookup error", zap.Error(cacheErr))
		}
		if cached != nil {
			cached.Metadata.CacheHit = true
			cached.TookMs = time.Since(start).Milliseconds()
			observability.SearchRequestsTotal.WithLabelValues(class.String(), "cache_hit").Inc()
			return cached, nil
		}
	}

	resp, err := o.searchWithFallback(ctx, req, pred, normalized)
	if err != nil {
		observability.SearchRequestsTotal.WithLabelValues(class.String(), "error").Inc()
		observability.SearchRequestDuration.WithLabelValues(class.String(), "error", "error").Observe(time.Since(start).Seconds())
		return nil, err
	}

	resp.TookMs = time.Since(start).Milliseconds()
	resp.Page = req.Page
	resp.PageSize = req.PageSize
	resp.Metadata.RequestID = req.RequestID
	resp.Metadata.Classification = class.String()
	resp.Metadata.Features = feats

	if o.cache != nil {
		if err := o.cache.SetSearchResults(ctx, req, resp); err != nil {
			o.logger.Warn("cache set error", zap.Error(err))
		}
	}

	observability.SearchRequestsTotal.WithLabelValues(class.String(), "success").Inc()
	observability.SearchRequestDuration.WithLabelValues(class.String(), resp.Source, "success").Observe(time.Since(start).Seconds())

	if o.slowQuery != nil {
		o.slowQuery.Intercept(ctx, normalized, class.String(),
			time.Since(start), resp.Total, resp.Metadata.ShardsHit, resp.Metadata.TimedOut)
	}

	return resp, nil
}

// Classify runs only the normalize and classify steps, exposing the decision
// the dispatcher would make without executing anything. Used by the
// diagnostic endpoint.
func (o *Orchestrator) Classify(query string) (string, models.Classification, models.Features, *models.Predicate) {
	normalized := o.normalizer.Normalize(query)
	class, feats := o.classifier.Classify(normalized)

	lang, err := o.resolveLanguage(&models.SearchRequest{})
	if err != nil {
		lang = language.Info{}
	}
	pred, err := o.selector.Select(normalized, class, lang)
	if err != nil {
		pred = nil
	}
	return normalized, class, feats, pred
}

// Facets returns the type/subtype/language distributions for a collection,
// served from cache when fresh.
func (o *Orchestrator) Facets(ctx context.Context, collection, langCode string) (map[string][]models.Facet, error) {
	lang, err := language.Resolve(langCode)
	if err != nil {
		return nil, fmt.Errorf("resolving facet language: %w", err)
	}

	if o.cache != nil {
		cached, cacheErr := o.cache.GetFacets(ctx, collection, lang.ISO6391)
		if cacheErr != nil {
			o.logger.Warn("facet cache lookup error", zap.Error(cacheErr))
		}
		if cached != nil {
			return cached, nil
		}
	}

	if o.chClient == nil {
		return map[string][]models.Facet{}, nil
	}

	agg, err := o.chClient.QueryFacets(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("facet query: %w", err)
	}

	if o.cache != nil {
		if err := o.cache.SetFacets(ctx, collection, lang.ISO6391, agg.Facets); err != nil {
			o.logger.Warn("facet cache set error", zap.Error(err))
		}
	}
	return agg.Facets, nil
}

func (o *Orchestrator) resolveLanguage(req *models.SearchRequest) (language.Info, error) {
	code := req.Language
	if code == "" {
		code = o.cfg.DefaultLanguage
	}
	lang, err := language.Resolve(code)
	if err != nil {
		return language.Info{}, fmt.Errorf("resolving search language: %w", err)
	}
	return lang, nil
}

func (o *Orchestrator) searchWithFallback(ctx context.Context, req *models.SearchRequest, pred *models.Predicate, normalized string) (*models.SearchResponse, error) {
	resp, err := o.primarySearch(ctx, req, pred)
	if err == nil {
		return resp, nil
	}
	o.logger.Warn("primary search failed, trying fallback", zap.Error(err))
	observability.FallbackCounter.WithLabelValues("primary_failed").Inc()

	if o.cache != nil {
		stale, cacheErr := o.cache.GetStaleResults(ctx, req)
		if cacheErr == nil && stale != nil {
			stale.Metadata.Stale = true
			stale.Source = "stale_cache"
			stale.Metadata.Source = "stale_cache"
			observability.FallbackCounter.WithLabelValues("stale_cache").Inc()
			return stale, nil
		}
	}

	if o.chClient != nil {
		chResults, chErr := o.chClient.FallbackSearch(ctx, normalized, req.PageSize)
		if chErr == nil && len(chResults) > 0 {
			observability.FallbackCounter.WithLabelValues("clickhouse").Inc()
			return &models.SearchResponse{
				Results: chResults,
				Total:   int64(len(chResults)),
				Source:  "degraded",
				Metadata: models.ResponseMetadata{
					Source: "degraded_clickhouse",
				},
			}, nil
		}
		if chErr != nil {
			o.logger.Warn("clickhouse fallback failed", zap.Error(chErr))
		}
	}

	// IndexUnavailable and QueryTimeout propagate unchanged; retry policy
	// lives inside the execution adapter, not here.
	return nil, err
}

func (o *Orchestrator) primarySearch(ctx context.Context, req *models.SearchRequest, pred *models.Predicate) (*models.SearchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.QueryTimeout)
	defer cancel()

	esQuery := o.builder.BuildESQuery(pred, req)

	index := fmt.Sprintf("%s-*", o.esCfg.IndexPrefix)
	if req.Language != "" {
		if lang, err := language.Resolve(req.Language); err == nil {
			index = fmt.Sprintf("%s-*-%s", o.esCfg.IndexPrefix, lang.ISO6391)
		}
	}

	result, err := o.executor.Search(ctx, index, esQuery)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	hits := result.Hits
	if req.Hydrate && o.fsClient != nil {
		hydrated, err := o.fsClient.HydrateResults(ctx, hits, "manifests")
		if err != nil {
			o.logger.Warn("hydration failed", zap.Error(err))
		} else {
			hits = hydrated
		}
	}

	return &models.SearchResponse{
		Results: hits,
		Total:   result.Total,
		Source:  "primary",
		Metadata: models.ResponseMetadata{
			Source:    "elasticsearch",
			ShardsHit: result.ShardsHit,
			TimedOut:  result.TimedOut,
		},
	}, nil
}

func emptyResponse(req *models.SearchRequest, class models.Classification, feats models.Features, start time.Time) *models.SearchResponse {
	return &models.SearchResponse{
		Results:  []models.SearchResult{},
		Total:    0,
		Page:     req.Page,
		PageSize: req.PageSize,
		TookMs:   time.Since(start).Milliseconds(),
		Source:   "none",
		Metadata: models.ResponseMetadata{
			RequestID:      req.RequestID,
			Source:         "none",
			Classification: class.String(),
			Features:       feats,
		},
	}
}
