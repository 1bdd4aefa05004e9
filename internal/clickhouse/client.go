package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hwickes/archive-search/internal/config"
	"github.com/hwickes/archive-search/internal/models"
	"github.com/hwickes/archive-search/internal/observability"
)

type Client struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewClient(cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.QueryTimeout.Seconds()),
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	logger.Info("clickhouse client connected", zap.Strings("addresses", cfg.Addresses))

	return &Client{
		conn:   conn,
		logger: logger,
	}, nil
}

type AggregationResult struct {
	Facets map[string][]models.Facet
	Total  int64
	TookMs int64
}

// QueryFacets returns the type, subtype and language distributions for one
// collection. Counts are maintained by the indexing pipeline, not derived
// from the search index.
func (c *Client) QueryFacets(ctx context.Context, collection string) (*AggregationResult, error) {
	ctx, span := observability.StartSpan(ctx, "ch.query_facets",
		attribute.String("collection", collection),
	)
	defer span.End()

	start := time.Now()

	query := `
		SELECT
			facet_name,
			facet_value,
			sum(count) AS cnt
		FROM document_facets
		WHERE collection = ?
		GROUP BY facet_name, facet_value
		ORDER BY cnt DESC
		LIMIT 100
	`

	rows, err := c.conn.Query(ctx, query, collection)
	if err != nil {
		observability.CHQueryDuration.WithLabelValues("facets", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("ch facet query: %w", err)
	}
	defer rows.Close()

	facets := make(map[string][]models.Facet)
	for rows.Next() {
		var facetName, facetValue string
		var count int64
		if err := rows.Scan(&facetName, &facetValue, &count); err != nil {
			return nil, fmt.Errorf("scanning facet row: %w", err)
		}
		facets[facetName] = append(facets[facetName], models.Facet{
			Value: facetValue,
			Count: count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating facet rows: %w", err)
	}

	duration := time.Since(start)
	observability.CHQueryDuration.WithLabelValues("facets", "success").Observe(duration.Seconds())

	return &AggregationResult{
		Facets: facets,
		TookMs: duration.Milliseconds(),
	}, nil
}

func (c *Client) WriteQueryPerformance(ctx context.Context, event *models.AnalyticsEvent) error {
	query := `
		INSERT INTO query_performance (
			event_type, query_hash, classification, duration_ms,
			total_hits, shards_hit, timed_out, timestamp, trace_id, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return c.conn.Exec(ctx, query,
		event.EventType,
		event.QueryHash,
		event.Classification,
		event.DurationMs,
		event.TotalHits,
		event.ShardsHit,
		event.TimedOut,
		event.Timestamp,
		event.TraceID,
		event.Source,
	)
}

// DocumentRow is the analytical replica's flattened view of one document.
// It feeds FallbackSearch; the ReplacingMergeTree engine keeps the row with
// the newest updated_at per document_id.
type DocumentRow struct {
	DocumentID string
	Collection string
	Label      string
	Summary    string
	Type       string
	Subtype    string
	Language   string
	Indexable  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (c *Client) UpsertDocument(ctx context.Context, row *DocumentRow) error {
	query := `
		INSERT INTO documents (
			document_id, collection, label, summary, type,
			subtype, language, indexable, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return c.conn.Exec(ctx, query,
		row.DocumentID,
		row.Collection,
		row.Label,
		row.Summary,
		row.Type,
		row.Subtype,
		row.Language,
		row.Indexable,
		row.CreatedAt,
		row.UpdatedAt,
	)
}

// FacetDelta adjusts one facet counter. The SummingMergeTree engine collapses
// rows on merge, so a removal is an insert with a negative delta.
type FacetDelta struct {
	Collection string
	Name       string
	Value      string
	Delta      int64
}

func (c *Client) AdjustFacetCounts(ctx context.Context, deltas []FacetDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO document_facets (collection, facet_name, facet_value, count, updated_at)")
	if err != nil {
		return fmt.Errorf("preparing facet batch: %w", err)
	}

	now := time.Now().UTC()
	for _, d := range deltas {
		if err := batch.Append(d.Collection, d.Name, d.Value, d.Delta, now); err != nil {
			return fmt.Errorf("appending facet delta: %w", err)
		}
	}
	return batch.Send()
}

func (c *Client) InsertDocumentEvent(ctx context.Context, event *models.ChangeEvent) error {
	query := `
		INSERT INTO document_changelog (
			document_id, collection, operation, timestamp, version
		) VALUES (?, ?, ?, ?, ?)
	`
	return c.conn.Exec(ctx, query,
		event.DocumentID,
		event.Collection,
		event.Type,
		event.Timestamp,
		event.Version,
	)
}

// FallbackSearch serves degraded results from the analytical replica when the
// primary index is unreachable and no stale cache entry exists. Match is
// substring-only; scoring and analysis are not attempted here.
func (c *Client) FallbackSearch(ctx context.Context, queryText string, limit int) ([]models.SearchResult, error) {
	ctx, span := observability.StartSpan(ctx, "ch.fallback_search")
	defer span.End()

	start := time.Now()

	query := `
		SELECT
			document_id,
			label,
			summary,
			type,
			language
		FROM documents
		WHERE positionCaseInsensitive(label, ?) > 0
		   OR positionCaseInsensitive(indexable, ?) > 0
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := c.conn.Query(ctx, query, queryText, queryText, limit)
	if err != nil {
		observability.CHQueryDuration.WithLabelValues("fallback", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("ch fallback search: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.ID, &r.Label, &r.Summary, &r.Type, &r.Language); err != nil {
			return nil, fmt.Errorf("scanning fallback row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fallback rows: %w", err)
	}

	observability.CHQueryDuration.WithLabelValues("fallback", "success").Observe(time.Since(start).Seconds())
	return results, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) EnsureTables(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS query_performance (
			event_type String,
			query_hash String,
			classification String,
			duration_ms Float64,
			total_hits Int64,
			shards_hit Int32,
			timed_out Bool,
			timestamp DateTime,
			trace_id String,
			source String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, query_hash)`,

		`CREATE TABLE IF NOT EXISTS documents (
			document_id String,
			collection String,
			label String,
			summary String,
			type String,
			subtype String,
			language String,
			indexable String,
			created_at DateTime,
			updated_at DateTime
		) ENGINE = ReplacingMergeTree(updated_at)
		PARTITION BY toYYYYMM(created_at)
		ORDER BY (document_id)`,

		`CREATE TABLE IF NOT EXISTS document_changelog (
			document_id String,
			collection String,
			operation String,
			timestamp DateTime,
			version Int64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, document_id)`,

		`CREATE TABLE IF NOT EXISTS document_facets (
			collection String,
			facet_name String,
			facet_value String,
			count Int64,
			updated_at DateTime
		) ENGINE = SummingMergeTree(count)
		PARTITION BY collection
		ORDER BY (collection, facet_name, facet_value)`,
	}

	for _, ddl := range tables {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}

	c.logger.Info("clickhouse tables ensured")
	return nil
}
