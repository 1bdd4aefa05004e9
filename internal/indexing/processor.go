package indexing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hwickes/archive-search/internal/cache"
	"github.com/hwickes/archive-search/internal/clickhouse"
	"github.com/hwickes/archive-search/internal/config"
	"github.com/hwickes/archive-search/internal/elasticsearch"
	"github.com/hwickes/archive-search/internal/language"
	"github.com/hwickes/archive-search/internal/models"
	"github.com/hwickes/archive-search/internal/observability"
)

// noLanguage and noLanguageJSONLD are the keys manifest fields use for
// values with no language tag.
const (
	noLanguage       = "none"
	noLanguageJSONLD = "@none"
)

// fields of a manifest document that produce indexables.
var indexedFields = []string{"label", "summary", "metadata"}

type StreamProcessor struct {
	esClient    *elasticsearch.Client
	chClient    *clickhouse.Client
	cache       *cache.RedisCache
	esCfg       config.ElasticsearchConfig
	defaultLang string
	logger      *zap.Logger

	// Bulk buffer
	mu     sync.Mutex
	buffer []models.IndexAction
	ticker *time.Ticker
	done   chan struct{}
}

func NewStreamProcessor(
	esClient *elasticsearch.Client,
	chClient *clickhouse.Client,
	cache *cache.RedisCache,
	esCfg config.ElasticsearchConfig,
	defaultLang string,
	logger *zap.Logger,
) *StreamProcessor {
	if defaultLang == "" {
		defaultLang = language.Default
	}
	sp := &StreamProcessor{
		esClient:    esClient,
		chClient:    chClient,
		cache:       cache,
		esCfg:       esCfg,
		defaultLang: defaultLang,
		logger:      logger,
		buffer:      make([]models.IndexAction, 0, esCfg.BulkSize),
		ticker:      time.NewTicker(esCfg.BulkFlushInterval),
		done:        make(chan struct{}),
	}

	go sp.flushLoop()

	return sp
}

func (sp *StreamProcessor) HandleEvent(ctx context.Context, event *models.ChangeEvent) error {
	actions, err := sp.transformEvent(event)
	if err != nil {
		return fmt.Errorf("transforming event: %w", err)
	}

	sp.mu.Lock()
	sp.buffer = append(sp.buffer, actions...)
	shouldFlush := len(sp.buffer) >= sp.esCfg.BulkSize
	sp.mu.Unlock()

	if shouldFlush {
		if err := sp.flush(ctx); err != nil {
			sp.logger.Error("flush on buffer full failed", zap.Error(err))
		}
	}

	// Changelog write is best-effort; the search index is the source of truth
	// for serving, ClickHouse only feeds facets and the degraded path.
	if sp.chClient != nil {
		go func() {
			chCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sp.chClient.InsertDocumentEvent(chCtx, event); err != nil {
				sp.logger.Warn("clickhouse event insert failed",
					zap.String("doc_id", event.DocumentID),
					zap.Error(err),
				)
			}
			if err := sp.replicate(chCtx, event); err != nil {
				sp.logger.Warn("clickhouse replica update failed",
					zap.String("doc_id", event.DocumentID),
					zap.Error(err),
				)
			}
		}()
	}

	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		patterns := buildInvalidationKeys(event)
		if err := sp.cache.InvalidatePattern(cacheCtx, patterns); err != nil {
			sp.logger.Warn("cache invalidation failed",
				zap.String("doc_id", event.DocumentID),
				zap.Error(err),
			)
		}
	}()

	return nil
}

// transformEvent fans a document mutation out into per-indexable actions.
// Every (field, language) pair of the document becomes its own ES document in
// the index for that language, so analyzed search always runs against the
// analyzer the text was written for.
func (sp *StreamProcessor) transformEvent(event *models.ChangeEvent) ([]models.IndexAction, error) {
	switch event.Type {
	case "CREATE", "UPDATE":
		return sp.indexActions(event), nil
	case "DELETE":
		return sp.deleteActions(event), nil
	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
}

func (sp *StreamProcessor) indexActions(event *models.ChangeEvent) []models.IndexAction {
	indexables := sp.ExtractIndexables(event.Document)

	docLabel := ""
	for _, ix := range indexables {
		if ix.Field == "label" && ix.Language == sp.defaultLang {
			docLabel = ix.Text
			break
		}
	}
	if docLabel == "" && len(indexables) > 0 {
		docLabel = indexables[0].Subtype
	}

	actions := make([]models.IndexAction, 0, len(indexables))
	for _, ix := range indexables {
		langLabel := ix.Language
		if langLabel == "" {
			langLabel = "und"
		}
		observability.IndexablesExtracted.WithLabelValues(langLabel).Inc()

		body := map[string]any{
			"document_id": event.DocumentID,
			"collection":  event.Collection,
			"type":        ix.Field,
			"subtype":     ix.Subtype,
			"label":       docLabel,
			"language":    ix.Language,
			"indexable":   ix.Text,
			"indexed_at":  event.Timestamp.UTC().Format(time.RFC3339),
		}
		if ix.Field == "summary" {
			body["summary"] = ix.Text
		}

		actions = append(actions, models.IndexAction{
			Action:    "index",
			Index:     sp.esClient.ResolveIndex(event.Collection, ix.Language),
			ID:        indexableID(event.DocumentID, ix),
			Routing:   event.DocumentID,
			Body:      body,
			Timestamp: event.Timestamp,
		})
	}
	return actions
}

// deleteActions mirrors indexActions when the tombstone still carries the
// document body. Without a body we can only tombstone the default-language
// entries.
// TODO: switch deletes to a delete-by-query on document_id so bodiless
// tombstones remove every language's indexables.
func (sp *StreamProcessor) deleteActions(event *models.ChangeEvent) []models.IndexAction {
	if len(event.Document) > 0 {
		indexables := sp.ExtractIndexables(event.Document)
		actions := make([]models.IndexAction, 0, len(indexables))
		for _, ix := range indexables {
			actions = append(actions, models.IndexAction{
				Action:    "delete",
				Index:     sp.esClient.ResolveIndex(event.Collection, ix.Language),
				ID:        indexableID(event.DocumentID, ix),
				Routing:   event.DocumentID,
				Timestamp: event.Timestamp,
			})
		}
		return actions
	}

	sp.logger.Warn("delete event without document body, tombstoning default language only",
		zap.String("doc_id", event.DocumentID),
	)
	return []models.IndexAction{{
		Action:    "delete",
		Index:     sp.esClient.ResolveIndex(event.Collection, sp.defaultLang),
		ID:        fmt.Sprintf("%s:label:%s", event.DocumentID, sp.defaultLang),
		Routing:   event.DocumentID,
		Timestamp: event.Timestamp,
	}}
}

// replicate keeps the analytical replica in step with the index: the
// documents table serves the degraded fallback path, document_facets serves
// the facets endpoint.
func (sp *StreamProcessor) replicate(ctx context.Context, event *models.ChangeEvent) error {
	collection := event.Collection
	if collection == "" {
		collection = "manifests"
	}

	switch event.Type {
	case "CREATE", "UPDATE":
		indexables := sp.ExtractIndexables(event.Document)
		if len(indexables) == 0 {
			return nil
		}
		if err := sp.chClient.UpsertDocument(ctx, sp.documentRow(event, collection, indexables)); err != nil {
			return err
		}
		// Counters move on create and delete only; recounting an update
		// needs the previous document, which the event does not carry.
		if event.Type == "CREATE" {
			return sp.chClient.AdjustFacetCounts(ctx, sp.facetDeltas(event, collection, indexables, 1))
		}
		return nil
	case "DELETE":
		if len(event.Document) == 0 {
			return nil
		}
		indexables := sp.ExtractIndexables(event.Document)
		return sp.chClient.AdjustFacetCounts(ctx, sp.facetDeltas(event, collection, indexables, -1))
	}
	return nil
}

// documentRow flattens a document's indexables into one replica row. Label
// prefers the default language; indexable concatenates every language's text
// so FallbackSearch matches whichever the user typed.
func (sp *StreamProcessor) documentRow(event *models.ChangeEvent, collection string, indexables []Indexable) *clickhouse.DocumentRow {
	row := &clickhouse.DocumentRow{
		DocumentID: event.DocumentID,
		Collection: collection,
		Language:   sp.defaultLang,
		CreatedAt:  event.Timestamp.UTC(),
		UpdatedAt:  event.Timestamp.UTC(),
	}
	if t, ok := event.Document["type"].(string); ok {
		row.Type = t
	}

	texts := make([]string, 0, len(indexables))
	for _, ix := range indexables {
		texts = append(texts, ix.Text)
		if ix.Field == "label" && (row.Label == "" || ix.Language == sp.defaultLang) {
			row.Label = ix.Text
			row.Subtype = ix.Subtype
		}
		if ix.Field == "summary" && row.Summary == "" {
			row.Summary = ix.Text
		}
	}
	row.Indexable = strings.Join(texts, " ")
	return row
}

// facetDeltas counts each distinct facet value once per document: the type,
// every language present, and every metadata subtype/value pair.
func (sp *StreamProcessor) facetDeltas(event *models.ChangeEvent, collection string, indexables []Indexable, sign int64) []clickhouse.FacetDelta {
	seen := make(map[[2]string]struct{})
	var out []clickhouse.FacetDelta
	add := func(name, value string) {
		if name == "" || value == "" {
			return
		}
		key := [2]string{name, value}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, clickhouse.FacetDelta{
			Collection: collection,
			Name:       name,
			Value:      value,
			Delta:      sign,
		})
	}

	if t, ok := event.Document["type"].(string); ok {
		add("type", t)
	}
	for _, ix := range indexables {
		lang := ix.Language
		if lang == "" {
			lang = "und"
		}
		add("language", lang)
		if ix.Field == "metadata" {
			add(ix.Subtype, ix.Text)
		}
	}
	return out
}

func indexableID(docID string, ix Indexable) string {
	lang := ix.Language
	if lang == "" {
		lang = "und"
	}
	return fmt.Sprintf("%s:%s:%d:%s", docID, ix.Field, ix.Ordinal, lang)
}

// Indexable is one searchable value extracted from a document field: the text
// in exactly one language, plus the canonical subtype shared by all of that
// field's language variants.
type Indexable struct {
	Field    string
	Subtype  string
	Language string
	Text     string
	Ordinal  int
}

// ExtractIndexables walks the document's indexed fields and produces one
// indexable per (language, value). The subtype is canonical across languages:
// English first, then the default language, then any language in sorted
// order, then the field key itself. Keeping it canonical is what keeps facet
// counts stable across languages.
func (sp *StreamProcessor) ExtractIndexables(doc map[string]any) []Indexable {
	var out []Indexable
	for _, field := range indexedFields {
		raw, ok := doc[field]
		if !ok || raw == nil {
			continue
		}

		switch v := raw.(type) {
		case []any:
			// metadata-style list of {label, value} pairs
			for _, item := range v {
				pair, ok := item.(map[string]any)
				if !ok {
					continue
				}
				subtype := sp.canonicalValue(pair["label"], field)
				out = append(out, sp.fieldIndexables(field, subtype, pair["value"], len(out))...)
			}
		default:
			subtype := sp.canonicalValue(raw, field)
			out = append(out, sp.fieldIndexables(field, subtype, raw, len(out))...)
		}
	}
	return out
}

// fieldIndexables expands one field value into per-language indexables.
func (sp *StreamProcessor) fieldIndexables(field, subtype string, value any, base int) []Indexable {
	var out []Indexable
	add := func(lang, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		out = append(out, Indexable{
			Field:    field,
			Subtype:  subtype,
			Language: lang,
			Text:     text,
			Ordinal:  base + len(out),
		})
	}

	switch v := value.(type) {
	case string:
		add(sp.defaultLang, v)
	case map[string]any:
		for _, lang := range sortedKeys(v) {
			resolved := sp.resolveFieldLanguage(lang)
			for _, text := range stringValues(v[lang]) {
				add(resolved, text)
			}
		}
	}
	return out
}

// canonicalValue picks one display value for a multilingual field. fallback
// is used when the field carries no usable value at all.
func (sp *StreamProcessor) canonicalValue(value any, fallback string) string {
	switch v := value.(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		if s := firstString(v["en"]); s != "" {
			return s
		}
		if s := firstString(v[sp.defaultLang]); s != "" {
			return s
		}
		for _, k := range sortedKeys(v) {
			if s := firstString(v[k]); s != "" {
				return s
			}
		}
	}
	return fallback
}

// resolveFieldLanguage normalizes a field's language key to an iso639-1 code.
// Untagged values take the configured default language, matching how manifest
// producers treat a bare string. Unknown codes index as "" so they land in
// the untokenized index rather than inheriting an analyzer they were not
// written for.
func (sp *StreamProcessor) resolveFieldLanguage(lang string) string {
	if lang == "" || lang == noLanguage || lang == noLanguageJSONLD {
		return sp.defaultLang
	}
	info, err := language.Resolve(lang)
	if err != nil {
		sp.logger.Debug("unknown field language, indexing untokenized",
			zap.String("language", lang),
		)
		return ""
	}
	return info.ISO6391
}

func firstString(v any) string {
	for _, s := range stringValues(v) {
		if s != "" {
			return s
		}
	}
	return ""
}

func stringValues(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (sp *StreamProcessor) flushLoop() {
	for {
		select {
		case <-sp.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := sp.flush(ctx); err != nil {
				sp.logger.Error("periodic flush failed", zap.Error(err))
			}
			cancel()
		case <-sp.done:
			return
		}
	}
}

func (sp *StreamProcessor) flush(ctx context.Context) error {
	sp.mu.Lock()
	if len(sp.buffer) == 0 {
		sp.mu.Unlock()
		return nil
	}
	batch := make([]models.IndexAction, len(sp.buffer))
	copy(batch, sp.buffer)
	sp.buffer = sp.buffer[:0]
	sp.mu.Unlock()

	start := time.Now()
	if err := sp.esClient.BulkIndex(ctx, batch); err != nil {
		// Put failed items back into buffer for retry
		sp.mu.Lock()
		sp.buffer = append(batch, sp.buffer...)
		sp.mu.Unlock()

		observability.IndexingEventsTotal.WithLabelValues("bulk", "error").Inc()
		return fmt.Errorf("bulk index flush: %w", err)
	}

	observability.IndexingEventsTotal.WithLabelValues("bulk", "success").Add(float64(len(batch)))
	sp.logger.Info("bulk flush completed",
		zap.Int("count", len(batch)),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}

func (sp *StreamProcessor) Stop() error {
	sp.ticker.Stop()
	close(sp.done)

	// Final flush
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return sp.flush(ctx)
}

func buildInvalidationKeys(event *models.ChangeEvent) []string {
	// Any mutation can change what a cached search returns.
	patterns := []string{"sr:*"}

	if event.Collection != "" {
		patterns = append(patterns, fmt.Sprintf("fc:%s:*", event.Collection))
	}

	return patterns
}
