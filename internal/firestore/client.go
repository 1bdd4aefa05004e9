package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/hwickes/archive-search/internal/config"
	"github.com/hwickes/archive-search/internal/models"
	"github.com/hwickes/archive-search/internal/observability"
)

type Client struct {
	client  *firestore.Client
	cfg     config.FirestoreConfig
	logger  *zap.Logger
}

func NewClient(ctx context.Context, cfg config.FirestoreConfig, logger *zap.Logger) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	logger.Info("firestore client connected", zap.String("project", cfg.ProjectID))

	return &Client{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (c *Client) GetMulti(ctx context.Context, collection string, docIDs []string) (map[string]map[string]any, error) {
	ctx, span := observability.StartSpan(ctx, "firestore.get_multi",
		attribute.String("collection", collection),
		attribute.Int("count", len(docIDs)),
	)
	defer span.End()

	result := make(map[string]map[string]any, len(docIDs))

	batchSize := c.cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	for i := 0; i < len(docIDs); i += batchSize {
		end := i + batchSize
		if end > len(docIDs) {
			end = len(docIDs)
		}
		batch := docIDs[i:end]

		// Each batch gets its own timeout so sequential batches don't starve.
		batchCtx, batchCancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)

		refs := make([]*firestore.DocumentRef, len(batch))
		for j, id := range batch {
			refs[j] = c.client.Collection(collection).Doc(id)
		}

		docs, err := c.client.GetAll(batchCtx, refs)
		batchCancel()
		if err != nil {
			return nil, fmt.Errorf("firestore get_all batch %d: %w", i/batchSize, err)
		}

		for _, doc := range docs {
			if doc.Exists() {
				result[doc.Ref.ID] = doc.Data()
			}
		}
	}

	return result, nil
}

func (c *Client) HydrateResults(ctx context.Context, results []models.SearchResult, collection string) ([]models.SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}

	docs, err := c.GetMulti(ctx, collection, ids)
	if err != nil {
		c.logger.Warn("hydration failed, returning unhydrated results", zap.Error(err))
		return results, nil
	}

	for i, r := range results {
		if doc, ok := docs[r.ID]; ok {
			if results[i].Fields == nil {
				results[i].Fields = make(map[string]any)
			}
			for k, v := range doc {
				results[i].Fields[k] = v
			}
		}
	}

	return results, nil
}

// ChangeListener tails a manifest collection's snapshot stream and feeds
// each mutation to the indexing pipeline. It is the direct alternative to the
// Kafka feed for deployments where writers go straight to Firestore.
type ChangeListener struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
	handler    func(context.Context, *models.ChangeEvent) error
}

func (c *Client) NewChangeListener(collection string, handler func(context.Context, *models.ChangeEvent) error) *ChangeListener {
	return &ChangeListener{
		client:     c.client,
		collection: collection,
		logger:     c.logger,
		handler:    handler,
	}
}

// Listen blocks until ctx is cancelled. Removed documents still carry their
// last snapshot body, so deletes flowing through here tombstone every
// language's indexables.
func (cl *ChangeListener) Listen(ctx context.Context) error {
	snapIter := cl.client.Collection(cl.collection).Snapshots(ctx)
	defer snapIter.Stop()

	for {
		snap, err := snapIter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cl.logger.Error("snapshot iterator error", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, change := range snap.Changes {
			event := changeToEvent(change, cl.collection)
			if event == nil {
				continue
			}
			if err := cl.handler(ctx, event); err != nil {
				cl.logger.Error("change event handler error",
					zap.String("doc_id", event.DocumentID),
					zap.String("type", event.Type),
					zap.Error(err),
				)
			}
		}
	}
}

// changeToEvent maps a snapshot change onto the pipeline's event model. The
// document's own update time becomes the event timestamp and version so
// replays through the listener order the same way Kafka-delivered events do.
func changeToEvent(change firestore.DocumentChange, collection string) *models.ChangeEvent {
	var eventType string
	switch change.Kind {
	case firestore.DocumentAdded:
		eventType = "CREATE"
	case firestore.DocumentModified:
		eventType = "UPDATE"
	case firestore.DocumentRemoved:
		eventType = "DELETE"
	default:
		return nil
	}

	ts := change.Doc.UpdateTime
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return &models.ChangeEvent{
		Type:       eventType,
		DocumentID: change.Doc.Ref.ID,
		Collection: collection,
		Document:   change.Doc.Data(),
		Timestamp:  ts.UTC(),
		Version:    ts.UnixNano(),
	}
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	iter := c.client.Collection("_health_check").Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	// iterator.Done means the collection is empty, which still proves reachability.
	if err != nil && err != iterator.Done {
		return fmt.Errorf("firestore health check: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
