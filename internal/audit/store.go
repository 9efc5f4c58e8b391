// Package audit is the audit store adapter. Every committed route mutation
// ends up here as one MongoDB document, keyed by the event id so redelivered
// events never produce duplicates.
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iamtahmad1/traffic-manager/internal/config"
	"github.com/iamtahmad1/traffic-manager/internal/events"
	"github.com/iamtahmad1/traffic-manager/internal/models"
	apperrors "github.com/iamtahmad1/traffic-manager/pkg/errors"
	"github.com/iamtahmad1/traffic-manager/pkg/observability"
	"github.com/iamtahmad1/traffic-manager/pkg/resilience"
)

// Limits on audit query page sizes
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// RouteRef identifies the route inside an audit document
type RouteRef struct {
	Tenant  string `bson:"tenant" json:"tenant"`
	Service string `bson:"service" json:"service"`
	Env     string `bson:"env" json:"env"`
	Version string `bson:"version" json:"version"`
}

// Document is the persisted form of one route change
type Document struct {
	EventID       string    `bson:"event_id" json:"event_id"`
	EventType     string    `bson:"event_type" json:"event_type"`
	Action        string    `bson:"action" json:"action"`
	Route         RouteRef  `bson:"route" json:"route"`
	URL           string    `bson:"url" json:"url"`
	PreviousURL   string    `bson:"previous_url,omitempty" json:"previous_url,omitempty"`
	PreviousState string    `bson:"previous_state,omitempty" json:"previous_state,omitempty"`
	ChangedBy     string    `bson:"changed_by,omitempty" json:"changed_by,omitempty"`
	OccurredAt    time.Time `bson:"occurred_at" json:"occurred_at"`
	ProcessedAt   time.Time `bson:"processed_at" json:"processed_at"`
	CorrelationID string    `bson:"correlation_id,omitempty" json:"correlation_id,omitempty"`
}

// DocumentFromEvent converts a route event into its audit document.
// An unparseable occurred_at falls back to the processing time.
func DocumentFromEvent(event *events.RouteEvent, processedAt time.Time) Document {
	occurredAt, err := time.Parse(time.RFC3339, event.OccurredAt)
	if err != nil {
		occurredAt = processedAt
	}

	return Document{
		EventID:   event.EventID,
		EventType: event.EventType,
		Action:    event.Action,
		Route: RouteRef{
			Tenant:  event.Tenant,
			Service: event.Service,
			Env:     event.Env,
			Version: event.Version,
		},
		URL:           event.URL,
		PreviousURL:   event.PreviousURL,
		PreviousState: event.PreviousState,
		ChangedBy:     event.ChangedBy,
		OccurredAt:    occurredAt,
		ProcessedAt:   processedAt,
		CorrelationID: event.CorrelationID,
	}
}

// Store is the MongoDB-backed audit store. Writes and queries go through the
// mongodb circuit breaker and retry budget.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	resilience *resilience.Manager
	logger     observability.Logger
	metrics    observability.MetricsClient
}

// New connects to MongoDB, verifies connectivity, and ensures the indexes
func New(ctx context.Context, cfg config.MongoConfig, manager *resilience.Manager, logger observability.Logger, metrics observability.MetricsClient) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, apperrors.Wrap(err, "MONGO_CONNECT_FAILED", apperrors.ClassUnavailable)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, apperrors.Wrap(err, "MONGO_CONNECT_FAILED", apperrors.ClassUnavailable)
	}

	store := &Store{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.AuditCollection),
		resilience: manager,
		logger:     logger,
		metrics:    metrics,
	}

	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// NewFromCollection wraps an existing collection. Used by tests.
func NewFromCollection(collection *mongo.Collection, manager *resilience.Manager, logger observability.Logger, metrics observability.MetricsClient) *Store {
	return &Store{collection: collection, resilience: manager, logger: logger, metrics: metrics}
}

// EnsureIndexes creates the audit indexes. Safe to call repeatedly.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "route.tenant", Value: 1},
				{Key: "route.service", Value: 1},
				{Key: "route.env", Value: 1},
				{Key: "route.version", Value: 1},
				{Key: "occurred_at", Value: -1},
			},
			Options: options.Index().SetName("route_occurred_at_idx"),
		},
		{
			Keys:    bson.D{{Key: "occurred_at", Value: -1}},
			Options: options.Index().SetName("occurred_at_idx"),
		},
		{
			Keys: bson.D{
				{Key: "action", Value: 1},
				{Key: "occurred_at", Value: -1},
			},
			Options: options.Index().SetName("action_occurred_at_idx"),
		},
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("event_id_idx").SetUnique(true),
		},
	}

	if _, err := s.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return apperrors.Wrap(err, "MONGO_INDEX_FAILED", apperrors.ClassUnavailable)
	}
	return nil
}

// Record persists the audit document for one event. Duplicate deliveries are
// absorbed by an upsert on event_id that only writes on first insert.
func (s *Store) Record(ctx context.Context, event *events.RouteEvent) error {
	doc := DocumentFromEvent(event, time.Now().UTC())

	start := time.Now()
	raw, err := s.execute(ctx, func(ctx context.Context) (interface{}, error) {
		result, err := s.collection.UpdateOne(ctx,
			bson.M{"event_id": doc.EventID},
			bson.M{"$setOnInsert": doc},
			options.Update().SetUpsert(true))
		if err != nil {
			return nil, apperrors.Wrap(err, "AUDIT_WRITE_FAILED", apperrors.ClassTransient).
				WithOperation("audit_record").
				WithCorrelationID(event.CorrelationID)
		}
		return result, nil
	})
	if s.metrics != nil {
		s.metrics.RecordDatabaseOperation("upsert", "route_events", err, time.Since(start))
	}
	if err != nil {
		return err
	}

	if raw.(*mongo.UpdateResult).UpsertedCount == 0 {
		if s.metrics != nil {
			s.metrics.IncrementCounterWithLabels("audit_events_duplicate_total", 1, nil)
		}
		if s.logger != nil {
			s.logger.Debug("duplicate audit event ignored", map[string]interface{}{
				"event_id": doc.EventID,
			})
		}
	}
	return nil
}

// QueryFilter narrows audit queries. Zero values mean "no constraint", so
// partial route filters (tenant only, tenant plus service) work too.
type QueryFilter struct {
	Tenant  string
	Service string
	Env     string
	Version string
	Action  string
	From    time.Time
	To      time.Time
	Limit   int64
}

// ForKey returns a filter matching exactly one route
func ForKey(key models.RouteKey) QueryFilter {
	return QueryFilter{
		Tenant:  key.Tenant,
		Service: key.Service,
		Env:     key.Env,
		Version: key.Version,
	}
}

// buildFilter translates a QueryFilter into the Mongo filter document
func buildFilter(f QueryFilter) bson.M {
	filter := bson.M{}
	if f.Tenant != "" {
		filter["route.tenant"] = f.Tenant
	}
	if f.Service != "" {
		filter["route.service"] = f.Service
	}
	if f.Env != "" {
		filter["route.env"] = f.Env
	}
	if f.Version != "" {
		filter["route.version"] = f.Version
	}
	if f.Action != "" {
		filter["action"] = f.Action
	}
	timeRange := bson.M{}
	if !f.From.IsZero() {
		timeRange["$gte"] = f.From
	}
	if !f.To.IsZero() {
		timeRange["$lte"] = f.To
	}
	if len(timeRange) > 0 {
		filter["occurred_at"] = timeRange
	}
	return filter
}

// clampLimit applies the default and maximum page sizes
func clampLimit(limit int64) int64 {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// Query returns matching audit documents, newest first
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Document, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}}).
		SetLimit(clampLimit(filter.Limit))

	raw, err := s.execute(ctx, func(ctx context.Context) (interface{}, error) {
		cursor, err := s.collection.Find(ctx, buildFilter(filter), opts)
		if err != nil {
			return nil, apperrors.Wrap(err, "AUDIT_QUERY_FAILED", apperrors.ClassTransient).
				WithOperation("audit_query").
				WithCorrelationID(observability.GetCorrelationID(ctx))
		}
		defer func() { _ = cursor.Close(ctx) }()

		var documents []Document
		if err := cursor.All(ctx, &documents); err != nil {
			return nil, apperrors.Wrap(err, "AUDIT_QUERY_FAILED", apperrors.ClassTransient).
				WithOperation("audit_query").
				WithCorrelationID(observability.GetCorrelationID(ctx))
		}
		return documents, nil
	})
	if err != nil {
		return nil, err
	}
	return raw.([]Document), nil
}

// execute routes one MongoDB operation through the mongodb breaker and
// retry budget. A nil manager calls the operation directly.
func (s *Store) execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	if s.resilience == nil {
		return op(ctx)
	}
	return s.resilience.ExecuteWithRetry(ctx, resilience.BreakerMongoDB, resilience.BudgetMongoDB, op)
}

// Ping verifies connectivity
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
