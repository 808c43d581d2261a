package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"beacon/internal/constants"
)

type LogRepository interface {
	Append(ctx context.Context, log *ExecutionLog) error
	List(ctx context.Context, tenantID string, filter ListLogsFilter) ([]ExecutionLog, error)
	// CountByStatus aggregates log entries in a window, grouped by status.
	CountByStatus(ctx context.Context, tenantID string, window Window) (map[string]int64, error)
	// FirstSuccess returns a rule's earliest successful execution, or nil
	// if it has never succeeded.
	FirstSuccess(ctx context.Context, tenantID, ruleID string) (*ExecutionLog, error)
}

type mongoLogRepository struct {
	collection *mongo.Collection
}

func NewLogRepository(db *mongo.Database) LogRepository {
	return &mongoLogRepository{
		collection: db.Collection("execution_logs"),
	}
}

func (r *mongoLogRepository) Append(ctx context.Context, log *ExecutionLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}

	_, err := r.collection.InsertOne(ctx, log)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}

	return nil
}

func (r *mongoLogRepository) List(ctx context.Context, tenantID string, filter ListLogsFilter) ([]ExecutionLog, error) {
	query := bson.M{"tenant_id": tenantID}
	if filter.RuleID != "" {
		query["rule_id"] = filter.RuleID
	}
	if filter.Window != nil {
		query["started_at"] = bson.M{
			"$gte": filter.Window.Start,
			"$lt":  filter.Window.End,
		}
	}

	limit := filter.Limit
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer cursor.Close(ctx)

	var logs []ExecutionLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("failed to decode execution logs: %w", err)
	}

	return logs, nil
}

func (r *mongoLogRepository) CountByStatus(ctx context.Context, tenantID string, window Window) (map[string]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"tenant_id":  tenantID,
			"started_at": bson.M{"$gte": window.Start, "$lt": window.End},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate execution logs: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[string]int64)
	for cursor.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			Count  int64  `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode aggregation row: %w", err)
		}
		counts[row.Status] = row.Count
	}

	return counts, nil
}

func (r *mongoLogRepository) FirstSuccess(ctx context.Context, tenantID, ruleID string) (*ExecutionLog, error) {
	query := bson.M{
		"tenant_id": tenantID,
		"rule_id":   ruleID,
		"status":    "success",
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "started_at", Value: 1}})

	var log ExecutionLog
	err := r.collection.FindOne(ctx, query, opts).Decode(&log)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find first success: %w", err)
	}

	return &log, nil
}

type SnapshotRepository interface {
	Upsert(ctx context.Context, snapshot *MetricsSnapshot) error
	Get(ctx context.Context, tenantID string, window Window) (*MetricsSnapshot, error)
}

type mongoSnapshotRepository struct {
	collection *mongo.Collection
}

func NewSnapshotRepository(db *mongo.Database) SnapshotRepository {
	return &mongoSnapshotRepository{
		collection: db.Collection("metrics_snapshots"),
	}
}

func (r *mongoSnapshotRepository) Upsert(ctx context.Context, snapshot *MetricsSnapshot) error {
	filter := bson.M{
		"tenant_id":    snapshot.TenantID,
		"window_start": snapshot.PeriodStart,
		"window_end":   snapshot.PeriodEnd,
	}

	_, err := r.collection.UpdateOne(ctx, filter,
		bson.M{"$set": snapshot},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert metrics snapshot: %w", err)
	}

	return nil
}

func (r *mongoSnapshotRepository) Get(ctx context.Context, tenantID string, window Window) (*MetricsSnapshot, error) {
	filter := bson.M{
		"tenant_id":    tenantID,
		"window_start": window.Start,
		"window_end":   window.End,
	}

	var snapshot MetricsSnapshot
	err := r.collection.FindOne(ctx, filter).Decode(&snapshot)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics snapshot: %w", err)
	}

	return &snapshot, nil
}

// TenantMetricsProvider reads the externally supplied aggregate tenant
// metrics that impact analysis compares across windows.
type TenantMetricsProvider interface {
	GetWindowMetrics(ctx context.Context, tenantID string, window Window) (map[string]float64, error)
}

type mongoTenantMetricsProvider struct {
	collection *mongo.Collection
}

func NewTenantMetricsProvider(db *mongo.Database) TenantMetricsProvider {
	return &mongoTenantMetricsProvider{
		collection: db.Collection("tenant_metrics"),
	}
}

func (p *mongoTenantMetricsProvider) GetWindowMetrics(ctx context.Context, tenantID string, window Window) (map[string]float64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"tenant_id":   tenantID,
			"recorded_at": bson.M{"$gte": window.Start, "$lt": window.End},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$metric",
			"value": bson.M{"$avg": "$value"},
		}}},
	}

	cursor, err := p.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tenant metrics: %w", err)
	}
	defer cursor.Close(ctx)

	values := make(map[string]float64)
	for cursor.Next(ctx) {
		var row struct {
			Metric string  `bson:"_id"`
			Value  float64 `bson:"value"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode metric row: %w", err)
		}
		values[row.Metric] = row.Value
	}

	return values, nil
}
