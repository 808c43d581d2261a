package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureMongoCollections creates the indexes backing the execution log,
// dead-letter queue, metrics snapshot and tenant state collections.
func EnsureMongoCollections(ctx context.Context, db *mongo.Database) error {
	if err := ensureIndexes(ctx, db, "execution_logs", []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "started_at", Value: -1}},
			Options: options.Index().SetName("idx_execution_logs_tenant_started"),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "rule_id", Value: 1}, {Key: "started_at", Value: -1}},
			Options: options.Index().SetName("idx_execution_logs_tenant_rule_started"),
		},
		{
			Keys:    bson.D{{Key: "execution_id", Value: 1}},
			Options: options.Index().SetName("idx_execution_logs_execution_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}, {Key: "started_at", Value: -1}},
			Options: options.Index().SetName("idx_execution_logs_tenant_status_started"),
		},
	}); err != nil {
		return err
	}

	if err := ensureIndexes(ctx, db, "dead_letter_items", []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "state", Value: 1}, {Key: "next_eligible_retry_at", Value: 1}},
			Options: options.Index().SetName("idx_dead_letter_state_next_retry"),
		},
		{
			Keys:    bson.D{{Key: "state", Value: 1}, {Key: "retrying_since", Value: 1}},
			Options: options.Index().SetName("idx_dead_letter_state_retrying_since"),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "state", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_dead_letter_tenant_state_created"),
		},
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "rule_id", Value: 1}},
			Options: options.Index().SetName("idx_dead_letter_tenant_rule"),
		},
	}); err != nil {
		return err
	}

	if err := ensureIndexes(ctx, db, "metrics_snapshots", []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "window_start", Value: 1}, {Key: "window_end", Value: 1}},
			Options: options.Index().SetName("idx_metrics_snapshots_tenant_window").SetUnique(true),
		},
	}); err != nil {
		return err
	}

	return ensureIndexes(ctx, db, "tenant_state", []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tenant_id", Value: 1}},
			Options: options.Index().SetName("idx_tenant_state_tenant").SetUnique(true),
		},
	})
}

func ensureIndexes(ctx context.Context, db *mongo.Database, collection string, indexes []mongo.IndexModel) error {
	_, err := db.Collection(collection).Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes for %s: %w", collection, err)
	}
	return nil
}
