package executor

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoStateSink struct {
	collection *mongo.Collection
}

// NewMongoStateSink writes tag, score and field mutations into the tenant
// state document read back by the trigger evaluator.
func NewMongoStateSink(db *mongo.Database) StateSink {
	return &mongoStateSink{
		collection: db.Collection("tenant_state"),
	}
}

func (s *mongoStateSink) ApplyTag(ctx context.Context, tenantID, tag string, remove bool) error {
	var update bson.M
	if remove {
		update = bson.M{"$pull": bson.M{"state.tags": tag}}
	} else {
		update = bson.M{"$addToSet": bson.M{"state.tags": tag}}
	}

	_, err := s.collection.UpdateOne(ctx,
		bson.M{"tenant_id": tenantID},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to apply tag: %w", err)
	}
	return nil
}

func (s *mongoStateSink) AdjustScore(ctx context.Context, tenantID, metric string, delta float64) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"tenant_id": tenantID},
		bson.M{"$inc": bson.M{"state.scores." + metric: delta}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to adjust score: %w", err)
	}
	return nil
}

func (s *mongoStateSink) SetField(ctx context.Context, tenantID, field string, value interface{}) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"tenant_id": tenantID},
		bson.M{"$set": bson.M{"state.fields." + field: value}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to set field: %w", err)
	}
	return nil
}
