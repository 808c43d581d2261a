package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"beacon/internal/constants"
)

type Repository interface {
	Create(ctx context.Context, item *DeadLetterItem) error
	Get(ctx context.Context, tenantID, id string) (*DeadLetterItem, error)
	// GetOpenByStimulus finds the unresolved item tracking a (rule, stimulus)
	// pair, if one exists.
	GetOpenByStimulus(ctx context.Context, tenantID, ruleID, stimulusID string) (*DeadLetterItem, error)
	Update(ctx context.Context, item *DeadLetterItem) error
	List(ctx context.Context, tenantID string, filter ListFilter) ([]DeadLetterItem, error)
	// FindDue returns pending items whose backoff has elapsed, oldest first.
	FindDue(ctx context.Context, now time.Time, limit int) ([]DeadLetterItem, error)
	// FindStaleRetrying returns items stuck in the retrying state since
	// before cutoff, typically after a crash between dispatch and settle.
	FindStaleRetrying(ctx context.Context, cutoff time.Time, limit int) ([]DeadLetterItem, error)
	CountPending(ctx context.Context) (int64, error)
	CountDeadLettered(ctx context.Context, tenantID string, start, end time.Time) (int64, error)
}

type mongoRepository struct {
	collection *mongo.Collection
}

func NewRepository(db *mongo.Database) Repository {
	return &mongoRepository{
		collection: db.Collection("dead_letter_items"),
	}
}

func (r *mongoRepository) Create(ctx context.Context, item *DeadLetterItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	_, err := r.collection.InsertOne(ctx, item)
	if err != nil {
		return fmt.Errorf("failed to create dead-letter item: %w", err)
	}

	return nil
}

func (r *mongoRepository) Get(ctx context.Context, tenantID, id string) (*DeadLetterItem, error) {
	filter := bson.M{"_id": id, "tenant_id": tenantID}

	var item DeadLetterItem
	err := r.collection.FindOne(ctx, filter).Decode(&item)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead-letter item: %w", err)
	}

	return &item, nil
}

func (r *mongoRepository) GetOpenByStimulus(ctx context.Context, tenantID, ruleID, stimulusID string) (*DeadLetterItem, error) {
	filter := bson.M{
		"tenant_id":   tenantID,
		"rule_id":     ruleID,
		"stimulus.id": stimulusID,
		"state":       bson.M{"$in": []State{StatePending, StateRetrying, StateDeadLettered}},
	}

	var item DeadLetterItem
	err := r.collection.FindOne(ctx, filter).Decode(&item)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead-letter item by stimulus: %w", err)
	}

	return &item, nil
}

func (r *mongoRepository) Update(ctx context.Context, item *DeadLetterItem) error {
	filter := bson.M{"_id": item.ID}
	update := bson.M{"$set": item}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update dead-letter item: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("dead-letter item not found")
	}

	return nil
}

func (r *mongoRepository) List(ctx context.Context, tenantID string, filter ListFilter) ([]DeadLetterItem, error) {
	query := bson.M{"tenant_id": tenantID}
	if filter.State != "" {
		query["state"] = filter.State
	}
	if filter.RuleID != "" {
		query["rule_id"] = filter.RuleID
	}

	limit := filter.Limit
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "last_failed_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter items: %w", err)
	}
	defer cursor.Close(ctx)

	var items []DeadLetterItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode dead-letter items: %w", err)
	}

	return items, nil
}

func (r *mongoRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]DeadLetterItem, error) {
	query := bson.M{
		"state":                  StatePending,
		"next_eligible_retry_at": bson.M{"$lte": now},
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "next_eligible_retry_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find due retries: %w", err)
	}
	defer cursor.Close(ctx)

	var items []DeadLetterItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode due retries: %w", err)
	}

	return items, nil
}

func (r *mongoRepository) FindStaleRetrying(ctx context.Context, cutoff time.Time, limit int) ([]DeadLetterItem, error) {
	query := bson.M{
		"state":          StateRetrying,
		"retrying_since": bson.M{"$lte": cutoff},
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "retrying_since", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale retrying items: %w", err)
	}
	defer cursor.Close(ctx)

	var items []DeadLetterItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode stale retrying items: %w", err)
	}

	return items, nil
}

func (r *mongoRepository) CountPending(ctx context.Context) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"state": bson.M{"$in": []State{StatePending, StateRetrying}},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending items: %w", err)
	}
	return count, nil
}

func (r *mongoRepository) CountDeadLettered(ctx context.Context, tenantID string, start, end time.Time) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"tenant_id":      tenantID,
		"state":          StateDeadLettered,
		"last_failed_at": bson.M{"$gte": start, "$lt": end},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count dead-lettered items: %w", err)
	}
	return count, nil
}
