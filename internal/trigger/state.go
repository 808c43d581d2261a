package trigger

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// TenantStateProvider supplies the tenant-level state document that condition
// predicates evaluate against (engagement scores, segment counts, etc.).
type TenantStateProvider interface {
	GetTenantState(ctx context.Context, tenantID string) (map[string]interface{}, error)
}

type mongoStateProvider struct {
	collection *mongo.Collection
}

func NewMongoStateProvider(db *mongo.Database) TenantStateProvider {
	return &mongoStateProvider{
		collection: db.Collection("tenant_state"),
	}
}

func (p *mongoStateProvider) GetTenantState(ctx context.Context, tenantID string) (map[string]interface{}, error) {
	var doc struct {
		TenantID string                 `bson:"tenant_id"`
		State    map[string]interface{} `bson:"state"`
	}

	err := p.collection.FindOne(ctx, bson.M{"tenant_id": tenantID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant state: %w", err)
	}

	if doc.State == nil {
		return map[string]interface{}{}, nil
	}
	return doc.State, nil
}

// StaticStateProvider serves a fixed state map. Used in tests and for
// deployments without a tenant state store.
type StaticStateProvider struct {
	States map[string]map[string]interface{}
}

func (p *StaticStateProvider) GetTenantState(ctx context.Context, tenantID string) (map[string]interface{}, error) {
	if state, ok := p.States[tenantID]; ok {
		return state, nil
	}
	return map[string]interface{}{}, nil
}
