package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	pkgerrors "beacon/pkg/errors"
)

type Repository interface {
	Create(ctx context.Context, rule *AutomationRule) error
	Get(ctx context.Context, tenantID, id string) (*AutomationRule, error)
	List(ctx context.Context, tenantID string, page Pagination) ([]AutomationRule, error)
	// ListEnabled returns enabled rules in creation order (oldest first),
	// the order the trigger evaluator runs them in.
	ListEnabled(ctx context.Context, tenantID string) ([]AutomationRule, error)
	Update(ctx context.Context, rule *AutomationRule) error
	Delete(ctx context.Context, tenantID, id string) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rule *AutomationRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	triggerJSON, actionsJSON, err := marshalRuleSpecs(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO automation_rules (id, tenant_id, name, enabled, trigger_spec, condition, actions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID, rule.TenantID, rule.Name, rule.Enabled,
		triggerJSON, rule.Condition, actionsJSON, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" {
				return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("rule with name '%s' already exists", rule.Name))
			}
		}
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique constraint") {
			return pkgerrors.ErrConflict.WithCause(err).WithDetail("message", fmt.Sprintf("rule with name '%s' already exists", rule.Name))
		}
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID, id string) (*AutomationRule, error) {
	query := `
		SELECT id, tenant_id, name, enabled, trigger_spec, condition, actions, created_at, updated_at
		FROM automation_rules
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	if rule.TenantID != tenantID {
		return nil, pkgerrors.ErrTenantMismatch.
			WithDetail("id", id).
			WithDetail("tenant_id", tenantID)
	}

	return rule, nil
}

func (r *PostgresRepository) List(ctx context.Context, tenantID string, page Pagination) ([]AutomationRule, error) {
	query := `
		SELECT id, tenant_id, name, enabled, trigger_spec, condition, actions, created_at, updated_at
		FROM automation_rules
		WHERE tenant_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	return collectRules(ctx, rows)
}

func (r *PostgresRepository) ListEnabled(ctx context.Context, tenantID string) ([]AutomationRule, error) {
	query := `
		SELECT id, tenant_id, name, enabled, trigger_spec, condition, actions, created_at, updated_at
		FROM automation_rules
		WHERE tenant_id = $1 AND enabled = TRUE
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	defer rows.Close()

	return collectRules(ctx, rows)
}

func (r *PostgresRepository) Update(ctx context.Context, rule *AutomationRule) error {
	rule.UpdatedAt = time.Now()

	triggerJSON, actionsJSON, err := marshalRuleSpecs(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE automation_rules
		SET name = $1, enabled = $2, trigger_spec = $3, condition = $4, actions = $5, updated_at = $6
		WHERE id = $7 AND tenant_id = $8
	`

	res, err := r.db.ExecContext(ctx, query,
		rule.Name, rule.Enabled, triggerJSON, rule.Condition, actionsJSON,
		rule.UpdatedAt, rule.ID, rule.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("id", rule.ID)
	}

	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tenantID, id string) error {
	query := `DELETE FROM automation_rules WHERE id = $1 AND tenant_id = $2`

	res, err := r.db.ExecContext(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return pkgerrors.ErrNotFound.WithDetail("id", id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*AutomationRule, error) {
	var rule AutomationRule
	var triggerJSON, actionsJSON []byte

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Enabled,
		&triggerJSON, &rule.Condition, &actionsJSON, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(triggerJSON, &rule.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger spec: %w", err)
	}
	if len(actionsJSON) > 0 {
		if err := json.Unmarshal(actionsJSON, &rule.Actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actions: %w", err)
		}
	}

	return &rule, nil
}

func collectRules(ctx context.Context, rows *sql.Rows) ([]AutomationRule, error) {
	var rules []AutomationRule
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}

	return rules, nil
}

func marshalRuleSpecs(rule *AutomationRule) ([]byte, []byte, error) {
	triggerJSON, err := json.Marshal(rule.Trigger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal trigger spec: %w", err)
	}
	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return triggerJSON, actionsJSON, nil
}
