package rules

import (
	"context"
	"encoding/json"

	"beacon/internal/constants"
	pkgerrors "beacon/pkg/errors"
)

type Service interface {
	CreateRule(ctx context.Context, tenantID string, req CreateRuleRequest) (*AutomationRule, error)
	GetRule(ctx context.Context, tenantID, id string) (*AutomationRule, error)
	ListRules(ctx context.Context, tenantID string, page Pagination) ([]AutomationRule, error)
	UpdateRule(ctx context.Context, tenantID, id string, req UpdateRuleRequest) (*AutomationRule, error)
	DeleteRule(ctx context.Context, tenantID, id string) error
	GetRuleVersions(ctx context.Context, tenantID, ruleID string) ([]RuleVersion, error)
	GetChangeLogs(ctx context.Context, tenantID string, ruleID *string, limit int) ([]ChangeLog, error)
}

type service struct {
	repo           Repository
	versioningRepo VersioningRepository
	auditEnabled   bool
}

type ServiceOption func(*service)

func WithVersioning(versioningRepo VersioningRepository) ServiceOption {
	return func(s *service) {
		s.versioningRepo = versioningRepo
		s.auditEnabled = true
	}
}

func NewService(repo Repository, opts ...ServiceOption) Service {
	s := &service{
		repo:         repo,
		auditEnabled: false,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *service) CreateRule(ctx context.Context, tenantID string, req CreateRuleRequest) (*AutomationRule, error) {
	if err := ValidateCreateRule(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	rule := &AutomationRule{
		TenantID:  tenantID,
		Name:      req.Name,
		Trigger:   req.Trigger,
		Condition: req.Condition,
		Actions:   req.Actions,
		Enabled:   getEnabledValue(req.Enabled),
	}

	if err := s.repo.Create(ctx, rule); err != nil {
		if pkgerrors.IsConflict(err) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.createVersionAndChangeLog(ctx, rule, "create", nil)

	return rule, nil
}

func (s *service) GetRule(ctx context.Context, tenantID, id string) (*AutomationRule, error) {
	rule, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, s.passthroughOrInternal(err)
	}
	return rule, nil
}

func (s *service) ListRules(ctx context.Context, tenantID string, page Pagination) ([]AutomationRule, error) {
	if page.Limit <= 0 || page.Limit > constants.MaxLimit {
		page.Limit = constants.DefaultLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	rules, err := s.repo.List(ctx, tenantID, page)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return rules, nil
}

func (s *service) UpdateRule(ctx context.Context, tenantID, id string, req UpdateRuleRequest) (*AutomationRule, error) {
	rule, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, s.passthroughOrInternal(err)
	}

	if err := ValidateUpdateRule(req, rule); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	oldValue, _ := ruleToMap(rule)
	applyUpdate(rule, req)

	if err := s.repo.Update(ctx, rule); err != nil {
		return nil, s.passthroughOrInternal(err)
	}

	s.createVersionAndChangeLog(ctx, rule, "update", oldValue)

	return rule, nil
}

func (s *service) DeleteRule(ctx context.Context, tenantID, id string) error {
	rule, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return s.passthroughOrInternal(err)
	}

	oldValue, _ := ruleToMap(rule)

	if err := s.repo.Delete(ctx, tenantID, id); err != nil {
		return s.passthroughOrInternal(err)
	}

	if s.auditEnabled && s.versioningRepo != nil {
		log := s.buildChangeLog(rule, "delete", oldValue, nil, getChangedBy(ctx))
		_ = s.versioningRepo.CreateChangeLog(ctx, log)
	}

	return nil
}

func (s *service) GetRuleVersions(ctx context.Context, tenantID, ruleID string) ([]RuleVersion, error) {
	if s.versioningRepo == nil {
		return nil, pkgerrors.ErrInternal.WithDetail("message", "versioning not enabled")
	}
	versions, err := s.versioningRepo.GetVersions(ctx, tenantID, ruleID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return versions, nil
}

func (s *service) GetChangeLogs(ctx context.Context, tenantID string, ruleID *string, limit int) ([]ChangeLog, error) {
	if s.versioningRepo == nil {
		return nil, pkgerrors.ErrInternal.WithDetail("message", "change logging not enabled")
	}
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}
	logs, err := s.versioningRepo.GetChangeLogs(ctx, tenantID, ruleID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return logs, nil
}

// passthroughOrInternal keeps coded repository errors intact and wraps
// everything else as internal.
func (s *service) passthroughOrInternal(err error) error {
	if pkgerrors.IsNotFound(err) || pkgerrors.IsTenantMismatch(err) || pkgerrors.IsConflict(err) {
		return err
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
}

func (s *service) createVersionAndChangeLog(ctx context.Context, rule *AutomationRule, action string, oldValue map[string]interface{}) {
	if !s.auditEnabled || s.versioningRepo == nil {
		return
	}

	ruleJSON, err := ruleToJSON(rule)
	if err != nil {
		return
	}

	version := 1
	if nextVersion, err := s.versioningRepo.GetNextVersion(ctx, rule.ID); err == nil {
		version = nextVersion
	}

	if err := s.versioningRepo.CreateVersion(ctx, &RuleVersion{
		RuleID:    rule.ID,
		TenantID:  rule.TenantID,
		RuleData:  ruleJSON,
		Version:   version,
		ChangedBy: getChangedBy(ctx),
	}); err != nil {
		return
	}

	newValue, err := ruleToMap(rule)
	if err != nil {
		return
	}

	log := s.buildChangeLog(rule, action, oldValue, newValue, getChangedBy(ctx))
	_ = s.versioningRepo.CreateChangeLog(ctx, log)
}

func (s *service) buildChangeLog(rule *AutomationRule, action string, oldValue, newValue map[string]interface{}, changedBy string) *ChangeLog {
	ruleID := rule.ID
	return &ChangeLog{
		RuleID:    &ruleID,
		TenantID:  rule.TenantID,
		Action:    action,
		OldValue:  oldValue,
		NewValue:  newValue,
		ChangedBy: changedBy,
	}
}

func applyUpdate(rule *AutomationRule, req UpdateRuleRequest) {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Trigger != nil {
		rule.Trigger = *req.Trigger
	}
	if req.Condition != nil {
		rule.Condition = *req.Condition
	}
	if req.Actions != nil {
		rule.Actions = *req.Actions
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
}

func ruleToMap(rule *AutomationRule) (map[string]interface{}, error) {
	ruleData, err := json.Marshal(rule)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(ruleData, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func getEnabledValue(reqEnabled *bool) bool {
	if reqEnabled == nil {
		return true
	}
	return *reqEnabled
}

func getChangedBy(ctx context.Context) string {
	if userID := ctx.Value("user_id"); userID != nil {
		if id, ok := userID.(string); ok {
			return id
		}
	}
	return "system"
}
