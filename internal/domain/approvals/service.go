package approvals

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"perfhub/internal/platform/metrics"
)

type Service struct {
	store   StoreAPI
	org     OrgDirectory
	history *HistoryRecorder
	log     *zap.Logger
	metrics *metrics.Collector
}

func NewService(store StoreAPI, org OrgDirectory, log *zap.Logger, collector *metrics.Collector) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   store,
		org:     org,
		history: NewHistoryRecorder(store, log, collector),
		log:     log,
		metrics: collector,
	}
}

func (s *Service) ListRules(ctx context.Context, tenantID string, filter Filter) ([]ApprovalRule, error) {
	v := &validator{}
	if filter.RuleType != "" && !filter.RuleType.Valid() {
		v.add("ruleType", "must be one of "+strings.Join(ruleTypeStrings(), ", "))
	}
	if filter.Context != "" && !filter.Context.Valid() {
		v.add("approvalContext", "must be one of "+strings.Join(contextStrings(), ", "))
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	return s.store.ListRules(ctx, tenantID, filter)
}

// ResolveApprover reloads the active rules for the context on every call.
func (s *Service) ResolveApprover(ctx context.Context, tenantID string, approvalContext Context, employee Employee) (Approver, bool, error) {
	if !approvalContext.Valid() {
		v := &validator{}
		v.add("approvalContext", "must be one of "+strings.Join(contextStrings(), ", "))
		return Approver{}, false, v.err()
	}
	active := true
	rules, err := s.store.ListRules(ctx, tenantID, Filter{Context: approvalContext, IsActive: &active})
	if err != nil {
		return Approver{}, false, err
	}
	approver, ok := ResolveApprover(rules, approvalContext, employee)
	s.metrics.RecordResolution(ok)
	return approver, ok, nil
}

// ResolveForEmployee looks up the employee's department and cost center
// before resolving.
func (s *Service) ResolveForEmployee(ctx context.Context, tenantID string, approvalContext Context, employeeID string) (Approver, bool, error) {
	if strings.TrimSpace(employeeID) == "" {
		v := &validator{}
		v.add("employeeId", "required")
		return Approver{}, false, v.err()
	}
	if s.org == nil {
		return Approver{}, false, ErrNoOrgDirectory
	}
	employee, err := s.org.EmployeeOrg(ctx, tenantID, employeeID)
	if err != nil {
		return Approver{}, false, err
	}
	return s.ResolveApprover(ctx, tenantID, approvalContext, employee)
}

func (s *Service) FindConflicts(ctx context.Context, tenantID string) ([]ConflictGroup, error) {
	active := true
	rules, err := s.store.ListRules(ctx, tenantID, Filter{IsActive: &active})
	if err != nil {
		return nil, err
	}
	groups := FindConflicts(rules)
	s.metrics.RecordConflictScan(len(groups))
	return groups, nil
}

// MutateRule applies one lifecycle action. Each successful call records
// exactly one history entry; failed calls record none.
func (s *Service) MutateRule(ctx context.Context, tenantID, actor string, m Mutation) (ApprovalRule, error) {
	if m.Action != MutationCreate && strings.TrimSpace(m.RuleID) == "" {
		v := &validator{}
		v.add("id", "required")
		return ApprovalRule{}, v.err()
	}

	var (
		previous *ApprovalRule
		result   ApprovalRule
		err      error
	)
	switch m.Action {
	case MutationCreate:
		result, err = s.create(ctx, tenantID, actor, m.Input)
	case MutationUpdate:
		previous, result, err = s.update(ctx, tenantID, m.RuleID, m.Input)
	case MutationDeactivate:
		previous, result, err = s.setActive(ctx, tenantID, m.RuleID, false)
	case MutationReactivate:
		previous, result, err = s.setActive(ctx, tenantID, m.RuleID, true)
	case MutationDelete:
		previous, err = s.delete(ctx, tenantID, m.RuleID)
	default:
		v := &validator{}
		v.add("action", "must be one of create, update, deactivate, reactivate, delete")
		return ApprovalRule{}, v.err()
	}
	if err != nil {
		return ApprovalRule{}, err
	}

	if m.Action == MutationDelete {
		s.history.Record(ctx, tenantID, previous.ID, HistoryDeleted, previous, nil, actor)
		return *previous, nil
	}
	var before any
	if previous != nil {
		before = previous
	}
	s.history.Record(ctx, tenantID, result.ID, m.Action.historyAction(), before, result, actor)
	return result, nil
}

func (s *Service) CreateRule(ctx context.Context, tenantID, actor string, input RuleInput) (ApprovalRule, error) {
	return s.MutateRule(ctx, tenantID, actor, Mutation{Action: MutationCreate, Input: input})
}

func (s *Service) UpdateRule(ctx context.Context, tenantID, actor, ruleID string, input RuleInput) (ApprovalRule, error) {
	return s.MutateRule(ctx, tenantID, actor, Mutation{Action: MutationUpdate, RuleID: ruleID, Input: input})
}

func (s *Service) DeactivateRule(ctx context.Context, tenantID, actor, ruleID string) (ApprovalRule, error) {
	return s.MutateRule(ctx, tenantID, actor, Mutation{Action: MutationDeactivate, RuleID: ruleID})
}

func (s *Service) ReactivateRule(ctx context.Context, tenantID, actor, ruleID string) (ApprovalRule, error) {
	return s.MutateRule(ctx, tenantID, actor, Mutation{Action: MutationReactivate, RuleID: ruleID})
}

func (s *Service) DeleteRule(ctx context.Context, tenantID, actor, ruleID string) (ApprovalRule, error) {
	return s.MutateRule(ctx, tenantID, actor, Mutation{Action: MutationDelete, RuleID: ruleID})
}

func (s *Service) ListHistory(ctx context.Context, tenantID string, filter HistoryFilter, limit, offset int) ([]HistoryEntry, int, error) {
	if filter.Action != "" && !filter.Action.Valid() {
		v := &validator{}
		v.add("action", "must be a known history action")
		return nil, 0, v.err()
	}
	total, err := s.store.CountHistory(ctx, tenantID, filter)
	if err != nil {
		return nil, 0, err
	}
	entries, err := s.store.ListHistory(ctx, tenantID, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Service) create(ctx context.Context, tenantID, actor string, input RuleInput) (ApprovalRule, error) {
	scope, err := input.validate()
	if err != nil {
		return ApprovalRule{}, err
	}
	return s.store.CreateRule(ctx, ApprovalRule{
		TenantID:      tenantID,
		Name:          strings.TrimSpace(input.Name),
		Scope:         scope,
		Context:       input.Context,
		ApproverID:    strings.TrimSpace(input.ApproverID),
		ApproverLevel: input.level(),
		IsActive:      true,
		CreatedBy:     actor,
	})
}

func (s *Service) update(ctx context.Context, tenantID, ruleID string, input RuleInput) (*ApprovalRule, ApprovalRule, error) {
	scope, err := input.validate()
	if err != nil {
		return nil, ApprovalRule{}, err
	}
	current, err := s.store.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, ApprovalRule{}, err
	}
	if !current.IsActive {
		return nil, ApprovalRule{}, ErrInvalidTransition
	}
	next := current
	next.Name = strings.TrimSpace(input.Name)
	next.Scope = scope
	next.Context = input.Context
	next.ApproverID = strings.TrimSpace(input.ApproverID)
	next.ApproverLevel = input.level()
	updated, err := s.store.UpdateRule(ctx, next)
	if err != nil {
		return nil, ApprovalRule{}, err
	}
	return &current, updated, nil
}

func (s *Service) setActive(ctx context.Context, tenantID, ruleID string, active bool) (*ApprovalRule, ApprovalRule, error) {
	current, err := s.store.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, ApprovalRule{}, err
	}
	if current.IsActive == active {
		return nil, ApprovalRule{}, ErrInvalidTransition
	}
	updated, err := s.store.SetRuleActive(ctx, tenantID, ruleID, active)
	if err != nil {
		return nil, ApprovalRule{}, err
	}
	return &current, updated, nil
}

func (s *Service) delete(ctx context.Context, tenantID, ruleID string) (*ApprovalRule, error) {
	current, err := s.store.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteRule(ctx, tenantID, ruleID); err != nil {
		return nil, err
	}
	return &current, nil
}
