package approvals

import "context"

type StoreAPI interface {
	HistoryWriter
	ListRules(ctx context.Context, tenantID string, filter Filter) ([]ApprovalRule, error)
	GetRule(ctx context.Context, tenantID, ruleID string) (ApprovalRule, error)
	CreateRule(ctx context.Context, rule ApprovalRule) (ApprovalRule, error)
	UpdateRule(ctx context.Context, rule ApprovalRule) (ApprovalRule, error)
	SetRuleActive(ctx context.Context, tenantID, ruleID string, active bool) (ApprovalRule, error)
	DeleteRule(ctx context.Context, tenantID, ruleID string) error
	ListHistory(ctx context.Context, tenantID string, filter HistoryFilter, limit, offset int) ([]HistoryEntry, error)
	CountHistory(ctx context.Context, tenantID string, filter HistoryFilter) (int, error)
}

// OrgDirectory supplies the org attributes used for matching.
type OrgDirectory interface {
	EmployeeOrg(ctx context.Context, tenantID, employeeID string) (Employee, error)
}

// TenantLister enumerates tenants that have at least one active rule.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}
