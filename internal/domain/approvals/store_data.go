package approvals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

const ruleColumns = `id::text, tenant_id::text, COALESCE(name, ''), rule_type, approval_context,
           COALESCE(department_id, ''), COALESCE(cost_center_id, ''), COALESCE(employee_id, ''),
           approver_id, approver_level, is_active, COALESCE(created_by, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (ApprovalRule, error) {
	var (
		rule                                   ApprovalRule
		ruleType, approvalContext              string
		departmentID, costCenterID, employeeID string
	)
	if err := row.Scan(&rule.ID, &rule.TenantID, &rule.Name, &ruleType, &approvalContext,
		&departmentID, &costCenterID, &employeeID,
		&rule.ApproverID, &rule.ApproverLevel, &rule.IsActive, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return ApprovalRule{}, err
	}
	scope, err := NewScope(RuleType(ruleType), departmentID, costCenterID, employeeID)
	if err != nil {
		return ApprovalRule{}, fmt.Errorf("approval rule %s has invalid scope: %w", rule.ID, err)
	}
	rule.Scope = scope
	rule.Context = Context(approvalContext)
	return rule, nil
}

func (s *Store) ListRules(ctx context.Context, tenantID string, filter Filter) ([]ApprovalRule, error) {
	query := "SELECT " + ruleColumns + " FROM approval_rules WHERE tenant_id::text = $1"
	args := []any{tenantID}
	if filter.RuleType != "" {
		query += fmt.Sprintf(" AND rule_type = $%d", len(args)+1)
		args = append(args, string(filter.RuleType))
	}
	if filter.Context != "" {
		query += fmt.Sprintf(" AND approval_context = $%d", len(args)+1)
		args = append(args, string(filter.Context))
	}
	if filter.IsActive != nil {
		query += fmt.Sprintf(" AND is_active = $%d", len(args)+1)
		args = append(args, *filter.IsActive)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) GetRule(ctx context.Context, tenantID, ruleID string) (ApprovalRule, error) {
	rule, err := scanRule(s.DB.QueryRow(ctx, "SELECT "+ruleColumns+" FROM approval_rules WHERE tenant_id::text = $1 AND id::text = $2", tenantID, ruleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ApprovalRule{}, ErrRuleNotFound
	}
	return rule, err
}

func (s *Store) CreateRule(ctx context.Context, rule ApprovalRule) (ApprovalRule, error) {
	return scanRule(s.DB.QueryRow(ctx, `
    INSERT INTO approval_rules (tenant_id, name, rule_type, approval_context, department_id, cost_center_id, employee_id,
                                approver_id, approver_level, is_active, created_by)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    RETURNING `+ruleColumns,
		rule.TenantID, nullIfEmpty(rule.Name), string(rule.Scope.Type()), string(rule.Context),
		nullIfEmpty(rule.Scope.DepartmentID()), nullIfEmpty(rule.Scope.CostCenterID()), nullIfEmpty(rule.Scope.EmployeeID()),
		rule.ApproverID, rule.ApproverLevel, rule.IsActive, nullIfEmpty(rule.CreatedBy)))
}

func (s *Store) UpdateRule(ctx context.Context, rule ApprovalRule) (ApprovalRule, error) {
	updated, err := scanRule(s.DB.QueryRow(ctx, `
    UPDATE approval_rules
    SET name = $1, rule_type = $2, approval_context = $3, department_id = $4, cost_center_id = $5, employee_id = $6,
        approver_id = $7, approver_level = $8, updated_at = now()
    WHERE tenant_id::text = $9 AND id::text = $10
    RETURNING `+ruleColumns,
		nullIfEmpty(rule.Name), string(rule.Scope.Type()), string(rule.Context),
		nullIfEmpty(rule.Scope.DepartmentID()), nullIfEmpty(rule.Scope.CostCenterID()), nullIfEmpty(rule.Scope.EmployeeID()),
		rule.ApproverID, rule.ApproverLevel, rule.TenantID, rule.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ApprovalRule{}, ErrRuleNotFound
	}
	return updated, err
}

func (s *Store) SetRuleActive(ctx context.Context, tenantID, ruleID string, active bool) (ApprovalRule, error) {
	updated, err := scanRule(s.DB.QueryRow(ctx, `
    UPDATE approval_rules
    SET is_active = $1, updated_at = now()
    WHERE tenant_id::text = $2 AND id::text = $3
    RETURNING `+ruleColumns, active, tenantID, ruleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ApprovalRule{}, ErrRuleNotFound
	}
	return updated, err
}

func (s *Store) DeleteRule(ctx context.Context, tenantID, ruleID string) error {
	tag, err := s.DB.Exec(ctx, "DELETE FROM approval_rules WHERE tenant_id::text = $1 AND id::text = $2", tenantID, ruleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *Store) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	changedAt := entry.ChangedAt
	if changedAt.IsZero() {
		changedAt = time.Now().UTC()
	}
	_, err := s.DB.Exec(ctx, `
    INSERT INTO approval_rule_history (tenant_id, rule_id, action, previous_data, new_data, changed_by, changed_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7)
  `, entry.TenantID, entry.RuleID, string(entry.Action), nullIfEmptyJSON(entry.PreviousData), nullIfEmptyJSON(entry.NewData), entry.ChangedBy, changedAt)
	return err
}

func (s *Store) CountHistory(ctx context.Context, tenantID string, filter HistoryFilter) (int, error) {
	query, args := historyQuery("SELECT COUNT(1)", tenantID, filter)
	var total int
	if err := s.DB.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListHistory(ctx context.Context, tenantID string, filter HistoryFilter, limit, offset int) ([]HistoryEntry, error) {
	query, args := historyQuery("SELECT id::text, tenant_id::text, rule_id::text, action, previous_data, new_data, COALESCE(changed_by, ''), changed_at", tenantID, filter)
	query += fmt.Sprintf(" ORDER BY changed_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var action string
		var previous, next []byte
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.RuleID, &action, &previous, &next, &entry.ChangedBy, &entry.ChangedAt); err != nil {
			return nil, err
		}
		entry.Action = HistoryAction(action)
		entry.PreviousData = previous
		entry.NewData = next
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func historyQuery(prefix, tenantID string, filter HistoryFilter) (string, []any) {
	query := prefix + " FROM approval_rule_history WHERE tenant_id::text = $1"
	args := []any{tenantID}
	if filter.RuleID != "" {
		query += fmt.Sprintf(" AND rule_id::text = $%d", len(args)+1)
		args = append(args, filter.RuleID)
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", len(args)+1)
		args = append(args, string(filter.Action))
	}
	return query, args
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullIfEmptyJSON(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}

func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT DISTINCT tenant_id::text FROM approval_rules WHERE is_active ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
