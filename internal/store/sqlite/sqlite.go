// Package sqlite is an embedded implementation of approvals.StoreAPI backed by
// database/sql. It serves the admin CLI and tests; the API server uses the
// Postgres store in the approvals package.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"perfhub/internal/domain/approvals"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a second connection to ":memory:" would see an empty database
	db.SetMaxOpenConns(1)

	store := New(db)
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return store, nil
}

// New wraps an existing handle without touching the schema.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS approval_rules (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		rule_type TEXT NOT NULL CHECK (rule_type IN ('department','cost_center','individual')),
		approval_context TEXT NOT NULL,
		department_id TEXT NOT NULL DEFAULT '',
		cost_center_id TEXT NOT NULL DEFAULT '',
		employee_id TEXT NOT NULL DEFAULT '',
		approver_id TEXT NOT NULL,
		approver_level INTEGER NOT NULL DEFAULT 1,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_approval_rules_tenant_context ON approval_rules (tenant_id, approval_context, is_active);

	CREATE TABLE IF NOT EXISTS approval_rule_history (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		action TEXT NOT NULL,
		previous_data TEXT,
		new_data TEXT,
		changed_by TEXT NOT NULL DEFAULT '',
		changed_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_approval_rule_history_rule ON approval_rule_history (tenant_id, rule_id);
	`)
	return err
}

// stamp returns a strictly increasing timestamp so creation order survives
// clock ties.
func (s *Store) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Nanosecond)
	}
	s.last = now
	return now
}

const ruleColumns = `id, tenant_id, name, rule_type, approval_context, department_id, cost_center_id, employee_id,
	approver_id, approver_level, is_active, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (approvals.ApprovalRule, error) {
	var (
		rule                                   approvals.ApprovalRule
		ruleType, approvalContext              string
		departmentID, costCenterID, employeeID string
		createdAt, updatedAt                   string
	)
	if err := row.Scan(&rule.ID, &rule.TenantID, &rule.Name, &ruleType, &approvalContext,
		&departmentID, &costCenterID, &employeeID,
		&rule.ApproverID, &rule.ApproverLevel, &rule.IsActive, &rule.CreatedBy, &createdAt, &updatedAt); err != nil {
		return approvals.ApprovalRule{}, err
	}
	scope, err := approvals.NewScope(approvals.RuleType(ruleType), departmentID, costCenterID, employeeID)
	if err != nil {
		return approvals.ApprovalRule{}, fmt.Errorf("approval rule %s has invalid scope: %w", rule.ID, err)
	}
	rule.Scope = scope
	rule.Context = approvals.Context(approvalContext)
	if rule.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return approvals.ApprovalRule{}, err
	}
	if rule.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return approvals.ApprovalRule{}, err
	}
	return rule, nil
}

func (s *Store) ListRules(ctx context.Context, tenantID string, filter approvals.Filter) ([]approvals.ApprovalRule, error) {
	query := "SELECT " + ruleColumns + " FROM approval_rules WHERE tenant_id = ?"
	args := []any{tenantID}
	if filter.RuleType != "" {
		query += " AND rule_type = ?"
		args = append(args, string(filter.RuleType))
	}
	if filter.Context != "" {
		query += " AND approval_context = ?"
		args = append(args, string(filter.Context))
	}
	if filter.IsActive != nil {
		query += " AND is_active = ?"
		args = append(args, *filter.IsActive)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []approvals.ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) GetRule(ctx context.Context, tenantID, ruleID string) (approvals.ApprovalRule, error) {
	rule, err := scanRule(s.db.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM approval_rules WHERE tenant_id = ? AND id = ?", tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return approvals.ApprovalRule{}, approvals.ErrRuleNotFound
	}
	return rule, err
}

func (s *Store) CreateRule(ctx context.Context, rule approvals.ApprovalRule) (approvals.ApprovalRule, error) {
	now := s.stamp()
	rule.ID = uuid.NewString()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO approval_rules (id, tenant_id, name, rule_type, approval_context, department_id, cost_center_id, employee_id,
		approver_id, approver_level, is_active, created_by, created_at, updated_at)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rule.ID, rule.TenantID, rule.Name, string(rule.Scope.Type()), string(rule.Context),
		rule.Scope.DepartmentID(), rule.Scope.CostCenterID(), rule.Scope.EmployeeID(),
		rule.ApproverID, rule.ApproverLevel, rule.IsActive, rule.CreatedBy,
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return approvals.ApprovalRule{}, err
	}
	return rule, nil
}

func (s *Store) UpdateRule(ctx context.Context, rule approvals.ApprovalRule) (approvals.ApprovalRule, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE approval_rules
	SET name = ?, rule_type = ?, approval_context = ?, department_id = ?, cost_center_id = ?, employee_id = ?,
		approver_id = ?, approver_level = ?, updated_at = ?
	WHERE tenant_id = ? AND id = ?`,
		rule.Name, string(rule.Scope.Type()), string(rule.Context),
		rule.Scope.DepartmentID(), rule.Scope.CostCenterID(), rule.Scope.EmployeeID(),
		rule.ApproverID, rule.ApproverLevel, s.stamp().Format(timeLayout), rule.TenantID, rule.ID)
	if err := affectedOne(res, err); err != nil {
		return approvals.ApprovalRule{}, err
	}
	return s.GetRule(ctx, rule.TenantID, rule.ID)
}

func (s *Store) SetRuleActive(ctx context.Context, tenantID, ruleID string, active bool) (approvals.ApprovalRule, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE approval_rules SET is_active = ?, updated_at = ? WHERE tenant_id = ? AND id = ?",
		active, s.stamp().Format(timeLayout), tenantID, ruleID)
	if err := affectedOne(res, err); err != nil {
		return approvals.ApprovalRule{}, err
	}
	return s.GetRule(ctx, tenantID, ruleID)
}

func (s *Store) DeleteRule(ctx context.Context, tenantID, ruleID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM approval_rules WHERE tenant_id = ? AND id = ?", tenantID, ruleID)
	return affectedOne(res, err)
}

func (s *Store) AppendHistory(ctx context.Context, entry approvals.HistoryEntry) error {
	changedAt := entry.ChangedAt
	if changedAt.IsZero() {
		changedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO approval_rule_history (id, tenant_id, rule_id, action, previous_data, new_data, changed_by, changed_at)
	VALUES (?,?,?,?,?,?,?,?)`,
		uuid.NewString(), entry.TenantID, entry.RuleID, string(entry.Action),
		nullableJSON(entry.PreviousData), nullableJSON(entry.NewData), entry.ChangedBy, changedAt.UTC().Format(timeLayout))
	return err
}

func (s *Store) CountHistory(ctx context.Context, tenantID string, filter approvals.HistoryFilter) (int, error) {
	query, args := historyQuery("SELECT COUNT(1)", tenantID, filter)
	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ListHistory(ctx context.Context, tenantID string, filter approvals.HistoryFilter, limit, offset int) ([]approvals.HistoryEntry, error) {
	query, args := historyQuery("SELECT id, tenant_id, rule_id, action, previous_data, new_data, changed_by, changed_at", tenantID, filter)
	query += " ORDER BY changed_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []approvals.HistoryEntry
	for rows.Next() {
		var (
			entry          approvals.HistoryEntry
			action         string
			previous, next sql.NullString
			changedAt      string
		)
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.RuleID, &action, &previous, &next, &entry.ChangedBy, &changedAt); err != nil {
			return nil, err
		}
		entry.Action = approvals.HistoryAction(action)
		if previous.Valid {
			entry.PreviousData = []byte(previous.String)
		}
		if next.Valid {
			entry.NewData = []byte(next.String)
		}
		if entry.ChangedAt, err = time.Parse(timeLayout, changedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func historyQuery(prefix, tenantID string, filter approvals.HistoryFilter) (string, []any) {
	query := prefix + " FROM approval_rule_history WHERE tenant_id = ?"
	args := []any{tenantID}
	if filter.RuleID != "" {
		query += " AND rule_id = ?"
		args = append(args, filter.RuleID)
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, string(filter.Action))
	}
	return query, args
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return approvals.ErrRuleNotFound
	}
	return nil
}

func nullableJSON(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}

func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM approval_rules WHERE is_active = 1 ORDER BY tenant_id`)
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
