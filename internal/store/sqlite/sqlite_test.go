package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfhub/internal/domain/approvals"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func departmentRule(t *testing.T, tenantID, dep string, approvalContext approvals.Context, approver string) approvals.ApprovalRule {
	t.Helper()
	scope, err := approvals.DepartmentScope(dep)
	require.NoError(t, err)
	return approvals.ApprovalRule{
		TenantID:      tenantID,
		Name:          "dept " + dep,
		Scope:         scope,
		Context:       approvalContext,
		ApproverID:    approver,
		ApproverLevel: 1,
		IsActive:      true,
		CreatedBy:     "admin",
	}
}

func TestRuleLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.CreateRule(ctx, departmentRule(t, "t1", "7", approvals.ContextGoals, "42"))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := store.GetRule(ctx, "t1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Scope, got.Scope)
	assert.Equal(t, approvals.ContextGoals, got.Context)
	assert.True(t, got.IsActive)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

	_, err = store.GetRule(ctx, "t2", created.ID)
	assert.ErrorIs(t, err, approvals.ErrRuleNotFound)

	scope, err := approvals.IndividualScope("5")
	require.NoError(t, err)
	got.Scope = scope
	got.ApproverID = "43"
	updated, err := store.UpdateRule(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "5", updated.Scope.EmployeeID())
	assert.Equal(t, "43", updated.ApproverID)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	inactive, err := store.SetRuleActive(ctx, "t1", created.ID, false)
	require.NoError(t, err)
	assert.False(t, inactive.IsActive)

	require.NoError(t, store.DeleteRule(ctx, "t1", created.ID))
	assert.ErrorIs(t, store.DeleteRule(ctx, "t1", created.ID), approvals.ErrRuleNotFound)
	_, err = store.SetRuleActive(ctx, "t1", created.ID, true)
	assert.ErrorIs(t, err, approvals.ErrRuleNotFound)
}

func TestListRulesOrderAndFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	first, err := store.CreateRule(ctx, departmentRule(t, "t1", "7", approvals.ContextBonus, "42"))
	require.NoError(t, err)
	second, err := store.CreateRule(ctx, departmentRule(t, "t1", "7", approvals.ContextBonus, "99"))
	require.NoError(t, err)
	_, err = store.CreateRule(ctx, departmentRule(t, "t1", "8", approvals.ContextGoals, "1"))
	require.NoError(t, err)
	_, err = store.CreateRule(ctx, departmentRule(t, "t2", "7", approvals.ContextBonus, "1"))
	require.NoError(t, err)

	assert.True(t, first.CreatedAt.Before(second.CreatedAt))

	rules, err := store.ListRules(ctx, "t1", approvals.Filter{Context: approvals.ContextBonus})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, first.ID, rules[0].ID)
	assert.Equal(t, second.ID, rules[1].ID)

	_, err = store.SetRuleActive(ctx, "t1", first.ID, false)
	require.NoError(t, err)
	active := true
	rules, err = store.ListRules(ctx, "t1", approvals.Filter{IsActive: &active, RuleType: approvals.RuleTypeDepartment})
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	groups := approvals.FindConflicts(rules)
	assert.Empty(t, groups)
}

func TestHistoryRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendHistory(ctx, approvals.HistoryEntry{
		TenantID: "t1", RuleID: "r1", Action: approvals.HistoryCreated,
		NewData: []byte(`{"id":"r1"}`), ChangedBy: "admin", ChangedAt: at,
	}))
	require.NoError(t, store.AppendHistory(ctx, approvals.HistoryEntry{
		TenantID: "t1", RuleID: "r1", Action: approvals.HistoryDeleted,
		PreviousData: []byte(`{"id":"r1"}`), ChangedBy: "admin", ChangedAt: at.Add(time.Second),
	}))
	require.NoError(t, store.AppendHistory(ctx, approvals.HistoryEntry{
		TenantID: "t2", RuleID: "r9", Action: approvals.HistoryCreated, ChangedAt: at,
	}))

	total, err := store.CountHistory(ctx, "t1", approvals.HistoryFilter{RuleID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	entries, err := store.ListHistory(ctx, "t1", approvals.HistoryFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, approvals.HistoryDeleted, entries[0].Action)
	assert.Nil(t, entries[0].NewData)
	assert.JSONEq(t, `{"id":"r1"}`, string(entries[0].PreviousData))
	assert.True(t, at.Add(time.Second).Equal(entries[0].ChangedAt))

	entries, err = store.ListHistory(ctx, "t1", approvals.HistoryFilter{Action: approvals.HistoryCreated}, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].PreviousData)

	entries, err = store.ListHistory(ctx, "t1", approvals.HistoryFilter{}, 1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, approvals.HistoryCreated, entries[0].Action)
}

func TestServiceOverSQLite(t *testing.T) {
	store := openTestStore(t)
	svc := approvals.NewService(store, nil, nil, nil)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, "t1", "admin", approvals.RuleInput{
		RuleType:     approvals.RuleTypeCostCenter,
		CostCenterID: "3",
		Context:      approvals.ContextPDI,
		ApproverID:   "10",
	})
	require.NoError(t, err)

	approver, ok, err := svc.ResolveApprover(ctx, "t1", approvals.ContextPDI, approvals.Employee{EmployeeID: "5", DepartmentID: "7", CostCenterID: "3"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10", approver.ApproverID)
	assert.Equal(t, rule.ID, approver.RuleID)

	_, total, err := svc.ListHistory(ctx, "t1", approvals.HistoryFilter{RuleID: rule.ID}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestGetRuleNoRowsMapsToNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM approval_rules WHERE tenant_id = \\? AND id = \\?").
		WithArgs("t1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = New(db).GetRule(context.Background(), "t1", "missing")
	assert.ErrorIs(t, err, approvals.ErrRuleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRulesPropagatesQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("database is locked")
	mock.ExpectQuery("SELECT (.+) FROM approval_rules").WillReturnError(boom)

	_, err = New(db).ListRules(context.Background(), "t1", approvals.Filter{})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRuleNoRowsAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM approval_rules").
		WithArgs("t1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = New(db).DeleteRule(context.Background(), "t1", "r1")
	assert.ErrorIs(t, err, approvals.ErrRuleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendHistoryPropagatesExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("disk I/O error")
	mock.ExpectExec("INSERT INTO approval_rule_history").WillReturnError(boom)

	err = New(db).AppendHistory(context.Background(), approvals.HistoryEntry{TenantID: "t1", RuleID: "r1", Action: approvals.HistoryCreated})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
