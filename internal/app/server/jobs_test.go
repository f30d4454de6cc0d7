package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"perfhub/internal/domain/approvals"
	"perfhub/internal/platform/jobs"
	"perfhub/internal/store/sqlite"
)

type brokenTenants struct{}

func (brokenTenants) ListTenants(context.Context) ([]string, error) {
	return nil, errors.New("connection reset")
}

func TestConflictScanJobLogsGroups(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	service := approvals.NewService(store, nil, nil, nil)
	ctx := context.Background()

	for _, approver := range []string{"42", "99"} {
		_, err := service.CreateRule(ctx, "t1", "admin", approvals.RuleInput{
			RuleType: approvals.RuleTypeDepartment, DepartmentID: "7", Context: approvals.ContextBonus, ApproverID: approver,
		})
		require.NoError(t, err)
	}
	_, err = service.CreateRule(ctx, "t2", "admin", approvals.RuleInput{
		RuleType: approvals.RuleTypeDepartment, DepartmentID: "7", Context: approvals.ContextBonus, ApproverID: "1",
	})
	require.NoError(t, err)

	tenants, err := store.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, tenants)

	core, logs := observer.New(zap.WarnLevel)
	runner := jobs.New(nil, 0)
	details, err := runner.RunNow(ctx, jobConflictScan, "t1", conflictScan(service, "t1", zap.New(core)))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"groups": 1}, details)

	entries := logs.FilterMessage("approval rule conflict").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "7", entries[0].ContextMap()["scopeKey"])

	details, err = runner.RunNow(ctx, jobConflictScan, "t2", conflictScan(service, "t2", zap.New(core)))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"groups": 0}, details)

	assert.Equal(t, 2, enqueueConflictScans(ctx, runner, store, service, zap.NewNop()))
}

func TestEnqueueConflictScansSurvivesLookupFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	queued := enqueueConflictScans(context.Background(), jobs.New(nil, 0), brokenTenants{}, nil, zap.New(core))
	assert.Zero(t, queued)
	assert.Equal(t, 1, logs.FilterMessage("conflict scan tenant lookup failed").Len())
}
