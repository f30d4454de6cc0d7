package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"perfhub/internal/domain/approvals"
	"perfhub/internal/platform/jobs"
)

const jobConflictScan = "conflict_scan"

// scheduleConflictScans queues one conflict scan per tenant on every tick.
func scheduleConflictScans(ctx context.Context, runner *jobs.Service, tenants approvals.TenantLister, service *approvals.Service, interval time.Duration, log *zap.Logger) {
	runner.Every(ctx, interval, func(ctx context.Context) {
		enqueueConflictScans(ctx, runner, tenants, service, log)
	})
}

func enqueueConflictScans(ctx context.Context, runner *jobs.Service, tenants approvals.TenantLister, service *approvals.Service, log *zap.Logger) int {
	ids, err := tenants.ListTenants(ctx)
	if err != nil {
		log.Warn("conflict scan tenant lookup failed", zap.Error(err))
		return 0
	}
	queued := 0
	for _, tenantID := range ids {
		if runner.Enqueue(jobConflictScan, tenantID, conflictScan(service, tenantID, log)) {
			queued++
		}
	}
	return queued
}

func conflictScan(service *approvals.Service, tenantID string, log *zap.Logger) jobs.Func {
	return func(ctx context.Context) (any, error) {
		groups, err := service.FindConflicts(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		for _, group := range groups {
			ruleIDs := make([]string, 0, len(group.Rules))
			for _, rule := range group.Rules {
				ruleIDs = append(ruleIDs, rule.ID)
			}
			log.Warn("approval rule conflict",
				zap.String("tenantId", tenantID),
				zap.String("ruleType", string(group.RuleType)),
				zap.String("approvalContext", string(group.Context)),
				zap.String("scopeKey", group.ScopeKey),
				zap.Strings("ruleIds", ruleIDs),
			)
		}
		return map[string]int{"groups": len(groups)}, nil
	}
}
