package approvals

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"perfhub/internal/platform/metrics"
)

type HistoryWriter interface {
	AppendHistory(ctx context.Context, entry HistoryEntry) error
}

// HistoryRecorder appends audit entries for rule mutations. Recording is
// best-effort: a failed write is logged and dropped, and the triggering
// mutation stands.
type HistoryRecorder struct {
	writer  HistoryWriter
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

func NewHistoryRecorder(writer HistoryWriter, log *zap.Logger, collector *metrics.Collector) *HistoryRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &HistoryRecorder{writer: writer, log: log, metrics: collector, now: time.Now}
}

// Record snapshots previous and next. A nil snapshot is stored as absent.
func (h *HistoryRecorder) Record(ctx context.Context, tenantID, ruleID string, action HistoryAction, previous, next any, actor string) {
	entry := HistoryEntry{
		TenantID:  tenantID,
		RuleID:    ruleID,
		Action:    action,
		ChangedBy: actor,
		ChangedAt: h.now().UTC(),
	}

	var err error
	if entry.PreviousData, err = snapshot(previous); err != nil {
		h.fail(ruleID, action, err)
		return
	}
	if entry.NewData, err = snapshot(next); err != nil {
		h.fail(ruleID, action, err)
		return
	}
	// The rule write has already committed; a client hanging up must not
	// drop its audit entry.
	if err := h.writer.AppendHistory(context.WithoutCancel(ctx), entry); err != nil {
		h.fail(ruleID, action, err)
	}
}

func (h *HistoryRecorder) fail(ruleID string, action HistoryAction, err error) {
	h.metrics.RecordHistoryFailure()
	h.log.Warn("approval rule history write failed",
		zap.String("ruleId", ruleID),
		zap.String("action", string(action)),
		zap.Error(err),
	)
}

func snapshot(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	if rule, ok := value.(*ApprovalRule); ok {
		if rule == nil {
			return nil, nil
		}
		value = *rule
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return payload, nil
}
