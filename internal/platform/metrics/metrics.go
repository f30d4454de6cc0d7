package metrics

import (
	"sync/atomic"
	"time"
)

type Collector struct {
	totalRequests      uint64
	errorRequests      uint64
	rateLimited        uint64
	totalDurationMs    uint64
	resolutionsTotal   uint64
	resolutionsMatched uint64
	conflictScans      uint64
	conflictGroups     uint64
	historyFailures    uint64
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) Record(status int, duration time.Duration) {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	if status == 429 {
		atomic.AddUint64(&c.rateLimited, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

func (c *Collector) RecordResolution(matched bool) {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.resolutionsTotal, 1)
	if matched {
		atomic.AddUint64(&c.resolutionsMatched, 1)
	}
}

func (c *Collector) RecordConflictScan(groups int) {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.conflictScans, 1)
	atomic.AddUint64(&c.conflictGroups, uint64(groups))
}

func (c *Collector) RecordHistoryFailure() {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.historyFailures, 1)
}

func (c *Collector) Snapshot() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	limited := atomic.LoadUint64(&c.rateLimited)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}
	return map[string]any{
		"requestsTotal":           total,
		"errorsTotal":             errs,
		"rateLimitedTotal":        limited,
		"avgDurationMs":           avg,
		"totalDurationMs":         totalMs,
		"resolutionsTotal":        atomic.LoadUint64(&c.resolutionsTotal),
		"resolutionsMatchedTotal": atomic.LoadUint64(&c.resolutionsMatched),
		"conflictScansTotal":      atomic.LoadUint64(&c.conflictScans),
		"conflictGroupsTotal":     atomic.LoadUint64(&c.conflictGroups),
		"historyFailuresTotal":    atomic.LoadUint64(&c.historyFailures),
	}
}
