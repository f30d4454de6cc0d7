package approvals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type fakeStore struct {
	mu       sync.Mutex
	seq      int
	clock    time.Time
	rules    map[string]ApprovalRule
	history  []HistoryEntry
	failNext map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		rules:    map[string]ApprovalRule{},
		failNext: map[string]error{},
	}
}

func (f *fakeStore) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = err
}

func (f *fakeStore) takeFailure(op string) error {
	err := f.failNext[op]
	delete(f.failNext, op)
	return err
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *fakeStore) ListRules(_ context.Context, tenantID string, filter Filter) ([]ApprovalRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("ListRules"); err != nil {
		return nil, err
	}
	var out []ApprovalRule
	for _, rule := range f.rules {
		if rule.TenantID != tenantID {
			continue
		}
		if filter.RuleType != "" && rule.Scope.Type() != filter.RuleType {
			continue
		}
		if filter.Context != "" && rule.Context != filter.Context {
			continue
		}
		if filter.IsActive != nil && rule.IsActive != *filter.IsActive {
			continue
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return createdBefore(out[i], out[j]) })
	return out, nil
}

func (f *fakeStore) GetRule(_ context.Context, tenantID, ruleID string) (ApprovalRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("GetRule"); err != nil {
		return ApprovalRule{}, err
	}
	rule, ok := f.rules[ruleID]
	if !ok || rule.TenantID != tenantID {
		return ApprovalRule{}, ErrRuleNotFound
	}
	return rule, nil
}

func (f *fakeStore) CreateRule(_ context.Context, rule ApprovalRule) (ApprovalRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("CreateRule"); err != nil {
		return ApprovalRule{}, err
	}
	f.seq++
	rule.ID = fmt.Sprintf("rule-%03d", f.seq)
	rule.CreatedAt = f.tick()
	rule.UpdatedAt = rule.CreatedAt
	f.rules[rule.ID] = rule
	return rule, nil
}

func (f *fakeStore) UpdateRule(_ context.Context, rule ApprovalRule) (ApprovalRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("UpdateRule"); err != nil {
		return ApprovalRule{}, err
	}
	if _, ok := f.rules[rule.ID]; !ok {
		return ApprovalRule{}, ErrRuleNotFound
	}
	rule.UpdatedAt = f.tick()
	f.rules[rule.ID] = rule
	return rule, nil
}

func (f *fakeStore) SetRuleActive(_ context.Context, tenantID, ruleID string, active bool) (ApprovalRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("SetRuleActive"); err != nil {
		return ApprovalRule{}, err
	}
	rule, ok := f.rules[ruleID]
	if !ok || rule.TenantID != tenantID {
		return ApprovalRule{}, ErrRuleNotFound
	}
	rule.IsActive = active
	rule.UpdatedAt = f.tick()
	f.rules[ruleID] = rule
	return rule, nil
}

func (f *fakeStore) DeleteRule(_ context.Context, tenantID, ruleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.takeFailure("DeleteRule"); err != nil {
		return err
	}
	rule, ok := f.rules[ruleID]
	if !ok || rule.TenantID != tenantID {
		return ErrRuleNotFound
	}
	delete(f.rules, ruleID)
	return nil
}

func (f *fakeStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.takeFailure("AppendHistory"); err != nil {
		return err
	}
	entry.ID = fmt.Sprintf("hist-%03d", len(f.history)+1)
	f.history = append(f.history, entry)
	return nil
}

func (f *fakeStore) ListHistory(_ context.Context, tenantID string, filter HistoryFilter, limit, offset int) ([]HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := f.matchHistory(tenantID, filter)
	if offset >= len(matched) {
		return nil, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], nil
}

func (f *fakeStore) CountHistory(_ context.Context, tenantID string, filter HistoryFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.matchHistory(tenantID, filter)), nil
}

func (f *fakeStore) matchHistory(tenantID string, filter HistoryFilter) []HistoryEntry {
	var out []HistoryEntry
	for i := len(f.history) - 1; i >= 0; i-- {
		entry := f.history[i]
		if entry.TenantID != tenantID {
			continue
		}
		if filter.RuleID != "" && entry.RuleID != filter.RuleID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func (f *fakeStore) historyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history)
}

type fakeOrg map[string]Employee

func (o fakeOrg) EmployeeOrg(_ context.Context, _ string, employeeID string) (Employee, error) {
	employee, ok := o[employeeID]
	if !ok {
		return Employee{}, errEmployeeMissing
	}
	return employee, nil
}

var errEmployeeMissing = errors.New("employee missing")
