package approvals

// MatchRule returns the most specific active rule for the employee in the
// given approval context. Individual rules beat cost-center rules, which beat
// department rules. Within one tier the earliest created rule wins.
func MatchRule(rules []ApprovalRule, approvalContext Context, employee Employee) (ApprovalRule, bool) {
	for _, tier := range precedence {
		key := employee.scopeKey(tier)
		if key == "" {
			continue
		}
		var best *ApprovalRule
		for i := range rules {
			rule := &rules[i]
			if !rule.IsActive || rule.Context != approvalContext {
				continue
			}
			if rule.Scope.Type() != tier || rule.Scope.Key() != key {
				continue
			}
			if best == nil || createdBefore(*rule, *best) {
				best = rule
			}
		}
		if best != nil {
			return *best, true
		}
	}
	return ApprovalRule{}, false
}

// ResolveApprover reports the approver of the rule chosen by MatchRule.
// The second result is false when no rule applies; callers fall back to their
// own default approver.
func ResolveApprover(rules []ApprovalRule, approvalContext Context, employee Employee) (Approver, bool) {
	rule, ok := MatchRule(rules, approvalContext, employee)
	if !ok {
		return Approver{}, false
	}
	return Approver{
		RuleID:        rule.ID,
		RuleType:      rule.Scope.Type(),
		ApproverID:    rule.ApproverID,
		ApproverLevel: rule.ApproverLevel,
	}, true
}

func createdBefore(a, b ApprovalRule) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
