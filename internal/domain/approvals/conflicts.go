package approvals

import "sort"

type conflictKey struct {
	ruleType RuleType
	context  Context
	scopeKey string
}

// FindConflicts groups active rules sharing rule type, approval context and
// scope key. Only groups with more than one rule are returned. Rules of
// different types never collide here; their overlap is settled by MatchRule's
// precedence.
func FindConflicts(rules []ApprovalRule) []ConflictGroup {
	groups := map[conflictKey][]ApprovalRule{}
	for _, rule := range rules {
		if !rule.IsActive || rule.Scope.IsZero() {
			continue
		}
		key := conflictKey{ruleType: rule.Scope.Type(), context: rule.Context, scopeKey: rule.Scope.Key()}
		groups[key] = append(groups[key], rule)
	}

	out := make([]ConflictGroup, 0)
	for key, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			return createdBefore(members[i], members[j])
		})
		out = append(out, ConflictGroup{
			RuleType: key.ruleType,
			Context:  key.context,
			ScopeKey: key.scopeKey,
			Rules:    members,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RuleType != out[j].RuleType {
			return out[i].RuleType < out[j].RuleType
		}
		if out[i].Context != out[j].Context {
			return out[i].Context < out[j].Context
		}
		return out[i].ScopeKey < out[j].ScopeKey
	})
	return out
}
