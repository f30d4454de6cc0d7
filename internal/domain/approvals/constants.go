package approvals

type RuleType string

const (
	RuleTypeDepartment RuleType = "department"
	RuleTypeCostCenter RuleType = "cost_center"
	RuleTypeIndividual RuleType = "individual"
)

type Context string

const (
	ContextGoals          Context = "goals"
	ContextEvaluations    Context = "evaluations"
	ContextPDI            Context = "pdi"
	ContextJobDescription Context = "job_description"
	ContextCycle360       Context = "cycle_360"
	ContextBonus          Context = "bonus"
	ContextPromotion      Context = "promotion"
)

type HistoryAction string

const (
	HistoryCreated     HistoryAction = "created"
	HistoryUpdated     HistoryAction = "updated"
	HistoryDeactivated HistoryAction = "deactivated"
	HistoryReactivated HistoryAction = "reactivated"
	HistoryDeleted     HistoryAction = "deleted"
)

type MutationAction string

const (
	MutationCreate     MutationAction = "create"
	MutationUpdate     MutationAction = "update"
	MutationDeactivate MutationAction = "deactivate"
	MutationReactivate MutationAction = "reactivate"
	MutationDelete     MutationAction = "delete"
)

const DefaultApproverLevel = 1

var RuleTypes = []RuleType{RuleTypeDepartment, RuleTypeCostCenter, RuleTypeIndividual}

var Contexts = []Context{
	ContextGoals,
	ContextEvaluations,
	ContextPDI,
	ContextJobDescription,
	ContextCycle360,
	ContextBonus,
	ContextPromotion,
}

var HistoryActions = []HistoryAction{
	HistoryCreated,
	HistoryUpdated,
	HistoryDeactivated,
	HistoryReactivated,
	HistoryDeleted,
}

// precedence lists rule types from most to least specific.
var precedence = []RuleType{RuleTypeIndividual, RuleTypeCostCenter, RuleTypeDepartment}

func (t RuleType) Valid() bool {
	for _, candidate := range RuleTypes {
		if t == candidate {
			return true
		}
	}
	return false
}

func (c Context) Valid() bool {
	for _, candidate := range Contexts {
		if c == candidate {
			return true
		}
	}
	return false
}

func (a HistoryAction) Valid() bool {
	for _, candidate := range HistoryActions {
		if a == candidate {
			return true
		}
	}
	return false
}

func (a MutationAction) historyAction() HistoryAction {
	switch a {
	case MutationCreate:
		return HistoryCreated
	case MutationUpdate:
		return HistoryUpdated
	case MutationDeactivate:
		return HistoryDeactivated
	case MutationReactivate:
		return HistoryReactivated
	case MutationDelete:
		return HistoryDeleted
	}
	return ""
}

func ParseRuleType(value string) (RuleType, error) {
	t := RuleType(value)
	if !t.Valid() {
		return "", ErrInvalidRuleType
	}
	return t, nil
}

func ParseContext(value string) (Context, error) {
	c := Context(value)
	if !c.Valid() {
		return "", ErrInvalidContext
	}
	return c, nil
}

func ruleTypeStrings() []string {
	out := make([]string, 0, len(RuleTypes))
	for _, t := range RuleTypes {
		out = append(out, string(t))
	}
	return out
}

func contextStrings() []string {
	out := make([]string, 0, len(Contexts))
	for _, c := range Contexts {
		out = append(out, string(c))
	}
	return out
}
