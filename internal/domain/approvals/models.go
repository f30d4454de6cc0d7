package approvals

import (
	"encoding/json"
	"strings"
	"time"
)

// Scope binds a rule to exactly one department, cost center or employee.
// The zero Scope is invalid; build one with NewScope or the typed constructors.
type Scope struct {
	ruleType RuleType
	key      string
}

func DepartmentScope(departmentID string) (Scope, error) {
	return NewScope(RuleTypeDepartment, departmentID, "", "")
}

func CostCenterScope(costCenterID string) (Scope, error) {
	return NewScope(RuleTypeCostCenter, "", costCenterID, "")
}

func IndividualScope(employeeID string) (Scope, error) {
	return NewScope(RuleTypeIndividual, "", "", employeeID)
}

// NewScope requires the id that matches ruleType and rejects the other two.
func NewScope(ruleType RuleType, departmentID, costCenterID, employeeID string) (Scope, error) {
	v := &validator{}
	departmentID = strings.TrimSpace(departmentID)
	costCenterID = strings.TrimSpace(costCenterID)
	employeeID = strings.TrimSpace(employeeID)

	fields := map[RuleType]struct {
		name  string
		value string
	}{
		RuleTypeDepartment: {"departmentId", departmentID},
		RuleTypeCostCenter: {"costCenterId", costCenterID},
		RuleTypeIndividual: {"employeeId", employeeID},
	}

	if !ruleType.Valid() {
		v.add("ruleType", "must be one of "+strings.Join(ruleTypeStrings(), ", "))
		return Scope{}, v.err()
	}
	for _, t := range RuleTypes {
		field := fields[t]
		if t == ruleType && field.value == "" {
			v.add(field.name, "required for "+string(ruleType)+" rules")
		}
		if t != ruleType && field.value != "" {
			v.add(field.name, "must be empty for "+string(ruleType)+" rules")
		}
	}
	if err := v.err(); err != nil {
		return Scope{}, err
	}
	return Scope{ruleType: ruleType, key: fields[ruleType].value}, nil
}

func (s Scope) Type() RuleType { return s.ruleType }

func (s Scope) Key() string { return s.key }

func (s Scope) IsZero() bool { return s.ruleType == "" }

func (s Scope) DepartmentID() string {
	if s.ruleType == RuleTypeDepartment {
		return s.key
	}
	return ""
}

func (s Scope) CostCenterID() string {
	if s.ruleType == RuleTypeCostCenter {
		return s.key
	}
	return ""
}

func (s Scope) EmployeeID() string {
	if s.ruleType == RuleTypeIndividual {
		return s.key
	}
	return ""
}

type ApprovalRule struct {
	ID            string
	TenantID      string
	Name          string
	Scope         Scope
	Context       Context
	ApproverID    string
	ApproverLevel int
	IsActive      bool
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ruleJSON struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId,omitempty"`
	Name            string    `json:"name,omitempty"`
	RuleType        RuleType  `json:"ruleType"`
	ApprovalContext Context   `json:"approvalContext"`
	DepartmentID    string    `json:"departmentId,omitempty"`
	CostCenterID    string    `json:"costCenterId,omitempty"`
	EmployeeID      string    `json:"employeeId,omitempty"`
	ApproverID      string    `json:"approverId"`
	ApproverLevel   int       `json:"approverLevel"`
	IsActive        bool      `json:"isActive"`
	CreatedBy       string    `json:"createdBy,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (r ApprovalRule) MarshalJSON() ([]byte, error) {
	return json.Marshal(ruleJSON{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Name:            r.Name,
		RuleType:        r.Scope.Type(),
		ApprovalContext: r.Context,
		DepartmentID:    r.Scope.DepartmentID(),
		CostCenterID:    r.Scope.CostCenterID(),
		EmployeeID:      r.Scope.EmployeeID(),
		ApproverID:      r.ApproverID,
		ApproverLevel:   r.ApproverLevel,
		IsActive:        r.IsActive,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	})
}

func (r *ApprovalRule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	scope, err := NewScope(raw.RuleType, raw.DepartmentID, raw.CostCenterID, raw.EmployeeID)
	if err != nil {
		return err
	}
	*r = ApprovalRule{
		ID:            raw.ID,
		TenantID:      raw.TenantID,
		Name:          raw.Name,
		Scope:         scope,
		Context:       raw.ApprovalContext,
		ApproverID:    raw.ApproverID,
		ApproverLevel: raw.ApproverLevel,
		IsActive:      raw.IsActive,
		CreatedBy:     raw.CreatedBy,
		CreatedAt:     raw.CreatedAt,
		UpdatedAt:     raw.UpdatedAt,
	}
	return nil
}

type Approver struct {
	RuleID        string   `json:"ruleId"`
	RuleType      RuleType `json:"ruleType"`
	ApproverID    string   `json:"approverId"`
	ApproverLevel int      `json:"approverLevel"`
}

// Employee carries the org attributes a rule can bind to.
type Employee struct {
	EmployeeID   string `json:"employeeId"`
	DepartmentID string `json:"departmentId"`
	CostCenterID string `json:"costCenterId"`
}

func (e Employee) scopeKey(t RuleType) string {
	switch t {
	case RuleTypeIndividual:
		return strings.TrimSpace(e.EmployeeID)
	case RuleTypeCostCenter:
		return strings.TrimSpace(e.CostCenterID)
	case RuleTypeDepartment:
		return strings.TrimSpace(e.DepartmentID)
	}
	return ""
}

type ConflictGroup struct {
	RuleType RuleType       `json:"ruleType"`
	Context  Context        `json:"approvalContext"`
	ScopeKey string         `json:"scopeKey"`
	Rules    []ApprovalRule `json:"rules"`
}

type HistoryEntry struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenantId,omitempty"`
	RuleID       string          `json:"ruleId"`
	Action       HistoryAction   `json:"action"`
	PreviousData json.RawMessage `json:"previousData,omitempty"`
	NewData      json.RawMessage `json:"newData,omitempty"`
	ChangedBy    string          `json:"changedBy"`
	ChangedAt    time.Time       `json:"changedAt"`
}

type Filter struct {
	RuleType RuleType
	Context  Context
	IsActive *bool
}

type HistoryFilter struct {
	RuleID string
	Action HistoryAction
}

// RuleInput is the caller-supplied payload for create and update.
type RuleInput struct {
	Name          string   `json:"name" yaml:"name"`
	RuleType      RuleType `json:"ruleType" yaml:"ruleType"`
	Context       Context  `json:"approvalContext" yaml:"approvalContext"`
	DepartmentID  string   `json:"departmentId" yaml:"departmentId"`
	CostCenterID  string   `json:"costCenterId" yaml:"costCenterId"`
	EmployeeID    string   `json:"employeeId" yaml:"employeeId"`
	ApproverID    string   `json:"approverId" yaml:"approverId"`
	ApproverLevel int      `json:"approverLevel" yaml:"approverLevel"`
}

func (in RuleInput) validate() (Scope, error) {
	v := &validator{}
	scope, err := NewScope(in.RuleType, in.DepartmentID, in.CostCenterID, in.EmployeeID)
	if err := v.merge(err); err != nil {
		return Scope{}, err
	}
	if !in.Context.Valid() {
		v.add("approvalContext", "must be one of "+strings.Join(contextStrings(), ", "))
	}
	if strings.TrimSpace(in.ApproverID) == "" {
		v.add("approverId", "required")
	}
	if in.ApproverLevel < 0 {
		v.add("approverLevel", "must not be negative")
	}
	if err := v.err(); err != nil {
		return Scope{}, err
	}
	return scope, nil
}

func (in RuleInput) level() int {
	if in.ApproverLevel == 0 {
		return DefaultApproverLevel
	}
	return in.ApproverLevel
}

type Mutation struct {
	Action MutationAction
	RuleID string
	Input  RuleInput
}
