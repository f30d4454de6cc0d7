package approvals

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScope(t *testing.T) {
	tests := []struct {
		name     string
		ruleType RuleType
		dep      string
		cc       string
		emp      string
		wantKey  string
		wantErr  bool
	}{
		{name: "department", ruleType: RuleTypeDepartment, dep: " 7 ", wantKey: "7"},
		{name: "cost center", ruleType: RuleTypeCostCenter, cc: "3", wantKey: "3"},
		{name: "individual", ruleType: RuleTypeIndividual, emp: "5", wantKey: "5"},
		{name: "missing key", ruleType: RuleTypeDepartment, wantErr: true},
		{name: "extra key", ruleType: RuleTypeIndividual, emp: "5", dep: "7", wantErr: true},
		{name: "unknown type", ruleType: "team", dep: "7", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope, err := NewScope(tt.ruleType, tt.dep, tt.cc, tt.emp)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				assert.True(t, scope.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ruleType, scope.Type())
			assert.Equal(t, tt.wantKey, scope.Key())
		})
	}
}

func TestScopeAccessorsOnlyExposeMatchingID(t *testing.T) {
	scope, err := CostCenterScope("3")
	require.NoError(t, err)
	assert.Equal(t, "3", scope.CostCenterID())
	assert.Empty(t, scope.DepartmentID())
	assert.Empty(t, scope.EmployeeID())
}

func TestApprovalRuleJSONFlattensScope(t *testing.T) {
	scope, err := IndividualScope("5")
	require.NoError(t, err)
	rule := ApprovalRule{ID: "r1", Scope: scope, Context: ContextPromotion, ApproverID: "9", ApproverLevel: 2, IsActive: true}

	payload, err := json.Marshal(rule)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))
	assert.Equal(t, "individual", raw["ruleType"])
	assert.Equal(t, "5", raw["employeeId"])
	assert.Equal(t, "promotion", raw["approvalContext"])
	assert.NotContains(t, raw, "departmentId")

	var decoded ApprovalRule
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, scope, decoded.Scope)
	assert.Equal(t, 2, decoded.ApproverLevel)
}

func TestApprovalRuleJSONRejectsBadScope(t *testing.T) {
	var rule ApprovalRule
	err := json.Unmarshal([]byte(`{"ruleType":"department","employeeId":"5"}`), &rule)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseHelpers(t *testing.T) {
	ruleType, err := ParseRuleType("cost_center")
	require.NoError(t, err)
	assert.Equal(t, RuleTypeCostCenter, ruleType)

	_, err = ParseRuleType("team")
	assert.ErrorIs(t, err, ErrInvalidRuleType)

	_, err = ParseContext("cycle_360")
	assert.NoError(t, err)
	_, err = ParseContext("payroll")
	assert.ErrorIs(t, err, ErrInvalidContext)
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	v := &validator{}
	v.add("approverId", "required")
	v.add("approvalContext", "invalid")
	err := v.err()
	assert.EqualError(t, err, "approval rule validation failed: approvalContext: invalid; approverId: required")
}

func TestValidatorMerge(t *testing.T) {
	v := &validator{}
	wrapped := fmt.Errorf("scope: %w", &ValidationError{Issues: []ValidationIssue{{Field: "departmentId", Reason: "required"}}})
	require.NoError(t, v.merge(wrapped))
	require.NoError(t, v.merge(nil))

	broken := errors.New("scope lookup failed")
	assert.Same(t, broken, v.merge(broken))
	assert.EqualError(t, v.err(), "approval rule validation failed: departmentId: required")
}

func TestRuleInputValidateCollectsEveryIssue(t *testing.T) {
	_, err := RuleInput{RuleType: RuleTypeDepartment, Context: "payroll"}.validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	fields := make([]string, 0, len(verr.Issues))
	for _, issue := range verr.Issues {
		fields = append(fields, issue.Field)
	}
	assert.Equal(t, []string{"approvalContext", "approverId", "departmentId"}, fields)
}
