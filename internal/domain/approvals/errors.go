package approvals

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrRuleNotFound      = errors.New("approval rule not found")
	ErrInvalidRuleType   = errors.New("invalid rule type")
	ErrInvalidContext    = errors.New("invalid approval context")
	ErrInvalidTransition = errors.New("approval rule state does not allow this action")
	ErrValidation        = errors.New("approval rule validation failed")
	ErrNoOrgDirectory    = errors.New("org directory not configured")
)

type ValidationIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError is returned before any write when a rule payload is rejected.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Field+": "+issue.Reason)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

type validator struct {
	issues []ValidationIssue
}

func (v *validator) add(field, reason string) {
	v.issues = append(v.issues, ValidationIssue{Field: field, Reason: reason})
}

// merge folds the issues of a validation error into v. Any other error is
// returned unchanged.
func (v *validator) merge(err error) error {
	if err == nil {
		return nil
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	v.issues = append(v.issues, verr.Issues...)
	return nil
}

func (v *validator) err() error {
	if len(v.issues) == 0 {
		return nil
	}
	issues := make([]ValidationIssue, len(v.issues))
	copy(issues, v.issues)
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Field == issues[j].Field {
			return issues[i].Reason < issues[j].Reason
		}
		return issues[i].Field < issues[j].Field
	})
	return &ValidationError{Issues: issues}
}
