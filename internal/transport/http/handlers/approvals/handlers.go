package approvalshandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"perfhub/internal/domain/approvals"
	"perfhub/internal/domain/auth"
	"perfhub/internal/domain/org"
	"perfhub/internal/transport/http/api"
	"perfhub/internal/transport/http/middleware"
	"perfhub/internal/transport/http/shared"
)

type Handler struct {
	Service *approvals.Service
	Perms   middleware.PermissionStore
	Idem    middleware.IdempotencyBackend
	Log     *zap.Logger
}

func NewHandler(service *approvals.Service, perms middleware.PermissionStore, idem middleware.IdempotencyBackend, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: service, Perms: perms, Idem: idem, Log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/approval-rules", func(r chi.Router) {
		read := middleware.RequirePermission(auth.PermApprovalsRead, h.Perms)
		write := middleware.RequirePermission(auth.PermApprovalsWrite, h.Perms)
		audit := middleware.RequirePermission(auth.PermApprovalsAudit, h.Perms)

		r.With(read).Get("/", h.handleList)
		r.With(write, middleware.Idempotent(h.Idem, h.Log)).Post("/", h.handleCreate)
		r.With(read).Get("/conflicts", h.handleConflicts)
		r.With(read).Post("/resolve", h.handleResolve)
		r.With(audit).Get("/history", h.handleHistory)
		r.With(audit).Get("/history/export", h.handleHistoryExport)
		r.With(write).Put("/{ruleID}", h.handleUpdate)
		r.With(write).Post("/{ruleID}/deactivate", h.handleDeactivate)
		r.With(write).Post("/{ruleID}/reactivate", h.handleReactivate)
		r.With(write).Delete("/{ruleID}", h.handleDelete)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	requestID := middleware.GetRequestID(r.Context())
	query := r.URL.Query()

	v := shared.NewValidator()
	v.Enum("ruleType", query.Get("ruleType"), ruleTypeValues(), "unknown rule type")
	v.Enum("approvalContext", query.Get("approvalContext"), contextValues(), "unknown approval context")
	isActive := v.Bool("isActive", query.Get("isActive"))
	if v.Reject(w, requestID) {
		return
	}

	rules, err := h.Service.ListRules(r.Context(), user.TenantID, approvals.Filter{
		RuleType: approvals.RuleType(strings.ToLower(strings.TrimSpace(query.Get("ruleType")))),
		Context:  approvals.Context(strings.ToLower(strings.TrimSpace(query.Get("approvalContext")))),
		IsActive: isActive,
	})
	if err != nil {
		h.fail(w, r, err, "rule_list_failed", "failed to list approval rules")
		return
	}
	if rules == nil {
		rules = []approvals.ApprovalRule{}
	}
	api.Success(w, rules, requestID)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	var input approvals.RuleInput
	if !h.decode(w, r, &input) {
		return
	}
	rule, err := h.Service.CreateRule(r.Context(), user.TenantID, user.UserID, input)
	if err != nil {
		h.fail(w, r, err, "rule_create_failed", "failed to create approval rule")
		return
	}
	api.Created(w, rule, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	var input approvals.RuleInput
	if !h.decode(w, r, &input) {
		return
	}
	rule, err := h.Service.UpdateRule(r.Context(), user.TenantID, user.UserID, chi.URLParam(r, "ruleID"), input)
	if err != nil {
		h.fail(w, r, err, "rule_update_failed", "failed to update approval rule")
		return
	}
	api.Success(w, rule, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, approvals.MutationDeactivate)
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, approvals.MutationReactivate)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, approvals.MutationDelete)
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, action approvals.MutationAction) {
	user, _ := middleware.GetUser(r.Context())
	rule, err := h.Service.MutateRule(r.Context(), user.TenantID, user.UserID, approvals.Mutation{
		Action: action,
		RuleID: chi.URLParam(r, "ruleID"),
	})
	if err != nil {
		h.fail(w, r, err, "rule_"+string(action)+"_failed", "failed to "+string(action)+" approval rule")
		return
	}
	api.Success(w, rule, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleConflicts(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	groups, err := h.Service.FindConflicts(r.Context(), user.TenantID)
	if err != nil {
		h.fail(w, r, err, "conflict_scan_failed", "failed to scan approval rules for conflicts")
		return
	}
	api.Success(w, groups, middleware.GetRequestID(r.Context()))
}

type resolveRequest struct {
	Context      approvals.Context `json:"approvalContext"`
	EmployeeID   string            `json:"employeeId"`
	DepartmentID string            `json:"departmentId"`
	CostCenterID string            `json:"costCenterId"`
}

type resolveResponse struct {
	Matched  bool                `json:"matched"`
	Approver *approvals.Approver `json:"approver,omitempty"`
}

// handleResolve uses the org attributes from the body when the caller
// supplies any; otherwise it looks them up in the org directory.
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	requestID := middleware.GetRequestID(r.Context())
	var payload resolveRequest
	if !h.decode(w, r, &payload) {
		return
	}
	payload.Context = approvals.Context(strings.ToLower(strings.TrimSpace(string(payload.Context))))

	v := shared.NewValidator()
	v.Required("approvalContext", string(payload.Context), "required")
	v.Enum("approvalContext", string(payload.Context), contextValues(), "unknown approval context")
	v.Required("employeeId", payload.EmployeeID, "required")
	if v.Reject(w, requestID) {
		return
	}

	var (
		approver approvals.Approver
		matched  bool
		err      error
	)
	if strings.TrimSpace(payload.DepartmentID) != "" || strings.TrimSpace(payload.CostCenterID) != "" {
		approver, matched, err = h.Service.ResolveApprover(r.Context(), user.TenantID, payload.Context, approvals.Employee{
			EmployeeID:   payload.EmployeeID,
			DepartmentID: payload.DepartmentID,
			CostCenterID: payload.CostCenterID,
		})
	} else {
		approver, matched, err = h.Service.ResolveForEmployee(r.Context(), user.TenantID, payload.Context, payload.EmployeeID)
	}
	if err != nil {
		h.fail(w, r, err, "resolve_failed", "failed to resolve approver")
		return
	}
	out := resolveResponse{Matched: matched}
	if matched {
		out.Approver = &approver
	}
	api.Success(w, out, requestID)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", middleware.GetRequestID(r.Context()))
			return false
		}
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", middleware.GetRequestID(r.Context()))
		return false
	}
	return true
}

// fail maps domain errors to status codes. Anything unrecognised is logged
// and reported as a 500 with the caller's code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, code, message string) {
	requestID := middleware.GetRequestID(r.Context())

	var verr *approvals.ValidationError
	switch {
	case errors.As(err, &verr):
		issues := make([]shared.ValidationIssue, 0, len(verr.Issues))
		for _, issue := range verr.Issues {
			issues = append(issues, shared.ValidationIssue{Field: issue.Field, Reason: issue.Reason})
		}
		shared.FailValidation(w, requestID, issues)
	case errors.Is(err, approvals.ErrRuleNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "approval rule not found", requestID)
	case errors.Is(err, org.ErrEmployeeNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "employee not found", requestID)
	case errors.Is(err, approvals.ErrInvalidTransition):
		api.Fail(w, http.StatusConflict, "invalid_transition", err.Error(), requestID)
	default:
		h.Log.Error(message, zap.Error(err), zap.String("requestId", requestID))
		api.Fail(w, http.StatusInternalServerError, code, message, requestID)
	}
}

func ruleTypeValues() []string {
	out := make([]string, 0, len(approvals.RuleTypes))
	for _, t := range approvals.RuleTypes {
		out = append(out, string(t))
	}
	return out
}

func contextValues() []string {
	out := make([]string, 0, len(approvals.Contexts))
	for _, c := range approvals.Contexts {
		out = append(out, string(c))
	}
	return out
}
