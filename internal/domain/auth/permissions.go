package auth

import (
	"context"
	"strings"
)

const (
	RoleEmployee    = "Employee"
	RoleManager     = "Manager"
	RoleHR          = "HR"
	RoleSystemAdmin = "SystemAdmin"
)

const (
	PermApprovalsRead  = "approvals.read"
	PermApprovalsWrite = "approvals.write"
	PermApprovalsAudit = "approvals.audit"
)

var DefaultPermissions = []string{
	PermApprovalsRead,
	PermApprovalsWrite,
	PermApprovalsAudit,
}

var RolePermissions = map[string][]string{
	RoleEmployee: {
		PermApprovalsRead,
	},
	RoleManager: {
		PermApprovalsRead,
	},
	RoleHR: {
		PermApprovalsRead,
		PermApprovalsWrite,
		PermApprovalsAudit,
	},
	RoleSystemAdmin: {
		PermApprovalsRead,
		PermApprovalsWrite,
		PermApprovalsAudit,
	},
}

// StaticPermissions answers permission checks from a role-name map.
// Role names compare case-insensitively.
type StaticPermissions struct {
	grants map[string]map[string]struct{}
}

func NewStaticPermissions(roles map[string][]string) *StaticPermissions {
	grants := make(map[string]map[string]struct{}, len(roles))
	for role, perms := range roles {
		set := make(map[string]struct{}, len(perms))
		for _, perm := range perms {
			set[perm] = struct{}{}
		}
		grants[strings.ToLower(role)] = set
	}
	return &StaticPermissions{grants: grants}
}

func (p *StaticPermissions) HasPermission(_ context.Context, role, permission string) (bool, error) {
	perms, ok := p.grants[strings.ToLower(role)]
	if !ok {
		return false, nil
	}
	_, ok = perms[permission]
	return ok, nil
}
