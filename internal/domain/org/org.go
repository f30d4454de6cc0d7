package org

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"perfhub/internal/domain/approvals"
)

var ErrEmployeeNotFound = errors.New("employee not found")

// Directory reads department and cost-center assignments from the employees table.
type Directory struct {
	DB *pgxpool.Pool
}

func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{DB: db}
}

func (d *Directory) EmployeeOrg(ctx context.Context, tenantID, employeeID string) (approvals.Employee, error) {
	employee := approvals.Employee{EmployeeID: employeeID}
	err := d.DB.QueryRow(ctx, `
    SELECT COALESCE(department_id::text, ''), COALESCE(cost_center_id::text, '')
    FROM employees
    WHERE tenant_id::text = $1 AND id::text = $2
  `, tenantID, employeeID).Scan(&employee.DepartmentID, &employee.CostCenterID)
	if errors.Is(err, pgx.ErrNoRows) {
		return approvals.Employee{}, ErrEmployeeNotFound
	}
	if err != nil {
		return approvals.Employee{}, err
	}
	return employee, nil
}

// Static is an in-memory directory keyed by tenant and employee id.
type Static struct {
	mu        sync.RWMutex
	employees map[string]approvals.Employee
}

func NewStatic() *Static {
	return &Static{employees: map[string]approvals.Employee{}}
}

func (s *Static) Put(tenantID string, employee approvals.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[staticKey(tenantID, employee.EmployeeID)] = employee
}

func (s *Static) EmployeeOrg(_ context.Context, tenantID, employeeID string) (approvals.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	employee, ok := s.employees[staticKey(tenantID, employeeID)]
	if !ok {
		return approvals.Employee{}, ErrEmployeeNotFound
	}
	return employee, nil
}

func staticKey(tenantID, employeeID string) string {
	return tenantID + "/" + strings.TrimSpace(employeeID)
}
