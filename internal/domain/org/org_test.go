package org

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perfhub/internal/domain/approvals"
)

func TestStaticDirectoryLookup(t *testing.T) {
	dir := NewStatic()
	dir.Put("t1", approvals.Employee{EmployeeID: "5", DepartmentID: "7", CostCenterID: "3"})

	employee, err := dir.EmployeeOrg(context.Background(), "t1", "5")
	require.NoError(t, err)
	assert.Equal(t, "7", employee.DepartmentID)
	assert.Equal(t, "3", employee.CostCenterID)
}

func TestStaticDirectoryIsTenantScoped(t *testing.T) {
	dir := NewStatic()
	dir.Put("t1", approvals.Employee{EmployeeID: "5", DepartmentID: "7"})

	_, err := dir.EmployeeOrg(context.Background(), "t2", "5")
	assert.ErrorIs(t, err, ErrEmployeeNotFound)
}
