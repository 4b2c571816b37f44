package auth

import "context"

const (
	RoleDriver       = "driver"
	RolePayrollClerk = "payroll_clerk"
	RolePayrollAdmin = "payroll_admin"
	RoleSystemAdmin  = "system_admin"
)

const (
	PermPayrollRead   = "payroll.read"
	PermPayrollRun    = "payroll.run"
	PermPayrollAdjust = "payroll.adjust"
	PermJobsRead      = "jobs.read"
	PermAuditRead     = "audit.read"
	PermSystemAdmin   = "admin.system"
)

var DefaultPermissions = []string{
	PermPayrollRead,
	PermPayrollRun,
	PermPayrollAdjust,
	PermJobsRead,
	PermAuditRead,
	PermSystemAdmin,
}

var RolePermissions = map[string][]string{
	RoleDriver: {
		PermPayrollRead,
	},
	RolePayrollClerk: {
		PermPayrollRead,
		PermPayrollRun,
		PermJobsRead,
	},
	RolePayrollAdmin: {
		PermPayrollRead,
		PermPayrollRun,
		PermPayrollAdjust,
		PermJobsRead,
		PermAuditRead,
	},
	RoleSystemAdmin: {
		PermSystemAdmin,
		PermJobsRead,
		PermAuditRead,
	},
}

// StaticPermissions answers permission checks from RolePermissions.
type StaticPermissions struct{}

func (StaticPermissions) HasPermission(_ context.Context, role, permission string) (bool, error) {
	for _, perm := range RolePermissions[role] {
		if perm == permission {
			return true, nil
		}
	}
	return false, nil
}
