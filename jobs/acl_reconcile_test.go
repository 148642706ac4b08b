package jobs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReconcileStepsCoverAllOrphanClasses(t *testing.T) {
	byName := make(map[string]string, len(reconcileSteps))
	for _, step := range reconcileSteps {
		require.NotContains(t, byName, step.name)
		byName[step.name] = step.table + " WHERE " + step.where
	}

	// Role assignments lose their subject, their role, or their scope target.
	assignments := map[string]string{
		"assignments_without_user":    "users",
		"assignments_without_role":    "roles",
		"assignments_without_client":  "clients",
		"assignments_without_company": "companies",
		"assignments_without_project": "projects",
	}
	for name, parent := range assignments {
		require.Contains(t, byName, name)
		require.Contains(t, byName[name], "role_assignments")
		require.Contains(t, byName[name], parent)
	}

	// Resource grants lose their subject or the resource row itself; every
	// tenant resource type the gate accepts needs its own step.
	grants := map[string]string{
		"grants_without_user":    "users",
		"grants_without_client":  "clients",
		"grants_without_company": "companies",
		"grants_without_project": "projects",
	}
	for name, parent := range grants {
		require.Contains(t, byName, name)
		require.Contains(t, byName[name], "resource_acl_grants")
		require.Contains(t, byName[name], parent)
	}

	// Typed steps must filter on their discriminator column so a client grant
	// is never judged against the projects table.
	require.Contains(t, byName["assignments_without_project"], "a.scope_type = 'project'")
	require.Contains(t, byName["grants_without_project"], "g.resource_type = 'project'")
	require.Contains(t, byName["grants_without_client"], "g.resource_type = 'client'")
	require.Contains(t, byName["grants_without_company"], "g.resource_type = 'company'")
}
