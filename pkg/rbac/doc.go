// Package rbac decides whether a principal may perform an action inside a project.
//
// Roles form two closed sets. The global role is admin or member; a global admin
// passes every project-scoped check. Inside a project a membership carries member
// or project_admin, ordered member < project_admin.
//
// Every protected action is listed in the policy table with the minimum project
// role it needs and an optional ownership override (creator or assignee of the
// target resource may act below the required role). The decision procedure is:
//
//	isGlobalAdmin(p) OR (membershipExists AND
//	    (role satisfies required OR override matches resource))
//
// A missing membership is Forbidden even when the project exists.
//
// CheckAdminFloor enforces that a project keeps at least one project_admin; the
// stores call it inside the same transaction that applies the change.
package rbac
