// Package authz implements the platform's role/scope authorization model.
//
// Four roles (super_admin, admin, user, guest) map to fixed permission sets;
// three document scopes (organization, project, personal) control visibility.
// All decision functions are pure: they never perform I/O and never return
// errors. Callers translate a false decision into a forbidden result.
package authz

import "fmt"

// Role is the closed set of platform roles.
type Role int

const (
	// RoleGuest has read-only access to assigned projects.
	RoleGuest Role = iota
	// RoleUser uploads, chats, and manages a personal workspace.
	RoleUser
	// RoleAdmin manages projects and teams.
	RoleAdmin
	// RoleSuperAdmin is the platform owner with every permission.
	RoleSuperAdmin
)

// String returns the wire representation of the role.
func (r Role) String() string {
	switch r {
	case RoleSuperAdmin:
		return "super_admin"
	case RoleAdmin:
		return "admin"
	case RoleUser:
		return "user"
	case RoleGuest:
		return "guest"
	default:
		return "unknown"
	}
}

// ParseRole converts a wire role name into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "super_admin":
		return RoleSuperAdmin, nil
	case "admin":
		return RoleAdmin, nil
	case "user":
		return RoleUser, nil
	case "guest":
		return RoleGuest, nil
	default:
		return RoleGuest, fmt.Errorf("unknown role %q", s)
	}
}

// AdminTier reports whether the role is admin or super_admin.
func (r Role) AdminTier() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Permission names an action a role may perform.
type Permission string

// Named permissions. PermissionAll is the super-admin universal grant.
const (
	PermissionAll Permission = "all"

	PermissionManageUsers        Permission = "manage_users"
	PermissionManageProjects     Permission = "manage_projects"
	PermissionManageDocuments    Permission = "manage_documents"
	PermissionUploadDocuments    Permission = "upload_documents"
	PermissionDeleteProjectDocs  Permission = "delete_project_documents"
	PermissionDeleteOwnDocuments Permission = "delete_own_documents"
	PermissionChat               Permission = "chat"
	PermissionChatLimited        Permission = "chat_limited"
	PermissionViewAll            Permission = "view_all"
	PermissionViewAssigned       Permission = "view_assigned"
	PermissionViewAnalytics      Permission = "view_analytics"
	PermissionViewAudit          Permission = "view_audit"
	PermissionManagePersonal     Permission = "manage_personal"
	PermissionAdminAccess        Permission = "admin_access"
)

// rolePermissions is the static role-to-permission table. Super admin holds
// the universal grant instead of an enumeration.
var rolePermissions = map[Role][]Permission{
	RoleSuperAdmin: {
		PermissionAll,
	},
	RoleAdmin: {
		PermissionManageUsers,
		PermissionManageProjects,
		PermissionManageDocuments,
		PermissionUploadDocuments,
		PermissionDeleteProjectDocs,
		PermissionChat,
		PermissionViewAll,
		PermissionViewAnalytics,
		PermissionViewAudit,
		PermissionAdminAccess,
	},
	RoleUser: {
		PermissionUploadDocuments,
		PermissionDeleteOwnDocuments,
		PermissionChat,
		PermissionViewAssigned,
		PermissionManagePersonal,
	},
	RoleGuest: {
		PermissionChatLimited,
		PermissionViewAssigned,
	},
}

// RolePermissions returns the fixed permission set for a role. The returned
// slice is a copy; callers may mutate it freely.
func RolePermissions(r Role) []Permission {
	perms := rolePermissions[r]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// HasPermission reports whether a role grants the given permission.
// The universal grant matches everything.
func HasPermission(r Role, p Permission) bool {
	for _, perm := range rolePermissions[r] {
		if perm == PermissionAll || perm == p {
			return true
		}
	}
	return false
}
