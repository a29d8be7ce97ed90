package authz

import (
	"slices"
	"testing"
)

var (
	superAdmin = Principal{ID: 1, Role: RoleSuperAdmin, Active: true}
	admin      = Principal{ID: 2, Role: RoleAdmin, Active: true}
	alice      = Principal{ID: 10, Role: RoleUser, Active: true}
	bob        = Principal{ID: 11, Role: RoleUser, Active: true}
	guest      = Principal{ID: 20, Role: RoleGuest, Active: true}
)

func testProjects() []Project {
	return []Project{
		{ID: 100, CreatedBy: alice.ID, Private: true, Active: true},
		{ID: 101, CreatedBy: admin.ID, Private: true, Active: true,
			Members: []Member{{UserID: bob.ID, Admin: false}, {UserID: guest.ID}}},
		{ID: 102, CreatedBy: admin.ID, Private: false, Active: true},
		{ID: 103, CreatedBy: admin.ID, Private: false, Active: false},
		{ID: 104, CreatedBy: admin.ID, Private: true, Active: true,
			Members: []Member{{UserID: bob.ID, Admin: true}}},
	}
}

func TestRolePermissions(t *testing.T) {
	t.Parallel()

	if !HasPermission(RoleSuperAdmin, PermissionManageUsers) {
		t.Error("super admin must hold every permission via the universal grant")
	}
	if !HasPermission(RoleUser, PermissionChat) {
		t.Error("user role should grant chat")
	}
	if HasPermission(RoleUser, PermissionManageUsers) {
		t.Error("user role must not grant manage_users")
	}
	if HasPermission(RoleGuest, PermissionUploadDocuments) {
		t.Error("guest role must not grant uploads")
	}
	if !HasPermission(RoleGuest, PermissionChatLimited) {
		t.Error("guest role should grant limited chat")
	}
}

func TestRolePermissions_ReturnsCopy(t *testing.T) {
	t.Parallel()

	perms := RolePermissions(RoleUser)
	perms[0] = Permission("mutated")
	if RolePermissions(RoleUser)[0] == Permission("mutated") {
		t.Error("RolePermissions must return a defensive copy")
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	for _, role := range []Role{RoleSuperAdmin, RoleAdmin, RoleUser, RoleGuest} {
		got, err := ParseRole(role.String())
		if err != nil {
			t.Fatalf("ParseRole(%q) error: %v", role.String(), err)
		}
		if got != role {
			t.Errorf("ParseRole(%q) = %v, want %v", role.String(), got, role)
		}
	}

	if _, err := ParseRole("root"); err == nil {
		t.Error("ParseRole should reject unknown roles")
	}
}

func TestAccessibleProjectIDs(t *testing.T) {
	t.Parallel()

	projects := testProjects()

	tests := []struct {
		name string
		p    Principal
		want []int64
	}{
		{"super admin sees all active", superAdmin, []int64{100, 101, 102, 104}},
		{"admin sees all active", admin, []int64{100, 101, 102, 104}},
		{"user sees created plus public", alice, []int64{100, 102}},
		{"user sees assigned plus public", bob, []int64{101, 102, 104}},
		{"guest sees assigned plus public", guest, []int64{101, 102}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := AccessibleProjectIDs(tt.p, projects)
			slices.Sort(got)
			if !slices.Equal(got, tt.want) {
				t.Errorf("AccessibleProjectIDs() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Accessible projects must be a superset of created projects and of all
// public active projects, for every role.
func TestAccessibleProjectIDs_SupersetProperty(t *testing.T) {
	t.Parallel()

	projects := testProjects()
	for _, p := range []Principal{superAdmin, admin, alice, bob, guest} {
		got := AccessibleProjectIDs(p, projects)
		for _, proj := range projects {
			if !proj.Active {
				continue
			}
			mustSee := proj.CreatedBy == p.ID || !proj.Private
			if mustSee && !slices.Contains(got, proj.ID) {
				t.Errorf("role %v: project %d missing from accessible set %v",
					p.Role, proj.ID, got)
			}
		}
	}
}

func TestAccessibleProjectIDs_InactivePrincipal(t *testing.T) {
	t.Parallel()

	disabled := Principal{ID: 10, Role: RoleUser, Active: false}
	if got := AccessibleProjectIDs(disabled, testProjects()); len(got) != 0 {
		t.Errorf("inactive principal should see no projects, got %v", got)
	}
}

func TestCanAccessProject(t *testing.T) {
	t.Parallel()

	private := Project{ID: 101, CreatedBy: admin.ID, Private: true, Active: true,
		Members: []Member{{UserID: bob.ID, Admin: false}}}
	withProjAdmin := Project{ID: 104, CreatedBy: admin.ID, Private: true, Active: true,
		Members: []Member{{UserID: bob.ID, Admin: true}}}
	public := Project{ID: 102, CreatedBy: admin.ID, Private: false, Active: true}

	tests := []struct {
		name         string
		p            Principal
		proj         Project
		requireAdmin bool
		want         bool
	}{
		{"super admin always", superAdmin, private, true, true},
		{"admin without require_admin", admin, private, false, true},
		{"creator has admin access", admin, private, true, true},
		{"member can view", bob, private, false, true},
		{"plain member is not project admin", bob, private, true, false},
		{"project-admin member", bob, withProjAdmin, true, true},
		{"non-member denied private", alice, private, false, false},
		{"public viewable by non-member", alice, public, false, true},
		{"public not admin-manageable", alice, public, true, false},
		{"inactive principal denied", Principal{ID: 2, Role: RoleAdmin}, private, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := CanAccessProject(tt.p, tt.proj, tt.requireAdmin); got != tt.want {
				t.Errorf("CanAccessProject() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanAccessDocument(t *testing.T) {
	t.Parallel()

	proj := Project{ID: 101, CreatedBy: admin.ID, Private: true, Active: true,
		Members: []Member{{UserID: bob.ID, Admin: false}, {UserID: alice.ID, Admin: true}}}

	orgDoc := Document{ID: 1, ProjectID: 101, UploadedBy: bob.ID, Scope: ScopeOrganization}
	projDoc := Document{ID: 2, ProjectID: 101, UploadedBy: bob.ID, Scope: ScopeProject}
	personalDoc := Document{ID: 3, ProjectID: 101, UploadedBy: bob.ID, Scope: ScopePersonal}

	tests := []struct {
		name   string
		p      Principal
		doc    Document
		action Action
		want   bool
	}{
		// Personal scope: only uploader and super admin.
		{"personal: owner edits", bob, personalDoc, ActionEdit, true},
		{"personal: super admin views", superAdmin, personalDoc, ActionView, true},
		{"personal: admin denied", admin, personalDoc, ActionView, false},
		{"personal: other user denied", alice, personalDoc, ActionView, false},

		// Organization scope: anyone views, only owner/admin-tier edits.
		{"organization: non-member views", guest, orgDoc, ActionView, true},
		{"organization: non-owner cannot edit", alice, orgDoc, ActionEdit, false},
		{"organization: admin edits", admin, orgDoc, ActionEdit, true},
		{"organization: owner edits", bob, orgDoc, ActionEdit, true},

		// Project scope: membership governs view, project admin governs edit.
		{"project: member views", bob, projDoc, ActionView, true},
		{"project: project-admin member edits", alice, projDoc, ActionEdit, true},
		{"project: admin bypass", admin, projDoc, ActionDelete, true},
		{"project: outsider denied", guest, Document{ID: 4, ProjectID: 999, UploadedBy: bob.ID, Scope: ScopeProject}, ActionView, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := proj
			if tt.doc.ProjectID != proj.ID {
				p = Project{ID: tt.doc.ProjectID, CreatedBy: admin.ID, Private: true, Active: true}
			}
			if got := CanAccessDocument(tt.p, tt.doc, p, tt.action); got != tt.want {
				t.Errorf("CanAccessDocument() = %v, want %v", got, tt.want)
			}
		})
	}
}

// The admin bypass must come before scope rules: an admin viewing an
// organization document they do not own would otherwise be denied edit by
// the view-only organization rule.
func TestCanAccessDocument_GuardOrdering(t *testing.T) {
	t.Parallel()

	proj := Project{ID: 101, CreatedBy: superAdmin.ID, Private: true, Active: true}
	orgDoc := Document{ID: 1, ProjectID: 101, UploadedBy: bob.ID, Scope: ScopeOrganization}

	if !CanAccessDocument(admin, orgDoc, proj, ActionDelete) {
		t.Error("admin bypass must precede the organization view-only rule")
	}

	ownPersonal := Document{ID: 2, ProjectID: 101, UploadedBy: admin.ID, Scope: ScopePersonal}
	if !CanAccessDocument(admin, ownPersonal, proj, ActionEdit) {
		t.Error("ownership must precede the personal-scope denial for admins")
	}
}

func TestCanDeleteDocument(t *testing.T) {
	t.Parallel()

	proj := Project{ID: 101, CreatedBy: superAdmin.ID, Private: true, Active: true,
		Members: []Member{{UserID: alice.ID, Admin: true}, {UserID: bob.ID, Admin: false}}}
	doc := Document{ID: 1, ProjectID: 101, UploadedBy: bob.ID, Scope: ScopeProject}

	tests := []struct {
		name string
		p    Principal
		want bool
	}{
		{"owner", bob, true},
		{"super admin", superAdmin, true},
		{"platform admin deletes non-owned project doc", admin, true},
		{"project-admin member", alice, true},
		{"unrelated guest", guest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := CanDeleteDocument(tt.p, doc, proj); got != tt.want {
				t.Errorf("CanDeleteDocument() = %v, want %v", got, tt.want)
			}
		})
	}
}
