package authz

// Scope is a document's visibility class, set at upload time by the uploader.
type Scope string

const (
	// ScopeOrganization documents are viewable by every authenticated
	// principal.
	ScopeOrganization Scope = "organization"
	// ScopeProject documents are viewable by members of the owning project.
	ScopeProject Scope = "project"
	// ScopePersonal documents are viewable only by their uploader.
	ScopePersonal Scope = "personal"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeOrganization, ScopeProject, ScopePersonal:
		return true
	}
	return false
}

// Action is the operation a principal attempts on a document.
type Action int

const (
	// ActionView reads document content.
	ActionView Action = iota
	// ActionEdit modifies document metadata or scope.
	ActionEdit
	// ActionDelete removes the document.
	ActionDelete
)

// Principal is an authenticated actor making a request.
type Principal struct {
	ID     int64
	Role   Role
	Active bool
}

// Member records a principal's assignment to a project. Admin marks
// project-level admin membership, distinct from the platform admin role.
type Member struct {
	UserID int64
	Admin  bool
}

// Project carries the facts needed for access decisions.
type Project struct {
	ID        int64
	CreatedBy int64
	Private   bool
	Active    bool
	Members   []Member
}

// member looks up the principal's membership record, if any.
func (p Project) member(userID int64) (Member, bool) {
	for _, m := range p.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

// Document carries the facts needed for document access decisions.
type Document struct {
	ID         int64
	ProjectID  int64
	UploadedBy int64
	Scope      Scope
}

// AccessibleProjectIDs returns the set of project ids the principal may see:
// everything active for admin-tier roles; otherwise projects the principal
// created, projects they are assigned to, and all public active projects.
func AccessibleProjectIDs(p Principal, projects []Project) []int64 {
	if !p.Active {
		return nil
	}

	seen := make(map[int64]bool, len(projects))
	var ids []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, proj := range projects {
		if !proj.Active {
			continue
		}
		if p.Role.AdminTier() {
			add(proj.ID)
			continue
		}
		if proj.CreatedBy == p.ID {
			add(proj.ID)
			continue
		}
		if _, ok := proj.member(p.ID); ok {
			add(proj.ID)
			continue
		}
		if !proj.Private {
			add(proj.ID)
		}
	}
	return ids
}

// CanAccessProject decides project access. With requireAdmin set, the
// principal must hold admin-level control of the project: super admin,
// project creator, or a member with project-admin role. Public projects are
// viewable by anyone but never admin-manageable by non-members.
func CanAccessProject(p Principal, proj Project, requireAdmin bool) bool {
	if !p.Active {
		return false
	}
	if p.Role == RoleSuperAdmin {
		return true
	}
	if p.Role.AdminTier() && !requireAdmin {
		return true
	}
	if proj.CreatedBy == p.ID {
		return true
	}
	if m, ok := proj.member(p.ID); ok {
		if requireAdmin {
			return m.Admin
		}
		return true
	}
	if !proj.Private {
		return !requireAdmin
	}
	return false
}

// CanAccessDocument decides document access for the given action.
//
// The guard order is load-bearing: ownership and the admin bypass are
// checked before scope rules. Reordering would deny an admin view of an
// organization document they do not own, or deny an owner their own
// personal-scope document.
func CanAccessDocument(p Principal, doc Document, proj Project, action Action) bool {
	if !p.Active {
		return false
	}

	// 1. Super admin bypass.
	if p.Role == RoleSuperAdmin {
		return true
	}

	// 2. Owners always have full access.
	if doc.UploadedBy == p.ID {
		return true
	}

	// 3. Admin-tier bypass, except others' personal documents.
	if p.Role.AdminTier() && doc.Scope != ScopePersonal {
		return true
	}

	// 4. Scope rules.
	switch doc.Scope {
	case ScopeOrganization:
		// Organization-wide documents are view-only for non-owners.
		return action == ActionView
	case ScopeProject:
		if !CanAccessProject(p, proj, false) {
			return false
		}
		if action == ActionEdit || action == ActionDelete {
			return CanAccessProject(p, proj, true)
		}
		return true
	case ScopePersonal:
		// Owner handled above; everyone else is denied.
		return false
	}
	return false
}

// CanDeleteDocument decides deletion, which is deliberately more permissive
// than generic edit for admin-tier roles: any admin may delete any non-owned
// project document (project cleanup responsibility).
func CanDeleteDocument(p Principal, doc Document, proj Project) bool {
	if !p.Active {
		return false
	}
	if p.Role == RoleSuperAdmin {
		return true
	}
	if doc.UploadedBy == p.ID {
		return true
	}
	if p.Role.AdminTier() {
		return true
	}
	return CanAccessProject(p, proj, true)
}
