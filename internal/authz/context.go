package authz

import (
	"context"
	"fmt"
	"log/slog"
)

// Context is the resolved authorization context for one request. It is
// recomputed per request and must never be cached across requests: project
// membership can change between turns.
type Context struct {
	PrincipalID        int64
	Role               Role
	Permissions        []Permission
	AccessibleProjects []int64

	// ProjectID is the requested project scope, if any. The retrieval
	// filter compiler validates it against AccessibleProjects.
	ProjectID *int64

	// SharedIdentityID is the platform's designated super-admin identity
	// whose documents are visible to everyone regardless of scope.
	// Zero means no shared identity is configured.
	SharedIdentityID int64
}

// HasProjectAccess reports whether id is in the accessible-project set.
func (c *Context) HasProjectAccess(id int64) bool {
	for _, p := range c.AccessibleProjects {
		if p == id {
			return true
		}
	}
	return false
}

// ProjectSource supplies project facts for context resolution. Implemented
// by the entity storage layer.
type ProjectSource interface {
	// ActiveProjects returns all active projects with membership records.
	ActiveProjects(ctx context.Context) ([]Project, error)
}

// Resolver builds authorization contexts. It is stateless beyond its
// injected dependencies and safe for concurrent use.
type Resolver struct {
	projects       ProjectSource
	sharedIdentity int64
	logger         *slog.Logger
}

// NewResolver creates a Resolver. sharedIdentityID may be zero when the
// platform has no trusted shared identity configured.
func NewResolver(projects ProjectSource, sharedIdentityID int64, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		projects:       projects,
		sharedIdentity: sharedIdentityID,
		logger:         logger,
	}
}

// Resolve computes the authorization context for a principal, optionally
// scoped to a project. Project facts are fetched fresh on every call.
func (r *Resolver) Resolve(ctx context.Context, p Principal, projectID *int64) (*Context, error) {
	projects, err := r.projects.ActiveProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading projects: %w", err)
	}

	ac := &Context{
		PrincipalID:        p.ID,
		Role:               p.Role,
		Permissions:        RolePermissions(p.Role),
		AccessibleProjects: AccessibleProjectIDs(p, projects),
		ProjectID:          projectID,
		SharedIdentityID:   r.sharedIdentity,
	}

	r.logger.Debug("resolved authorization context",
		"principal_id", p.ID,
		"role", p.Role.String(),
		"accessible_projects", len(ac.AccessibleProjects),
	)
	return ac, nil
}
