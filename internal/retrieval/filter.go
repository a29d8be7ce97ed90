// Package retrieval compiles authorization contexts into pre-retrieval
// filters for the vector store. Compilation happens before the similarity
// query runs, so denied content is excluded from ranking rather than
// redacted afterwards.
package retrieval

import (
	"errors"
	"fmt"

	"github.com/knova/knova/internal/authz"
	"github.com/knova/knova/internal/vector"
)

// ErrScopeDenied is returned when the requested project scope is outside the
// principal's accessible set. Distinct from an empty search result: denial is
// an authorization failure, not an absence of matching content.
var ErrScopeDenied = errors.New("project scope access denied")

// Request describes one retrieval to compile a filter for.
type Request struct {
	// DocumentIDs, when non-empty, restricts retrieval to those documents
	// and bypasses scope and project rules. Callers are trusted to have
	// verified per-document access before setting it.
	DocumentIDs []int64
}

// Compile translates an authorization context and request into a vector
// filter. A nil error with an empty filter means unrestricted search (super
// admin without a project scope).
func Compile(ac *authz.Context, req Request) (vector.Filter, error) {
	// An explicit document set overrides every scope and project rule.
	if len(req.DocumentIDs) > 0 {
		return vector.Filter{
			Must: []vector.Condition{vector.DocumentIn(req.DocumentIDs)},
		}, nil
	}

	if ac.Role == authz.RoleSuperAdmin {
		return compileSuperAdmin(ac)
	}
	return compileScoped(ac)
}

// compileSuperAdmin sees everything; a project scope only narrows.
func compileSuperAdmin(ac *authz.Context) (vector.Filter, error) {
	if ac.ProjectID == nil {
		return vector.Filter{}, nil
	}
	return vector.Filter{
		Must: []vector.Condition{vector.ProjectEquals(*ac.ProjectID)},
	}, nil
}

// compileScoped builds the filter for every non-super role: a Must clause
// narrowing to accessible projects, plus Should clauses enumerating the
// visibility reasons that admit a chunk. Admins skip the project narrowing
// but keep the Should clauses, which excludes other users' personal
// documents.
func compileScoped(ac *authz.Context) (vector.Filter, error) {
	var f vector.Filter

	if ac.ProjectID != nil {
		if !ac.HasProjectAccess(*ac.ProjectID) {
			return vector.Filter{}, fmt.Errorf("%w: project %d", ErrScopeDenied, *ac.ProjectID)
		}
		f.Must = append(f.Must, vector.ProjectEquals(*ac.ProjectID))
	} else if ac.Role != authz.RoleAdmin && len(ac.AccessibleProjects) > 0 {
		// No accessible projects means no Must narrowing at all; the
		// Should clauses alone bound visibility.
		f.Must = append(f.Must, vector.ProjectIn(ac.AccessibleProjects))
	}

	f.Should = append(f.Should,
		vector.ScopeEquals(authz.ScopeOrganization),
		vector.ScopeEquals(authz.ScopeProject),
		vector.UploaderEquals(ac.PrincipalID),
	)
	if ac.SharedIdentityID != 0 && ac.SharedIdentityID != ac.PrincipalID {
		f.Should = append(f.Should, vector.UploaderEquals(ac.SharedIdentityID))
	}
	return f, nil
}
