package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/knova/knova/internal/log"
)

// fakeProjectSource returns a fixed project list and counts calls.
type fakeProjectSource struct {
	projects []Project
	err      error
	calls    int
}

func (f *fakeProjectSource) ActiveProjects(context.Context) ([]Project, error) {
	f.calls++
	return f.projects, f.err
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	src := &fakeProjectSource{projects: testProjects()}
	r := NewResolver(src, 1, log.NewNop())

	projectID := int64(102)
	ac, err := r.Resolve(context.Background(), alice, &projectID)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if ac.PrincipalID != alice.ID {
		t.Errorf("PrincipalID = %d, want %d", ac.PrincipalID, alice.ID)
	}
	if ac.Role != RoleUser {
		t.Errorf("Role = %v, want %v", ac.Role, RoleUser)
	}
	if ac.SharedIdentityID != 1 {
		t.Errorf("SharedIdentityID = %d, want 1", ac.SharedIdentityID)
	}
	if ac.ProjectID == nil || *ac.ProjectID != 102 {
		t.Errorf("ProjectID = %v, want 102", ac.ProjectID)
	}
	if !ac.HasProjectAccess(100) || !ac.HasProjectAccess(102) {
		t.Errorf("accessible projects %v missing created/public projects", ac.AccessibleProjects)
	}
	if ac.HasProjectAccess(101) {
		t.Error("alice must not see the private project she is not part of")
	}
}

// Membership can change between requests, so every Resolve call must
// re-fetch project facts.
func TestResolver_Resolve_NoCaching(t *testing.T) {
	t.Parallel()

	src := &fakeProjectSource{projects: testProjects()}
	r := NewResolver(src, 0, log.NewNop())

	for range 3 {
		if _, err := r.Resolve(context.Background(), bob, nil); err != nil {
			t.Fatalf("Resolve() error: %v", err)
		}
	}
	if src.calls != 3 {
		t.Errorf("project source called %d times, want 3 (no cross-request caching)", src.calls)
	}
}

func TestResolver_Resolve_SourceError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("db down")
	r := NewResolver(&fakeProjectSource{err: wantErr}, 0, log.NewNop())

	if _, err := r.Resolve(context.Background(), alice, nil); !errors.Is(err, wantErr) {
		t.Errorf("Resolve() error = %v, want wrapped %v", err, wantErr)
	}
}
