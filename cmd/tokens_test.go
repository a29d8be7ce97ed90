package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/knova/knova/internal/authz"
)

func TestPrincipalsFromEnv(t *testing.T) {
	t.Parallel()

	principals, err := principalsFromEnv("alpha:10:user, beta:1:super_admin")
	if err != nil {
		t.Fatalf("principalsFromEnv() error = %v", err)
	}

	p, err := principals.ResolvePrincipal(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("ResolvePrincipal(alpha) error = %v", err)
	}
	if p.ID != 10 || p.Role != authz.RoleUser || !p.Active {
		t.Errorf("alpha principal = %+v", p)
	}

	p, err = principals.ResolvePrincipal(context.Background(), "beta")
	if err != nil {
		t.Fatalf("ResolvePrincipal(beta) error = %v", err)
	}
	if p.Role != authz.RoleSuperAdmin {
		t.Errorf("beta role = %v", p.Role)
	}

	if _, err := principals.ResolvePrincipal(context.Background(), "gamma"); !errors.Is(err, errUnknownToken) {
		t.Errorf("unknown token error = %v", err)
	}
}

func TestPrincipalsFromEnv_Invalid(t *testing.T) {
	t.Parallel()

	cases := []string{
		"missing-fields",
		"tok:abc:user",
		"tok:10:wizard",
	}
	for _, raw := range cases {
		if _, err := principalsFromEnv(raw); err == nil {
			t.Errorf("principalsFromEnv(%q) = nil error, want failure", raw)
		}
	}
}

func TestPrincipalsFromEnv_Empty(t *testing.T) {
	t.Parallel()

	principals, err := principalsFromEnv("")
	if err != nil {
		t.Fatalf("principalsFromEnv(empty) error = %v", err)
	}
	if len(principals) != 0 {
		t.Errorf("principals = %d, want 0", len(principals))
	}
}
