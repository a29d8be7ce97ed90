package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/knova/knova/internal/authz"
)

// staticPrincipals is a token-to-principal table parsed from the
// KNOVA_API_TOKENS environment variable. Identity and token issuance live
// outside the core; this covers deployments where the platform gateway
// injects pre-shared service tokens.
type staticPrincipals map[string]authz.Principal

var errUnknownToken = errors.New("unknown token")

// ResolvePrincipal implements api.PrincipalResolver.
func (s staticPrincipals) ResolvePrincipal(_ context.Context, token string) (authz.Principal, error) {
	p, ok := s[token]
	if !ok {
		return authz.Principal{}, errUnknownToken
	}
	return p, nil
}

// principalsFromEnv parses "token:user-id:role[,token:user-id:role...]".
func principalsFromEnv(raw string) (staticPrincipals, error) {
	principals := make(staticPrincipals)
	if raw == "" {
		return principals, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed entry %q (want token:user-id:role)", entry)
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id in %q: %w", entry, err)
		}
		role, err := authz.ParseRole(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid role in %q: %w", entry, err)
		}
		principals[parts[0]] = authz.Principal{ID: id, Role: role, Active: true}
	}
	return principals, nil
}
