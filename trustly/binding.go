package trustly

import (
	"context"
	"fmt"
	"strings"
)

// ResolveSubject maps a validated external subject to a local user via the
// issuer's attribute-matching criteria. It returns (nil, nil) when the token
// was not verified by a trusted issuer, the issuer has user binding
// disabled, no criteria are configured, or no user-lookup collaborator is
// wired.
//
// Criteria are AND-combined; an expression failure, an empty evaluated
// value, and an ambiguous lookup result are all hard errors — binding never
// picks "the first" of multiple matches.
func (c *Core) ResolveSubject(ctx context.Context, vt *ValidatedToken) (*User, error) {
	if vt == nil || vt.TrustedIssuer == nil {
		return nil, nil
	}
	ti := vt.TrustedIssuer
	if !ti.BindUser || c.users == nil {
		return nil, nil
	}
	compiled := c.criteria[ti.Issuer]
	if len(compiled) == 0 {
		return nil, nil
	}
	if vt.Claims == nil {
		return nil, ErrBindingClaimsUnavailable
	}

	filter := Filter{Clauses: make([]FilterClause, 0, len(compiled))}
	for _, crit := range compiled {
		value, err := crit.Evaluate(vt.Claims)
		if err != nil {
			return nil, fmt.Errorf("%w: attribute %s: %w", ErrBindingEvaluation, crit.Attribute(), err)
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return nil, fmt.Errorf("%w: attribute %s", ErrBindingEmptyValue, crit.Attribute())
		}
		filter.Clauses = append(filter.Clauses, FilterClause{Attribute: crit.Attribute(), Value: value})
	}
	if len(filter.Clauses) == 0 {
		return nil, ErrBindingNoCriteria
	}

	users, err := c.users.Search(ctx, c.cfg.Domain, filter)
	if err != nil {
		return nil, fmt.Errorf("user binding lookup: %w", err)
	}
	switch len(users) {
	case 0:
		return nil, ErrBindingUserNotFound
	case 1:
		u := users[0]
		return &u, nil
	default:
		return nil, fmt.Errorf("%w: %d matches", ErrBindingAmbiguous, len(users))
	}
}
