// Package identity resolves bearer credentials into principals. Credentials
// are issued elsewhere; this package only verifies them.
package identity

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Anonymous is the subject the upstream auth layer reports for an unset identity.
const Anonymous = "anonymousUser"

const (
	RoleAdmin    = "ADMIN"
	RoleLecturer = "LECTURER"
	RoleStudent  = "STUDENT"
	RoleParent   = "PARENT"
)

type Principal struct {
	SubjectID string
	Name      string
	Roles     []string
	ExpiresAt time.Time
}

func (p Principal) HasRole(role string) bool {
	return slices.ContainsFunc(p.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

// Valid reports whether the principal names a real subject and has not expired at now.
func (p Principal) Valid(now time.Time) bool {
	if p.SubjectID == "" || p.SubjectID == Anonymous {
		return false
	}
	return p.ExpiresAt.IsZero() || now.Before(p.ExpiresAt)
}

// DisplayName falls back to the subject id.
func (p Principal) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.SubjectID
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type Resolver interface {
	Resolve(ctx context.Context, token string) (Principal, error)
}
