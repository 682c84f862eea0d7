package auth

import (
	"context"
	"strings"
)

// Identity is the caller of an entity action as established by an Authenticator.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

// CanRun reports whether the identity holds the role an action requires.
func (i Identity) CanRun(action string) bool {
	return HasAtLeast(i.Roles, RequiredRoleForAction(action))
}

// Actor is the name recorded in audit events: the subject, else the email.
func (i Identity) Actor() string {
	if s := strings.TrimSpace(i.Subject); s != "" {
		return s
	}
	return strings.TrimSpace(i.Email)
}

type identityKey struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey{}).(Identity)
	return v, ok
}
