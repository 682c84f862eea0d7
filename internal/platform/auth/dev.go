package auth

import (
	"context"
	"net/http"
)

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// DevRolesHeader lets a local request act with fewer rights than the dev identity, e.g. to
// try a delete as a viewer. Roles above the dev identity's own are ignored.
const DevRolesHeader = "X-Donorline-Dev-Roles"

// DevAuthenticator accepts every request as the configured identity.
type DevAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	return &DevAuthenticator{
		identity: Identity{
			Subject: cfg.DevSubject,
			Email:   cfg.DevEmail,
			Roles:   cfg.DevRoles,
		},
	}
}

func (a *DevAuthenticator) Authenticate(_ context.Context, r *http.Request) (Identity, error) {
	id := a.identity
	requested := parseCSV(r.Header.Get(DevRolesHeader))
	if len(requested) == 0 {
		return id, nil
	}
	roles := make([]string, 0, len(requested))
	for _, role := range requested {
		if HasAtLeast(a.identity.Roles, role) {
			roles = append(roles, role)
		}
	}
	id.Roles = roles
	return id, nil
}
