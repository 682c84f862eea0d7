package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

var roleLevels = map[string]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

func HasAtLeast(roles []string, required string) bool {
	requiredLevel := roleLevels[strings.ToLower(required)]
	if requiredLevel == 0 {
		return false
	}
	maxLevel := 0
	for _, role := range roles {
		level := roleLevels[strings.ToLower(strings.TrimSpace(role))]
		if level > maxLevel {
			maxLevel = level
		}
	}
	return maxLevel >= requiredLevel
}

// RequiredRoleForAction maps an API action to the least role allowed to run it. Reads need
// viewer, delete needs admin, any other write needs editor.
func RequiredRoleForAction(action string) string {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "get", "getfields", "getcount":
		return RoleViewer
	case "delete":
		return RoleAdmin
	default:
		return RoleEditor
	}
}

// ActionRoleAuthorizer authorizes with the action named by the request's "action" path
// value.
func ActionRoleAuthorizer() AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if identity.CanRun(r.PathValue("action")) {
			return nil
		}
		return ErrForbidden
	}
}
