package auth

import "context"

// Request describes one authorization check: a principal (identified by
// whatever the Gate implementation extracted from the transport, e.g. a
// bearer token's subject) asking to invoke a tool of a given classification.
type Request struct {
	Principal               string
	ToolName                string
	SecurityClassification  string
}

// Decision is a Gate's verdict.
type Decision struct {
	Allowed     bool
	Permissions []Permission
	Reason      string
}

// Gate is the pluggable Permission Gate (§4.8). Implementations range from
// AllowAll (no-op, local development) to BearerJWT (production, RBAC via a
// signed token's claims).
type Gate interface {
	Authorize(ctx context.Context, req Request) (Decision, error)
}

// AllowAll grants every request unconditionally. Intended for local
// development and for deployments that front the proxy with their own
// authorization layer.
type AllowAll struct{}

// Authorize always allows.
func (AllowAll) Authorize(context.Context, Request) (Decision, error) {
	return Decision{Allowed: true, Permissions: AllPermissions(), Reason: "allow_all gate"}, nil
}

// hasPermission reports whether perms contains target or PermissionAdmin.
func hasPermission(perms []Permission, target Permission) bool {
	for _, p := range perms {
		if p == target || p == PermissionAdmin {
			return true
		}
	}
	return false
}
