// Package auth implements the proxy's Permission Gate: a pluggable
// authorization check consulted before a routed tool call executes.
package auth

// Permission defines one access level a principal may hold.
type Permission string

const (
	// PermissionInvokeSafe allows calling tools classified safe.
	PermissionInvokeSafe Permission = "invoke_safe"

	// PermissionInvokeRestricted allows calling tools classified restricted.
	PermissionInvokeRestricted Permission = "invoke_restricted"

	// PermissionInvokePrivileged allows calling tools classified privileged.
	PermissionInvokePrivileged Permission = "invoke_privileged"

	// PermissionInvokeDangerous allows calling tools classified dangerous.
	PermissionInvokeDangerous Permission = "invoke_dangerous"

	// PermissionAdmin grants every invoke permission plus registry mutation
	// (visibility changes, hot reload triggers).
	PermissionAdmin Permission = "admin"
)

// AllPermissions returns all defined permissions.
func AllPermissions() []Permission {
	return []Permission{
		PermissionInvokeSafe,
		PermissionInvokeRestricted,
		PermissionInvokePrivileged,
		PermissionInvokeDangerous,
		PermissionAdmin,
	}
}

// ParsePermission converts a string to a Permission, returning "" if unknown.
func ParsePermission(s string) Permission {
	for _, p := range AllPermissions() {
		if string(p) == s {
			return p
		}
	}
	return ""
}

// requiredFor maps a tool's security classification to the permission a
// principal must hold to invoke it. A blocked tool has no permission that
// satisfies it: Authorize always denies.
func requiredFor(classification string) Permission {
	switch classification {
	case "restricted":
		return PermissionInvokeRestricted
	case "privileged":
		return PermissionInvokePrivileged
	case "dangerous":
		return PermissionInvokeDangerous
	default:
		return PermissionInvokeSafe
	}
}
