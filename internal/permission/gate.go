package permission

import "fmt"

// AuthorizationError signals that a guarded operation was attempted without
// the required capability. Callers decide whether it maps to a 403 response
// or a hidden affordance; it is never swallowed here.
type AuthorizationError struct {
	Capability Capability
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("permission: %s required", e.Capability)
}

// Authorize reports whether the resolved set grants c. It is a pure lookup:
// no I/O, no re-derivation, so callers may hold a cached Resolution and gate
// hot paths without touching the stores. Unrecognized capabilities are
// always denied.
func Authorize(resolved Set, c Capability) bool {
	if !Recognized(c) {
		return false
	}
	return resolved.Get(c)
}

// RequireOrDeny returns an *AuthorizationError when the resolved set does
// not grant c, nil otherwise.
func RequireOrDeny(resolved Set, c Capability) error {
	if Authorize(resolved, c) {
		return nil
	}
	return &AuthorizationError{Capability: c}
}
