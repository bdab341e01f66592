package auth

import "errors"

// Sentinel errors raised by the RBAC core. Validation errors surface at the
// point of violation inside entity methods and propagate unchanged to the
// boundary, where they are mapped to transport codes.
var (
	// ErrPermissionFormat indicates a permission name that does not split
	// into exactly three valid dot-separated segments.
	ErrPermissionFormat = errors.New("auth: malformed permission name")

	// ErrSystemRoleImmutable is returned by every mutation attempted on a
	// system role. The role's permission set is left unchanged.
	ErrSystemRoleImmutable = errors.New("auth: system role is immutable")

	// ErrBusinessRule covers generic invariant breaches: missing referenced
	// role or permission, deleting a role still held by users, and similar.
	ErrBusinessRule = errors.New("auth: business rule violation")

	ErrInvalidInput = errors.New("auth: invalid input")
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrTokenExpired is recoverable through the refresh flow.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenInvalid marks a structurally broken or mis-signed token and is
	// not recoverable.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrTokenVersionMismatch marks a logically revoked session: the token is
	// otherwise valid but its key_version no longer matches the user's.
	// Recoverable only by a full re-login.
	ErrTokenVersionMismatch = errors.New("auth: token key version mismatch")

	ErrUserInactive  = errors.New("auth: user inactive")
	ErrUserSuspended = errors.New("auth: user suspended")
)
