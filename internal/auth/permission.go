package auth

import (
	"fmt"
	"strings"
	"time"
)

const (
	// Wildcard in a stored permission segment matches any query value at
	// that position. It carries no meaning on the query side.
	Wildcard = "*"

	// SuperAdminPermissionName short-circuits every permission check when
	// held by any of the user's roles.
	SuperAdminPermissionName = "*.*.*"
)

const permissionSegments = 3

// PermissionName is a validated "{module}.{resource}.{action}" identifier.
// The zero value is not a valid name; construct through ParsePermissionName.
type PermissionName struct {
	value    string
	segments [permissionSegments]string
}

// ParsePermissionName validates s and returns it as a PermissionName. The
// name must split into exactly three non-empty segments of letters, digits,
// underscores or the wildcard character.
func ParsePermissionName(s string) (PermissionName, error) {
	parts := strings.Split(s, ".")
	if len(parts) != permissionSegments {
		return PermissionName{}, fmt.Errorf("%w: %q must have exactly %d segments", ErrPermissionFormat, s, permissionSegments)
	}
	var name PermissionName
	for i, part := range parts {
		if part == "" {
			return PermissionName{}, fmt.Errorf("%w: %q has an empty segment", ErrPermissionFormat, s)
		}
		for _, r := range part {
			if !isPermissionRune(r) {
				return PermissionName{}, fmt.Errorf("%w: %q contains invalid character %q", ErrPermissionFormat, s, r)
			}
		}
		name.segments[i] = part
	}
	name.value = s
	return name, nil
}

// MustPermissionName is ParsePermissionName for compile-time constants; it
// panics on malformed input.
func MustPermissionName(s string) PermissionName {
	name, err := ParsePermissionName(s)
	if err != nil {
		panic(err)
	}
	return name
}

func isPermissionRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '*':
		return true
	}
	return false
}

// String returns the full dotted name.
func (n PermissionName) String() string { return n.value }

// Module returns the first segment.
func (n PermissionName) Module() string { return n.segments[0] }

// Resource returns the second segment.
func (n PermissionName) Resource() string { return n.segments[1] }

// Action returns the third segment.
func (n PermissionName) Action() string { return n.segments[2] }

// IsZero reports whether n was not produced by ParsePermissionName.
func (n PermissionName) IsZero() bool { return n.value == "" }

// Equal compares by the full string value.
func (n PermissionName) Equal(other PermissionName) bool { return n.value == other.value }

// Matches reports whether n, interpreted as a stored (held) permission,
// covers the query name. A stored segment equal to the wildcard matches any
// query value at that position; all three positions must match.
func (n PermissionName) Matches(query PermissionName) bool {
	for i := range n.segments {
		if n.segments[i] == Wildcard {
			continue
		}
		if n.segments[i] != query.segments[i] {
			return false
		}
	}
	return true
}

// Permission is an administratively created capability wrapping a
// PermissionName with display metadata. Immutable after creation except for
// the display fields.
type Permission struct {
	ID          string
	Name        PermissionName
	DisplayName string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewPermission constructs a Permission.
func NewPermission(id string, name PermissionName, displayName, description string) Permission {
	now := time.Now().UTC()
	return Permission{
		ID:          id,
		Name:        name,
		DisplayName: displayName,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Module returns the module segment of the permission name.
func (p Permission) Module() string { return p.Name.Module() }

// Resource returns the resource segment of the permission name.
func (p Permission) Resource() string { return p.Name.Resource() }

// Action returns the action segment of the permission name.
func (p Permission) Action() string { return p.Name.Action() }

// UpdateDisplay replaces the display fields. The name itself never changes.
func (p *Permission) UpdateDisplay(displayName, description string) {
	p.DisplayName = displayName
	p.Description = description
	p.UpdatedAt = time.Now().UTC()
}
