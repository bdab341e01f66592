package auth

import (
	"fmt"
	"time"
)

// RoleType classifies the built-in role families.
type RoleType string

const (
	RoleTypeAdmin     RoleType = "admin"
	RoleTypeDeveloper RoleType = "developer"
	RoleTypeUser      RoleType = "user"
)

// Role is a named set of permissions. System roles have their permission set
// fixed at construction: every mutation fails with ErrSystemRoleImmutable.
//
// Two roles are considered the same when their names match, and role sets
// deduplicate by name accordingly.
type Role struct {
	ID           string
	Name         string
	DisplayName  string
	Description  string
	RoleType     RoleType
	IsSystemRole bool
	CreatedAt    time.Time
	UpdatedAt    time.Time

	permissions []Permission
}

// NewRole constructs a mutable role. The permission list is deduplicated by
// permission name, first occurrence wins.
func NewRole(id, name, displayName, description string, roleType RoleType, perms []Permission) *Role {
	now := time.Now().UTC()
	r := &Role{
		ID:          id,
		Name:        name,
		DisplayName: displayName,
		Description: description,
		RoleType:    roleType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, p := range perms {
		if !r.HasPermission(p.Name) {
			r.permissions = append(r.permissions, p)
		}
	}
	return r
}

// RestoreRole rebuilds a persisted role, system flag and timestamps
// included. Intended for repository implementations only.
func RestoreRole(id, name, displayName, description string, roleType RoleType, isSystem bool, perms []Permission, createdAt, updatedAt time.Time) *Role {
	r := NewRole(id, name, displayName, description, roleType, perms)
	r.IsSystemRole = isSystem
	r.CreatedAt = createdAt
	r.UpdatedAt = updatedAt
	return r
}

// NewSystemRole constructs a role whose permission set can never change.
func NewSystemRole(id, name, displayName, description string, roleType RoleType, perms []Permission) *Role {
	r := NewRole(id, name, displayName, description, roleType, perms)
	r.IsSystemRole = true
	return r
}

// Equal compares roles by name.
func (r *Role) Equal(other *Role) bool {
	return other != nil && r.Name == other.Name
}

// Permissions returns a snapshot copy of the held permissions in insertion
// order.
func (r *Role) Permissions() []Permission {
	out := make([]Permission, len(r.permissions))
	copy(out, r.permissions)
	return out
}

// HasPermission reports whether a permission with the given name is held.
// The comparison is exact, without wildcard semantics.
func (r *Role) HasPermission(name PermissionName) bool {
	for _, p := range r.permissions {
		if p.Name.Equal(name) {
			return true
		}
	}
	return false
}

// AddPermission adds p unless a permission with the same name is already
// held; re-adding is a no-op, not an error.
func (r *Role) AddPermission(p Permission) error {
	if err := r.ensureMutable(); err != nil {
		return err
	}
	if r.HasPermission(p.Name) {
		return nil
	}
	r.permissions = append(r.permissions, p)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// AddPermissions adds each permission in order with AddPermission semantics.
func (r *Role) AddPermissions(perms []Permission) error {
	if err := r.ensureMutable(); err != nil {
		return err
	}
	for _, p := range perms {
		if !r.HasPermission(p.Name) {
			r.permissions = append(r.permissions, p)
		}
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// RemovePermission removes the permission with the given name; removing an
// absent permission is a no-op.
func (r *Role) RemovePermission(name PermissionName) error {
	if err := r.ensureMutable(); err != nil {
		return err
	}
	for i, p := range r.permissions {
		if p.Name.Equal(name) {
			r.permissions = append(r.permissions[:i], r.permissions[i+1:]...)
			r.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return nil
}

// RemovePermissions removes each named permission if present.
func (r *Role) RemovePermissions(names []PermissionName) error {
	if err := r.ensureMutable(); err != nil {
		return err
	}
	for _, name := range names {
		_ = r.RemovePermission(name)
	}
	return nil
}

// SetPermissions replaces the whole permission set, deduplicated by name.
func (r *Role) SetPermissions(perms []Permission) error {
	if err := r.ensureMutable(); err != nil {
		return err
	}
	r.permissions = nil
	for _, p := range perms {
		if !r.HasPermission(p.Name) {
			r.permissions = append(r.permissions, p)
		}
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// MergePermissions returns the deduplicated union of both roles' permissions
// without mutating either role. Used for previews and conflict reporting,
// never persisted automatically.
func (r *Role) MergePermissions(other *Role) []Permission {
	merged := make([]Permission, 0, len(r.permissions))
	seen := make(map[string]struct{}, len(r.permissions))
	for _, p := range r.permissions {
		merged = append(merged, p)
		seen[p.Name.String()] = struct{}{}
	}
	if other != nil {
		for _, p := range other.permissions {
			if _, ok := seen[p.Name.String()]; ok {
				continue
			}
			seen[p.Name.String()] = struct{}{}
			merged = append(merged, p)
		}
	}
	return merged
}

// UpdateDisplay replaces the display fields. Allowed on system roles too:
// only the permission set is frozen.
func (r *Role) UpdateDisplay(displayName, description string) {
	r.DisplayName = displayName
	r.Description = description
	r.UpdatedAt = time.Now().UTC()
}

// CanBeDeleted reports whether the role may be removed from the system.
func (r *Role) CanBeDeleted() bool {
	return !r.IsSystemRole
}

func (r *Role) ensureMutable() error {
	if r.IsSystemRole {
		return fmt.Errorf("%w: role %q", ErrSystemRoleImmutable, r.Name)
	}
	return nil
}
