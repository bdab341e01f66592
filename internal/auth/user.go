package auth

import "time"

// UserStatus is the soft lifecycle state of a user account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

// Profile holds display-only user attributes.
type Profile struct {
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// User is the aggregate root of the user module: identity, status, role set
// and the key_version counter that invalidates previously issued access
// tokens.
//
// KeyVersion is monotonically non-decreasing and increases by exactly one
// per invalidating operation, regardless of whether the underlying role
// membership actually changed. It detects stale sessions after the fact; it
// is not a concurrency-control primitive; concurrent mutation of the same
// persisted user must be serialized at the storage boundary.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Profile      Profile
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time

	roles      []*Role
	keyVersion int64
}

// NewUser constructs a freshly registered user: active, no roles,
// key_version zero.
func NewUser(id, username, email, passwordHash string, profile Profile) *User {
	now := time.Now().UTC()
	return &User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Profile:      profile,
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// RestoreUser rebuilds a persisted aggregate. Intended for repository
// implementations only; it performs the same role deduplication as SetRoles
// but does not touch the version counter.
func RestoreUser(id, username, email, passwordHash string, profile Profile, status UserStatus, roles []*Role, keyVersion int64, createdAt, updatedAt time.Time) *User {
	u := &User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Profile:      profile,
		Status:       status,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		keyVersion:   keyVersion,
	}
	for _, r := range roles {
		if r != nil && !u.HasRole(r.Name) {
			u.roles = append(u.roles, r)
		}
	}
	return u
}

// KeyVersion returns the current session-invalidation counter.
func (u *User) KeyVersion() int64 { return u.keyVersion }

// Roles returns a snapshot copy of the role set in insertion order.
func (u *User) Roles() []*Role {
	out := make([]*Role, len(u.roles))
	copy(out, u.roles)
	return out
}

// HasRole reports whether a role with the given name is assigned.
func (u *User) HasRole(name string) bool {
	for _, r := range u.roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// AddRole assigns the role unless one with the same name is already present.
// The key version is bumped unconditionally, even when the membership did
// not change.
func (u *User) AddRole(role *Role) {
	if role != nil && !u.HasRole(role.Name) {
		u.roles = append(u.roles, role)
	}
	u.bumpKeyVersion()
}

// RemoveRole removes the named role if present, no-op otherwise. The key
// version is bumped unconditionally.
func (u *User) RemoveRole(name string) {
	for i, r := range u.roles {
		if r.Name == name {
			u.roles = append(u.roles[:i], u.roles[i+1:]...)
			break
		}
	}
	u.bumpKeyVersion()
}

// SetRoles replaces the whole role set, deduplicated by name. The key
// version is bumped unconditionally.
func (u *User) SetRoles(roles []*Role) {
	u.roles = nil
	for _, r := range roles {
		if r != nil && !u.HasRole(r.Name) {
			u.roles = append(u.roles, r)
		}
	}
	u.bumpKeyVersion()
}

// InvalidatePermissionCache bumps the key version with no other side
// effect. Called after password changes and admin actions that alter
// effective permissions outside the role mutation methods.
func (u *User) InvalidatePermissionCache() {
	u.bumpKeyVersion()
}

// ChangePassword stores the new hash and invalidates existing sessions.
func (u *User) ChangePassword(newHash string) {
	u.PasswordHash = newHash
	u.bumpKeyVersion()
}

// Suspend moves the account to the suspended state.
func (u *User) Suspend() {
	u.Status = UserStatusSuspended
	u.UpdatedAt = time.Now().UTC()
}

// Deactivate moves the account to the inactive state. There is no hard
// delete in this core.
func (u *User) Deactivate() {
	u.Status = UserStatusInactive
	u.UpdatedAt = time.Now().UTC()
}

// Activate returns the account to the active state.
func (u *User) Activate() {
	u.Status = UserStatusActive
	u.UpdatedAt = time.Now().UTC()
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool { return u.Status == UserStatusActive }

// EnsureActive returns the status-specific rejection for non-active
// accounts. Authorization-level, distinct from authentication failures.
func (u *User) EnsureActive() error {
	switch u.Status {
	case UserStatusSuspended:
		return ErrUserSuspended
	case UserStatusInactive:
		return ErrUserInactive
	default:
		return nil
	}
}

func (u *User) bumpKeyVersion() {
	u.keyVersion++
	u.UpdatedAt = time.Now().UTC()
}
