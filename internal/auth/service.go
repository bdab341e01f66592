package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"minerva.org/internal/audit"
	"minerva.org/internal/ids"
	"minerva.org/internal/obs"
)

// Audited resource types.
const (
	ResourcePermission = "permission"
	ResourceRole       = "role"
	ResourceUser       = "user"
)

// Service provides the user module's high level RBAC operations: account
// lifecycle, token issuance, role and permission administration, and
// audited permission checks. Every permission-affecting mutation emits one
// audit record through the configured recorder.
type Service struct {
	users     UserRepository
	roles     RoleRepository
	perms     PermissionRepository
	guard     *SessionGuard
	evaluator Evaluator
	recorder  *audit.Recorder
	now       func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAuditRecorder wires the audit trail. Without one, operations still
// succeed but leave no trail.
func WithAuditRecorder(rec *audit.Recorder) ServiceOption {
	return func(s *Service) { s.recorder = rec }
}

// WithNow overrides the time source (useful for tests).
func WithNow(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the Service.
func NewService(users UserRepository, roles RoleRepository, perms PermissionRepository, guard *SessionGuard, evaluator Evaluator, opts ...ServiceOption) (*Service, error) {
	if users == nil || roles == nil || perms == nil {
		return nil, errors.New("auth: all repositories are required")
	}
	if guard == nil {
		return nil, errors.New("auth: session guard is required")
	}
	s := &Service{
		users:     users,
		roles:     roles,
		perms:     perms,
		guard:     guard,
		evaluator: evaluator,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Evaluator exposes the configured evaluator for boundary checks.
func (s *Service) Evaluator() Evaluator { return s.evaluator }

// Guard exposes the session guard for boundary authentication.
func (s *Service) Guard() *SessionGuard { return s.guard }

// --- Account lifecycle ---

// Register creates a new active user with key_version zero.
func (s *Service) Register(ctx context.Context, username, email, password string, profile Profile) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	user := NewUser(ids.New(), username, email, hash, profile)
	if err := s.users.Save(ctx, user); err != nil {
		return nil, err
	}
	rec := audit.NewRecord("user.register", ResourceUser, user.ID).
		WithActor(user.ID, user.Username).
		WithMetadata("username", user.Username)
	if err := s.audit(ctx, rec); err != nil {
		return nil, err
	}
	return user, nil
}

// Login authenticates credentials and issues a token pair. Non-active
// accounts are rejected with their status-specific error.
func (s *Service) Login(ctx context.Context, username, password string) (TokenPair, *User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return TokenPair{}, nil, ErrUnauthorized
	}
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrUnauthorized
		}
		return TokenPair{}, nil, err
	}
	if err := user.EnsureActive(); err != nil {
		return TokenPair{}, nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}
	pair, err := s.guard.IssueTokenPair(user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	rec := audit.NewRecord("user.login", ResourceUser, user.ID).
		WithActor(user.ID, user.Username).
		WithMetadata("key_version", user.KeyVersion())
	if err := s.audit(ctx, rec); err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Refresh exchanges a refresh token for a fresh pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	pair, _, err := s.guard.Refresh(ctx, refreshToken)
	return pair, err
}

// Logout bumps the key version so every outstanding access token fails
// validation with a version mismatch.
func (s *Service) Logout(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	user.InvalidatePermissionCache()
	if err := s.users.Save(ctx, user); err != nil {
		return err
	}
	rec := audit.NewRecord("user.logout", ResourceUser, user.ID).
		WithActor(user.ID, user.Username).
		WithMetadata("key_version", user.KeyVersion())
	return s.audit(ctx, rec)
}

// ChangePassword verifies the current password, stores the new hash and
// invalidates existing sessions.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrUnauthorized
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	user.ChangePassword(hash)
	if err := s.users.Save(ctx, user); err != nil {
		return err
	}
	rec := audit.NewRecord("user.password_change", ResourceUser, user.ID).
		WithActor(user.ID, user.Username).
		WithMetadata("key_version", user.KeyVersion())
	return s.audit(ctx, rec)
}

// InvalidateSessions bumps the key version with no other change; used by
// admin actions that alter effective permissions out of band.
func (s *Service) InvalidateSessions(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	user.InvalidatePermissionCache()
	if err := s.users.Save(ctx, user); err != nil {
		return err
	}
	rec := audit.NewRecord("user.sessions_invalidate", ResourceUser, user.ID).
		WithMetadata("key_version", user.KeyVersion())
	return s.audit(ctx, rec)
}

// SuspendUser moves the account to suspended. Status transitions do not
// touch key_version; access token validation re-checks live status anyway.
func (s *Service) SuspendUser(ctx context.Context, userID string) (*User, error) {
	return s.setStatus(ctx, userID, "user.suspend", (*User).Suspend)
}

// ActivateUser returns the account to active.
func (s *Service) ActivateUser(ctx context.Context, userID string) (*User, error) {
	return s.setStatus(ctx, userID, "user.activate", (*User).Activate)
}

// DeactivateUser soft-disables the account.
func (s *Service) DeactivateUser(ctx context.Context, userID string) (*User, error) {
	return s.setStatus(ctx, userID, "user.deactivate", (*User).Deactivate)
}

func (s *Service) setStatus(ctx context.Context, userID, action string, transition func(*User)) (*User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	before := map[string]any{"status": string(user.Status)}
	transition(user)
	after := map[string]any{"status": string(user.Status)}
	if err := s.users.Save(ctx, user); err != nil {
		return nil, err
	}
	rec := audit.NewRecord(action, ResourceUser, user.ID).
		WithChanges(audit.DiffFields(before, after))
	if err := s.audit(ctx, rec); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser loads a user aggregate.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	return s.users.FindByID(ctx, userID)
}

// --- Permission administration ---

// CreatePermission registers a new permission in the catalog.
func (s *Service) CreatePermission(ctx context.Context, name, displayName, description string) (Permission, error) {
	parsed, err := ParsePermissionName(strings.TrimSpace(name))
	if err != nil {
		return Permission{}, err
	}
	if _, err := s.perms.FindByName(ctx, parsed); err == nil {
		return Permission{}, fmt.Errorf("%w: permission %q", ErrConflict, parsed)
	} else if !errors.Is(err, ErrNotFound) {
		return Permission{}, err
	}
	perm := NewPermission(ids.New(), parsed, displayName, description)
	if err := s.perms.Save(ctx, perm); err != nil {
		return Permission{}, err
	}
	rec := audit.NewRecord("permission.create", ResourcePermission, perm.ID).
		WithChanges(audit.DiffFields(nil, permissionFields(perm)))
	if err := s.audit(ctx, rec); err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// UpdatePermission changes the display fields; the name itself is fixed.
func (s *Service) UpdatePermission(ctx context.Context, id, displayName, description string) (Permission, error) {
	perm, err := s.perms.FindByID(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	before := permissionFields(perm)
	perm.UpdateDisplay(displayName, description)
	if err := s.perms.Save(ctx, perm); err != nil {
		return Permission{}, err
	}
	rec := audit.NewRecord("permission.update", ResourcePermission, perm.ID).
		WithChanges(audit.DiffFields(before, permissionFields(perm)))
	if err := s.audit(ctx, rec); err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// DeletePermission removes a permission from the catalog.
func (s *Service) DeletePermission(ctx context.Context, id string) error {
	perm, err := s.perms.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.perms.Delete(ctx, perm.ID); err != nil {
		return err
	}
	rec := audit.NewRecord("permission.delete", ResourcePermission, perm.ID).
		WithMetadata("name", perm.Name.String())
	return s.audit(ctx, rec)
}

// ListPermissions returns the catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.perms.List(ctx)
}

// --- Role administration ---

// CreateRole creates a role referencing permissions by name. Referencing a
// missing permission is a business rule violation.
func (s *Service) CreateRole(ctx context.Context, name, displayName, description string, roleType RoleType, permissionNames []string) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if _, err := s.roles.FindByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: role %q", ErrConflict, name)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	perms, err := s.resolvePermissions(ctx, permissionNames)
	if err != nil {
		return nil, err
	}
	role := NewRole(ids.New(), name, displayName, description, roleType, perms)
	if err := s.roles.Save(ctx, role); err != nil {
		return nil, err
	}
	rec := audit.NewRecord("role.create", ResourceRole, role.ID).
		WithChanges(audit.DiffFields(nil, roleFields(role)))
	if err := s.audit(ctx, rec); err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRole changes the display fields of a role.
func (s *Service) UpdateRole(ctx context.Context, id, displayName, description string) (*Role, error) {
	role, err := s.roles.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := roleFields(role)
	role.UpdateDisplay(displayName, description)
	if err := s.roles.Save(ctx, role); err != nil {
		return nil, err
	}
	rec := audit.NewRecord("role.update", ResourceRole, role.ID).
		WithChanges(audit.DiffFields(before, roleFields(role)))
	if err := s.audit(ctx, rec); err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole removes a non-system role.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	role, err := s.roles.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !role.CanBeDeleted() {
		return fmt.Errorf("%w: role %q", ErrSystemRoleImmutable, role.Name)
	}
	if err := s.roles.Delete(ctx, role.ID); err != nil {
		return err
	}
	rec := audit.NewRecord("role.delete", ResourceRole, role.ID).
		WithMetadata("name", role.Name)
	return s.audit(ctx, rec)
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.roles.List(ctx)
}

// GrantRolePermission adds a catalog permission to a role. Attempts on
// system roles fail and are still audited.
func (s *Service) GrantRolePermission(ctx context.Context, roleID, permissionName string) (*Role, error) {
	role, err := s.roles.FindByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	parsed, err := ParsePermissionName(strings.TrimSpace(permissionName))
	if err != nil {
		return nil, err
	}
	perm, err := s.perms.FindByName(ctx, parsed)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: permission %q not found", ErrBusinessRule, parsed)
		}
		return nil, err
	}
	rec := audit.NewRecord("role.permission_grant", ResourceRole, role.ID).
		WithMetadata("permission", parsed.String())
	if err := role.AddPermission(perm); err != nil {
		_ = s.audit(ctx, rec.Failed(err.Error()))
		return nil, err
	}
	if err := s.roles.Save(ctx, role); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, rec); err != nil {
		return nil, err
	}
	return role, nil
}

// RevokeRolePermission removes a permission from a role; revoking an absent
// permission is a no-op.
func (s *Service) RevokeRolePermission(ctx context.Context, roleID, permissionName string) (*Role, error) {
	role, err := s.roles.FindByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	parsed, err := ParsePermissionName(strings.TrimSpace(permissionName))
	if err != nil {
		return nil, err
	}
	rec := audit.NewRecord("role.permission_revoke", ResourceRole, role.ID).
		WithMetadata("permission", parsed.String())
	if err := role.RemovePermission(parsed); err != nil {
		_ = s.audit(ctx, rec.Failed(err.Error()))
		return nil, err
	}
	if err := s.roles.Save(ctx, role); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, rec); err != nil {
		return nil, err
	}
	return role, nil
}

// --- User role assignment ---

// AssignRole adds the named role to the user. The key version is bumped
// even when the user already held the role.
func (s *Service) AssignRole(ctx context.Context, userID, roleName string) (*User, error) {
	return s.mutateRoles(ctx, userID, "user.role_assign", func(u *User) error {
		role, err := s.roles.FindByName(ctx, roleName)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: role %q not found", ErrBusinessRule, roleName)
			}
			return err
		}
		u.AddRole(role)
		return nil
	})
}

// RevokeRole removes the named role from the user; absent roles are a
// no-op for the membership but the key version is still bumped.
func (s *Service) RevokeRole(ctx context.Context, userID, roleName string) (*User, error) {
	return s.mutateRoles(ctx, userID, "user.role_revoke", func(u *User) error {
		u.RemoveRole(roleName)
		return nil
	})
}

// ReplaceRoles swaps the user's whole role set for the named roles.
func (s *Service) ReplaceRoles(ctx context.Context, userID string, roleNames []string) (*User, error) {
	return s.mutateRoles(ctx, userID, "user.roles_replace", func(u *User) error {
		roles := make([]*Role, 0, len(roleNames))
		for _, name := range roleNames {
			role, err := s.roles.FindByName(ctx, name)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return fmt.Errorf("%w: role %q not found", ErrBusinessRule, name)
				}
				return err
			}
			roles = append(roles, role)
		}
		u.SetRoles(roles)
		return nil
	})
}

func (s *Service) mutateRoles(ctx context.Context, userID, action string, mutate func(*User) error) (*User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	before := map[string]any{"roles": roleNames(user.Roles())}
	if err := mutate(user); err != nil {
		return nil, err
	}
	after := map[string]any{"roles": roleNames(user.Roles())}
	if err := s.users.Save(ctx, user); err != nil {
		return nil, err
	}
	rec := audit.NewRecord(action, ResourceUser, user.ID).
		WithChanges(audit.DiffFields(before, after)).
		WithMetadata("key_version", user.KeyVersion())
	if err := s.audit(ctx, rec); err != nil {
		return nil, err
	}
	return user, nil
}

// --- Permission checks ---

// CheckPermission evaluates the query against the user's live roles and
// records both outcomes: a granted check lists the granting roles, a denied
// one carries the denial message.
func (s *Service) CheckPermission(ctx context.Context, userID, permission string) (bool, error) {
	query, err := ParsePermissionName(strings.TrimSpace(permission))
	if err != nil {
		return false, err
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	roles := user.Roles()
	granted := s.evaluator.HasPermission(roles, query)

	rec := audit.NewRecord("permission.check", ResourceUser, user.ID).
		WithMetadata("permission", query.String())
	if granted {
		obs.ObservePermissionCheck("granted")
		rec.WithMetadata("granted_by", s.evaluator.GrantingRoles(roles, query))
	} else {
		obs.ObservePermissionCheck("denied")
		rec.Failed(fmt.Sprintf("permission denied: %s", query))
	}
	if err := s.audit(ctx, rec); err != nil {
		return granted, err
	}
	return granted, nil
}

// UserPermissions returns the user's effective permissions.
func (s *Service) UserPermissions(ctx context.Context, userID string) ([]Permission, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.evaluator.AllPermissions(user.Roles()), nil
}

// --- helpers ---

func (s *Service) resolvePermissions(ctx context.Context, names []string) ([]Permission, error) {
	perms := make([]Permission, 0, len(names))
	for _, raw := range names {
		parsed, err := ParsePermissionName(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		perm, err := s.perms.FindByName(ctx, parsed)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: permission %q not found", ErrBusinessRule, parsed)
			}
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, nil
}

// audit stamps the acting principal from the context and hands the record
// to the recorder. In synchronous mode the sink error propagates; in
// asynchronous mode delivery is best-effort and this never fails.
func (s *Service) audit(ctx context.Context, rec *audit.Record) error {
	if s.recorder == nil {
		return nil
	}
	if rec.ActorID == "" {
		if principal, ok := PrincipalFromContext(ctx); ok && principal.User != nil {
			rec.WithActor(principal.User.ID, principal.User.Username)
		}
	}
	return s.recorder.Record(ctx, rec)
}

func permissionFields(p Permission) map[string]any {
	return map[string]any{
		"name":         p.Name.String(),
		"display_name": p.DisplayName,
		"description":  p.Description,
	}
}

func roleFields(r *Role) map[string]any {
	perms := make([]string, 0, len(r.Permissions()))
	for _, p := range r.Permissions() {
		perms = append(perms, p.Name.String())
	}
	return map[string]any{
		"name":         r.Name,
		"display_name": r.DisplayName,
		"description":  r.Description,
		"role_type":    string(r.RoleType),
		"permissions":  perms,
	}
}

func roleNames(roles []*Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, r.Name)
	}
	return out
}
