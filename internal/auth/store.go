package auth

import "context"

// UserRepository persists the User aggregate. Save writes the whole
// aggregate (identity, roles and key_version) atomically in one
// transaction.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	Save(ctx context.Context, u *User) error
}

// RoleRepository manages role records.
type RoleRepository interface {
	FindByID(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Save(ctx context.Context, r *Role) error
	Delete(ctx context.Context, id string) error
}

// PermissionRepository manages the permission catalog.
type PermissionRepository interface {
	FindByID(ctx context.Context, id string) (Permission, error)
	FindByName(ctx context.Context, name PermissionName) (Permission, error)
	List(ctx context.Context) ([]Permission, error)
	Save(ctx context.Context, p Permission) error
	Delete(ctx context.Context, id string) error
}
