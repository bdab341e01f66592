package auth

// Well-known permission names used by the management API. Seed data creates
// them; checks at the boundary reference them by constant.
const (
	PermRoleRead         = "iam.role.read"
	PermRoleManage       = "iam.role.manage"
	PermPermissionRead   = "iam.permission.read"
	PermPermissionManage = "iam.permission.manage"
	PermUserRead         = "iam.user.read"
	PermUserManage       = "iam.user.manage"
)
