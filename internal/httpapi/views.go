package httpapi

import (
	"time"

	"minerva.org/internal/auth"
)

type permissionView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type roleView struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	DisplayName  string           `json:"display_name"`
	Description  string           `json:"description,omitempty"`
	RoleType     string           `json:"role_type"`
	IsSystemRole bool             `json:"is_system_role"`
	Permissions  []permissionView `json:"permissions"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type userView struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	Status     string    `json:"status"`
	Roles      []string  `json:"roles"`
	KeyVersion int64     `json:"key_version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type tokenPairView struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func viewPermission(p auth.Permission) permissionView {
	return permissionView{
		ID:          p.ID,
		Name:        p.Name.String(),
		DisplayName: p.DisplayName,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func viewPermissions(perms []auth.Permission) []permissionView {
	views := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		views = append(views, viewPermission(p))
	}
	return views
}

func viewRole(r *auth.Role) roleView {
	return roleView{
		ID:           r.ID,
		Name:         r.Name,
		DisplayName:  r.DisplayName,
		Description:  r.Description,
		RoleType:     string(r.RoleType),
		IsSystemRole: r.IsSystemRole,
		Permissions:  viewPermissions(r.Permissions()),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func viewUser(u *auth.User) userView {
	roles := u.Roles()
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return userView{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		FullName:   u.Profile.FullName,
		AvatarURL:  u.Profile.AvatarURL,
		Status:     string(u.Status),
		Roles:      names,
		KeyVersion: u.KeyVersion(),
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func viewTokenPair(pair auth.TokenPair) tokenPairView {
	return tokenPairView{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}
