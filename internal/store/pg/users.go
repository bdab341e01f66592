package pg

import (
	"context"
	"database/sql"
	"errors"

	"minerva.org/internal/auth"
)

// Users is the PostgreSQL user aggregate repository.
type Users struct {
	db *sql.DB
}

const userColumns = `id, username, email, password_hash, full_name, avatar_url, status, key_version, created_at, updated_at`

type userRow struct {
	ID, Username, Email, PasswordHash string
	FullName, AvatarURL, Status       string
	KeyVersion                        int64
	CreatedAt, UpdatedAt              sql.NullTime
}

func (r *Users) FindByID(ctx context.Context, id string) (*auth.User, error) {
	row := r.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1
	`, id)
	return r.scanUserWithRoles(ctx, row)
}

func (r *Users) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := r.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where username = $1
	`, username)
	return r.scanUserWithRoles(ctx, row)
}

// Save persists the whole aggregate (identity, role links and key_version)
// atomically in one transaction. Every column round-trips, username
// included; the unique index on username still surfaces as ErrConflict.
func (r *Users) Save(ctx context.Context, u *auth.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into users (id, username, email, password_hash, full_name, avatar_url, status, key_version, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		on conflict (id) do update
		set username      = excluded.username,
		    email         = excluded.email,
		    password_hash = excluded.password_hash,
		    full_name     = excluded.full_name,
		    avatar_url    = excluded.avatar_url,
		    status        = excluded.status,
		    key_version   = excluded.key_version,
		    updated_at    = excluded.updated_at
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Profile.FullName, u.Profile.AvatarURL,
		string(u.Status), u.KeyVersion(), u.CreatedAt, u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, u.ID); err != nil {
		return err
	}
	for i, role := range u.Roles() {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id, position)
			values ($1, $2, $3)
		`, u.ID, role.ID, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Users) scanUserWithRoles(ctx context.Context, row rowScanner) (*auth.User, error) {
	var raw userRow
	err := row.Scan(&raw.ID, &raw.Username, &raw.Email, &raw.PasswordHash,
		&raw.FullName, &raw.AvatarURL, &raw.Status, &raw.KeyVersion,
		&raw.CreatedAt, &raw.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	roles, err := r.userRoles(ctx, raw.ID)
	if err != nil {
		return nil, err
	}
	profile := auth.Profile{FullName: raw.FullName, AvatarURL: raw.AvatarURL}
	return auth.RestoreUser(raw.ID, raw.Username, raw.Email, raw.PasswordHash, profile,
		auth.UserStatus(raw.Status), roles, raw.KeyVersion, raw.CreatedAt.Time, raw.UpdatedAt.Time), nil
}

func (r *Users) userRoles(ctx context.Context, userID string) ([]*auth.Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		select r.id, r.name, r.display_name, r.description, r.role_type, r.is_system_role, r.created_at, r.updated_at
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by ur.position
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raws []roleRow
	for rows.Next() {
		raw, err := scanRoleRow(rows)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	loader := &Roles{db: r.db}
	roles := make([]*auth.Role, 0, len(raws))
	for _, raw := range raws {
		role, err := loader.restore(ctx, raw)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}
