package pg

import (
	"context"
	"database/sql"
	"errors"

	"minerva.org/internal/auth"
)

// Roles is the PostgreSQL role repository.
type Roles struct {
	db *sql.DB
}

const roleColumns = `id, name, display_name, description, role_type, is_system_role, created_at, updated_at`

type roleRow struct {
	ID, Name, DisplayName, Description, RoleType string
	IsSystem                                     bool
	CreatedAt, UpdatedAt                         sql.NullTime
}

func (r *Roles) FindByID(ctx context.Context, id string) (*auth.Role, error) {
	row := r.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where id = $1
	`, id)
	return r.scanRoleWithPermissions(ctx, row)
}

func (r *Roles) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	row := r.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles
		where name = $1
	`, name)
	return r.scanRoleWithPermissions(ctx, row)
}

func (r *Roles) List(ctx context.Context) ([]*auth.Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		select `+roleColumns+`
		from roles
		order by name
	`)
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

	result := make([]*auth.Role, 0, len(raws))
	for _, raw := range raws {
		role, err := r.restore(ctx, raw)
		if err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	return result, nil
}

// Save upserts the role row and rewrites its permission links in one
// transaction.
func (r *Roles) Save(ctx context.Context, role *auth.Role) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into roles (id, name, display_name, description, role_type, is_system_role, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (id) do update
		set display_name = excluded.display_name,
		    description  = excluded.description,
		    updated_at   = excluded.updated_at
	`, role.ID, role.Name, role.DisplayName, role.Description, string(role.RoleType), role.IsSystemRole, role.CreatedAt, role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, role.ID); err != nil {
		return err
	}
	for i, p := range role.Permissions() {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id, position)
			values ($1, $2, $3)
		`, role.ID, p.ID, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Roles) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrBusinessRule
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (r *Roles) scanRoleWithPermissions(ctx context.Context, row rowScanner) (*auth.Role, error) {
	raw, err := scanRoleRow(row)
	if err != nil {
		return nil, err
	}
	return r.restore(ctx, raw)
}

func (r *Roles) restore(ctx context.Context, raw roleRow) (*auth.Role, error) {
	perms, err := r.rolePermissions(ctx, raw.ID)
	if err != nil {
		return nil, err
	}
	return auth.RestoreRole(raw.ID, raw.Name, raw.DisplayName, raw.Description,
		auth.RoleType(raw.RoleType), raw.IsSystem, perms, raw.CreatedAt.Time, raw.UpdatedAt.Time), nil
}

func (r *Roles) rolePermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		select p.id, p.name, p.display_name, p.description, p.created_at, p.updated_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by rp.position
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, perm)
	}
	return result, rows.Err()
}

func scanRoleRow(row rowScanner) (roleRow, error) {
	var raw roleRow
	err := row.Scan(&raw.ID, &raw.Name, &raw.DisplayName, &raw.Description,
		&raw.RoleType, &raw.IsSystem, &raw.CreatedAt, &raw.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return roleRow{}, auth.ErrNotFound
	}
	if err != nil {
		return roleRow{}, err
	}
	return raw, nil
}
