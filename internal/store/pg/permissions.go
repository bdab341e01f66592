package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"minerva.org/internal/auth"
)

// Permissions is the PostgreSQL permission catalog repository.
type Permissions struct {
	db *sql.DB
}

const permissionColumns = `id, name, display_name, description, created_at, updated_at`

func (r *Permissions) FindByID(ctx context.Context, id string) (auth.Permission, error) {
	row := r.db.QueryRowContext(ctx, `
		select `+permissionColumns+`
		from permissions
		where id = $1
	`, id)
	return scanPermission(row)
}

func (r *Permissions) FindByName(ctx context.Context, name auth.PermissionName) (auth.Permission, error) {
	row := r.db.QueryRowContext(ctx, `
		select `+permissionColumns+`
		from permissions
		where name = $1
	`, name.String())
	return scanPermission(row)
}

func (r *Permissions) List(ctx context.Context) ([]auth.Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		select `+permissionColumns+`
		from permissions
		order by name
	`)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Permissions) Save(ctx context.Context, p auth.Permission) error {
	_, err := r.db.ExecContext(ctx, `
		insert into permissions (id, name, display_name, description, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (id) do update
		set display_name = excluded.display_name,
		    description  = excluded.description,
		    updated_at   = excluded.updated_at
	`, p.ID, p.Name.String(), p.DisplayName, p.Description, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

func (r *Permissions) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `delete from permissions where id = $1`, id)
	if err != nil {
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPermission(row rowScanner) (auth.Permission, error) {
	var (
		perm auth.Permission
		name string
	)
	err := row.Scan(&perm.ID, &name, &perm.DisplayName, &perm.Description, &perm.CreatedAt, &perm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Permission{}, err
	}
	perm.Name, err = auth.ParsePermissionName(name)
	if err != nil {
		return auth.Permission{}, fmt.Errorf("decode permission name: %w", err)
	}
	return perm, nil
}
