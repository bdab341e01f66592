package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"minerva.org/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store bundles the PostgreSQL-backed repositories of the user module.
type Store struct {
	db *sql.DB
}

// Open connects to the database identified by dsn.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection pool (used in tests).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Users returns the user aggregate repository.
func (s *Store) Users() *Users { return &Users{db: s.db} }

// Roles returns the role repository.
func (s *Store) Roles() *Roles { return &Roles{db: s.db} }

// Permissions returns the permission catalog repository.
func (s *Store) Permissions() *Permissions { return &Permissions{db: s.db} }

// Audit returns the persistent audit sink.
func (s *Store) Audit() *AuditSink { return &AuditSink{db: s.db} }

var (
	_ auth.UserRepository       = (*Users)(nil)
	_ auth.RoleRepository       = (*Roles)(nil)
	_ auth.PermissionRepository = (*Permissions)(nil)
)

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
