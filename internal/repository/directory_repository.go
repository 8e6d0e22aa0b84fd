package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/helpdesk-kit/ticket-lifecycle/internal/domain"
)

const directoryColumns = `id, uid, name, email, password_hash, role_id, category_id, is_active, created_at, updated_at`

// DirectoryRepository is read-only access to the company directory.
type DirectoryRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.DirectoryUser, error)
	GetByUID(ctx context.Context, uid string) (*domain.DirectoryUser, error)
	GetByEmail(ctx context.Context, email string) (*domain.DirectoryUser, error)
	GetByName(ctx context.Context, name string) (*domain.DirectoryUser, error)
	ListActiveByCategory(ctx context.Context, categoryID int64) ([]domain.DirectoryUser, error)
	ListActiveByRole(ctx context.Context, roleID int) ([]domain.DirectoryUser, error)
}

type directoryRepository struct {
	db DB
}

// NewDirectoryRepository returns a Postgres-backed implementation.
func NewDirectoryRepository(db DB) DirectoryRepository {
	return &directoryRepository{db: db}
}

func (r *directoryRepository) GetByID(ctx context.Context, id int64) (*domain.DirectoryUser, error) {
	return r.fetchSingle(ctx, `SELECT `+directoryColumns+` FROM directory_users WHERE id=$1`, id)
}

func (r *directoryRepository) GetByUID(ctx context.Context, uid string) (*domain.DirectoryUser, error) {
	return r.fetchSingle(ctx, `SELECT `+directoryColumns+` FROM directory_users WHERE uid=$1`, uid)
}

func (r *directoryRepository) GetByEmail(ctx context.Context, email string) (*domain.DirectoryUser, error) {
	return r.fetchSingle(ctx, `SELECT `+directoryColumns+` FROM directory_users WHERE LOWER(email)=LOWER($1)`, email)
}

func (r *directoryRepository) GetByName(ctx context.Context, name string) (*domain.DirectoryUser, error) {
	return r.fetchSingle(ctx, `SELECT `+directoryColumns+` FROM directory_users WHERE LOWER(name)=LOWER($1)`, name)
}

func (r *directoryRepository) ListActiveByCategory(ctx context.Context, categoryID int64) ([]domain.DirectoryUser, error) {
	const query = `SELECT ` + directoryColumns + ` FROM directory_users WHERE category_id=$1 AND is_active`
	rows, err := r.db.Query(ctx, query, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDirectoryUsers(rows)
}

func (r *directoryRepository) ListActiveByRole(ctx context.Context, roleID int) ([]domain.DirectoryUser, error) {
	const query = `SELECT ` + directoryColumns + ` FROM directory_users WHERE role_id=$1 AND is_active ORDER BY id ASC`
	rows, err := r.db.Query(ctx, query, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDirectoryUsers(rows)
}

func (r *directoryRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.DirectoryUser, error) {
	var user domain.DirectoryUser
	if err := scanDirectoryUser(r.db.QueryRow(ctx, query, arg), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func scanDirectoryUser(row pgx.Row, user *domain.DirectoryUser) error {
	return row.Scan(
		&user.ID,
		&user.UID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.RoleID,
		&user.CategoryID,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
}

func scanDirectoryUsers(rows pgx.Rows) ([]domain.DirectoryUser, error) {
	var result []domain.DirectoryUser
	for rows.Next() {
		var user domain.DirectoryUser
		if err := scanDirectoryUser(rows, &user); err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	return result, rows.Err()
}
