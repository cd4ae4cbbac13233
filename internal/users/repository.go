package users

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/repairdesk/repairdesk/internal/platform/db"
	"github.com/repairdesk/repairdesk/internal/shared"
)

const userColumns = `id, email, name, role, is_active, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return collectUsers(rows)
}

// ListByRole returns active users of role ordered by name.
func (r *Repository) ListByRole(ctx context.Context, role Role) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users
WHERE role = $1 AND is_active
ORDER BY name`, role)
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	return collectUsers(rows)
}

// InsertUser stores a new user.
func (r *Repository) InsertUser(ctx context.Context, u User) (User, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO users (email, name, role) VALUES ($1, $2, $3)
RETURNING id, is_active, created_at, updated_at`, u.Email, u.Name, u.Role).
		Scan(&u.ID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}
