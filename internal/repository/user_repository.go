package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepository handles staff user persistence.
type UserRepository struct {
	q Querier
}

// NewUserRepository creates a new user repository.
func NewUserRepository(q Querier) *UserRepository {
	return &UserRepository{q: q}
}

const userColumns = `id, name, email, role, password_hash, last_mfa_at, created_at, updated_at`

// CreateUser inserts a user.
func (r *UserRepository) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Name, u.Email, u.Role, u.PasswordHash, u.LastMFAAt, u.CreatedAt, u.UpdatedAt)
	return storageError(err, "failed to create user")
}

// GetUser returns a user by ID.
func (r *UserRepository) GetUser(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetUserByEmail returns a user by email.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *UserRepository) getOne(ctx context.Context, query, key string) (*User, error) {
	u, err := scanUser(r.q.QueryRow(ctx, query, key))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, storageError(err, "failed to get user")
	}
	return u, nil
}

// ListUsersByRole returns the users holding role, ordered by (created_at, id).
func (r *UserRepository) ListUsersByRole(ctx context.Context, role UserRole) ([]*User, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = $1
		ORDER BY created_at ASC, id ASC
	`, role)
	if err != nil {
		return nil, storageError(err, "failed to list users")
	}
	defer rows.Close()

	users := make([]*User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storageError(err, "failed to scan user")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of users.
func (r *UserRepository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, storageError(err, "failed to count users")
	}
	return n, nil
}

// UpdateUserMFA records a completed MFA challenge.
func (r *UserRepository) UpdateUserMFA(ctx context.Context, id string, at time.Time) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	tag, err := r.q.Exec(ctx, `UPDATE users SET last_mfa_at = $1, updated_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return false, storageError(err, "failed to update user MFA")
	}
	return tag.RowsAffected() > 0, nil
}

func scanUser(sc scanner) (*User, error) {
	u := &User{}
	err := sc.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.PasswordHash, &u.LastMFAAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}
