package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/autoenrol/internal/models"
)

const userColumns = `id, username, auth, lang, department, institution, address, city, email, first_name, last_name,
        deleted, suspended, site_admin, last_login`

// UserRepository reads host user records.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository constructs the repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by ID.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// Exists reports whether a non-deleted user with the ID exists.
func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND deleted = FALSE)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

// StreamSyncCandidates visits every active, non-deleted, non-admin user
// except the guest account, one row at a time.
func (r *UserRepository) StreamSyncCandidates(ctx context.Context, guestUsername string, fn func(*models.User) error) error {
	query := `SELECT ` + userColumns + ` FROM users
        WHERE deleted = FALSE AND suspended = FALSE AND site_admin = FALSE AND username <> $1
        ORDER BY id`
	rows, err := r.db.QueryxContext(ctx, query, guestUsername)
	if err != nil {
		return fmt.Errorf("stream users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var user models.User
		if err := rows.StructScan(&user); err != nil {
			return fmt.Errorf("scan user: %w", err)
		}
		if err := fn(&user); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("stream users: %w", err)
	}
	return nil
}
