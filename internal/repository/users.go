package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// UsersRepository is a read-only view of the users table used for
// recipient resolution. The engine never mutates users.
type UsersRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUsersRepository creates the users repository.
func NewUsersRepository(db *sql.DB, logger *zap.Logger) *UsersRepository {
	return &UsersRepository{
		db:     db,
		logger: logger,
	}
}

// ListActiveIDsByRole returns the ids of all active users holding a role.
func (r *UsersRepository) ListActiveIDsByRole(ctx context.Context, role string) ([]string, error) {
	if role == "" {
		return nil, fmt.Errorf("role is required")
	}
	return r.listActiveIDs(ctx, []string{role})
}

// ListActiveIDsByRoles returns the ids of all active users holding any of
// the roles.
func (r *UsersRepository) ListActiveIDsByRoles(ctx context.Context, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	return r.listActiveIDs(ctx, roles)
}

func (r *UsersRepository) listActiveIDs(ctx context.Context, roles []string) ([]string, error) {
	placeholders := make([]string, len(roles))
	args := make([]interface{}, len(roles))
	for i, role := range roles {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = role
	}

	query := fmt.Sprintf(`
		SELECT id
		FROM users
		WHERE role IN (%s)
		  AND is_active = true
	`, strings.Join(placeholders, ", "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return ids, nil
}
