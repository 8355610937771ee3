package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

// GetUser returns the profile of an account or models.ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var (
		user  models.User
		email sql.NullString
		name  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &email, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user %s: %w", id, err)
	}

	user.Email = nullStringPtr(email)
	user.DisplayName = nullStringPtr(name)
	return &user, nil
}
