package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/PortNumber53/fitmarket-payments/internal/models"
)

// UpsertDeviceToken stores a push token for an account, replacing the token
// previously registered under the same key.
func (s *Store) UpsertDeviceToken(ctx context.Context, tok *models.DeviceToken) error {
	err := s.db.QueryRowContext(ctx, `
INSERT INTO device_tokens (user_id, token_key, token, device_id, platform)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, token_key) DO UPDATE SET
	token = EXCLUDED.token,
	platform = COALESCE(EXCLUDED.platform, device_tokens.platform),
	updated_at = now()
RETURNING created_at, updated_at`,
		tok.UserID,
		tok.Key,
		tok.Token,
		tok.DeviceID,
		tok.Platform,
	).Scan(&tok.CreatedAt, &tok.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert device token: %w", err)
	}
	return nil
}

// ListDeviceTokens returns every push token registered for the account.
func (s *Store) ListDeviceTokens(ctx context.Context, accountID string) ([]models.DeviceToken, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, token_key, token, device_id, platform, created_at, updated_at
FROM device_tokens
WHERE user_id = $1
ORDER BY updated_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("store: list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.DeviceToken
	for rows.Next() {
		var (
			tok      models.DeviceToken
			deviceID sql.NullString
			platform sql.NullString
		)
		if err := rows.Scan(
			&tok.UserID,
			&tok.Key,
			&tok.Token,
			&deviceID,
			&platform,
			&tok.CreatedAt,
			&tok.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan device token: %w", err)
		}
		tok.DeviceID = nullStringPtr(deviceID)
		tok.Platform = nullStringPtr(platform)
		tokens = append(tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate device tokens: %w", err)
	}
	return tokens, nil
}

// DeleteDeviceToken removes one push token record if it still holds token.
// A device that re-registered under the same key keeps its fresh token.
func (s *Store) DeleteDeviceToken(ctx context.Context, accountID, key, token string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM device_tokens WHERE user_id = $1 AND token_key = $2 AND token = $3`,
		accountID, key, token); err != nil {
		return fmt.Errorf("store: delete device token: %w", err)
	}
	return nil
}
