package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const credentialColumns = `provider, external_account_id, owner_id, access_token, refresh_token, expires_at, updated_at`

// GetCredential retrieves the credential for one provider account
func (s *Store) GetCredential(ctx context.Context, provider, externalAccountID string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE provider = ? AND external_account_id = ?
	`, provider, externalAccountID)

	return scanCredential(row)
}

// MostRecentCredential returns the most recently updated credential for a provider
func (s *Store) MostRecentCredential(ctx context.Context, provider string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE provider = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`, provider)

	return scanCredential(row)
}

// UpsertCredential stores or replaces the tokens for an account.
// All token fields change in one statement so readers never see a partial update.
func (s *Store) UpsertCredential(ctx context.Context, c *Credential) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, external_account_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, c.Provider, c.ExternalAccountID, c.OwnerID, c.AccessToken, c.RefreshToken,
		unixOrNil(c.ExpiresAt), c.UpdatedAt.UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("upserting credential %s: %w", c, err)
	}
	return nil
}

// CountCredentials returns the number of connected accounts for a provider
func (s *Store) CountCredentials(ctx context.Context, provider string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM credentials WHERE provider = ?", provider).Scan(&count)
	return count, err
}

func scanCredential(row *sql.Row) (*Credential, error) {
	var c Credential
	var expiresAt sql.NullInt64
	var updatedAt string

	err := row.Scan(&c.Provider, &c.ExternalAccountID, &c.OwnerID, &c.AccessToken, &c.RefreshToken, &expiresAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0).UTC()
		c.ExpiresAt = &t
	}
	c.UpdatedAt, err = time.Parse(timestampLayout, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at %q: %w", updatedAt, err)
	}

	return &c, nil
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
