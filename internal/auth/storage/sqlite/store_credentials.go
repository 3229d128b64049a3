package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/palaverhq/palaver/internal/auth/storage"
)

// PutCredential upserts a stored WebAuthn credential.
func (s *Store) PutCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if len(credential.PublicKey) == 0 {
		return fmt.Errorf("public key is required")
	}

	lastUsed := sql.NullInt64{}
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO passkey_credentials
		   (credential_id, user_id, public_key, sign_count, credential_json, created_at, updated_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(credential_id) DO UPDATE SET
		   public_key = excluded.public_key,
		   sign_count = excluded.sign_count,
		   credential_json = excluded.credential_json,
		   updated_at = excluded.updated_at,
		   last_used_at = excluded.last_used_at`,
		credential.CredentialID,
		credential.UserID,
		credential.PublicKey,
		credential.SignCount,
		credential.CredentialJSON,
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		lastUsed,
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredential fetches a stored WebAuthn credential.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT credential_id, user_id, public_key, sign_count, credential_json, created_at, updated_at, last_used_at
		 FROM passkey_credentials WHERE credential_id = ?`,
		credentialID,
	)
	credential, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return credential, nil
}

// ListCredentialsByUser returns credentials registered by a user.
func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT credential_id, user_id, public_key, sign_count, credential_json, created_at, updated_at, last_used_at
		 FROM passkey_credentials WHERE user_id = ? ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// UpdateCredentialSignCount replaces the stored signature counter.
//
// The counter, serialized credential, and last-used timestamp move in one
// UPDATE so concurrent authentications cannot interleave partial writes.
func (s *Store) UpdateCredentialSignCount(ctx context.Context, credentialID string, signCount uint32, credentialJSON string, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE passkey_credentials
		 SET sign_count = ?, credential_json = ?, updated_at = ?, last_used_at = ?
		 WHERE credential_id = ?`,
		signCount,
		credentialJSON,
		toMillis(usedAt),
		toMillis(usedAt),
		credentialID,
	)
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteCredential removes a credential.
func (s *Store) DeleteCredential(ctx context.Context, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM passkey_credentials WHERE credential_id = ?`, credentialID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (storage.Credential, error) {
	var (
		credential storage.Credential
		createdAt  int64
		updatedAt  int64
		lastUsed   sql.NullInt64
	)
	err := row.Scan(
		&credential.CredentialID,
		&credential.UserID,
		&credential.PublicKey,
		&credential.SignCount,
		&credential.CredentialJSON,
		&createdAt,
		&updatedAt,
		&lastUsed,
	)
	if err != nil {
		return storage.Credential{}, err
	}
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}
