// Package storage defines persistence contracts for auth data.
package storage

import (
	"context"
	"time"

	"github.com/palaverhq/palaver/internal/platform/errors"
	"github.com/palaverhq/palaver/internal/auth/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// UserStore persists forum user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	// DeleteUser removes a user; registered credentials are removed by cascade.
	DeleteUser(ctx context.Context, userID string) error
}

// Credential stores a WebAuthn credential for a user.
//
// SignCount is the authenticator signature counter and must be read and
// updated as a single stored value; CredentialJSON carries the full library
// credential for verification attributes.
type Credential struct {
	CredentialID   string
	UserID         string
	PublicKey      []byte
	SignCount      uint32
	CredentialJSON string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	PutCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]Credential, error)
	// UpdateCredentialSignCount replaces the stored counter and refreshes the
	// serialized credential in one statement.
	UpdateCredentialSignCount(ctx context.Context, credentialID string, signCount uint32, credentialJSON string, usedAt time.Time) error
	DeleteCredential(ctx context.Context, credentialID string) error
}

// KV is the ephemeral key-value contract backing challenges and sessions.
//
// GetDel must be atomic with respect to concurrent callers: at most one caller
// observes the value, all others observe ErrNotFound.
type KV interface {
	Put(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	GetDel(ctx context.Context, key string) (string, error)
	// Delete is idempotent; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
