// Package session issues and resolves bearer session tokens.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/palaverhq/palaver/internal/platform/errors"
	"github.com/palaverhq/palaver/internal/auth/storage"
	"github.com/palaverhq/palaver/internal/auth/user"
)

const keyPrefix = "session:"

var (
	// ErrInvalid indicates a token that is absent, expired, or bound to a
	// deleted user. Callers treat it as "not logged in".
	ErrInvalid = apperrors.New(apperrors.CodeSessionInvalid, "session is invalid or expired")
	// ErrForbidden indicates a valid session whose user lacks the required role.
	ErrForbidden = apperrors.New(apperrors.CodeForbidden, "user is not an administrator")
)

// Session is a minted bearer token bound to a user.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// Manager mints, resolves, and destroys sessions backed by the ephemeral KV.
type Manager struct {
	users    storage.UserStore
	kv       storage.KV
	clock    func() time.Time
	newToken func() (string, error)
}

// NewManager builds a session manager with production defaults.
func NewManager(users storage.UserStore, kv storage.KV) *Manager {
	return &Manager{
		users:    users,
		kv:       kv,
		clock:    time.Now,
		newToken: newToken,
	}
}

// SetClock replaces the time source for tests.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

// SetTokenGenerator replaces the token source for tests.
func (m *Manager) SetTokenGenerator(generator func() (string, error)) { m.newToken = generator }

// newToken mints 32 random bytes as an unpadded URL-safe string. Collisions
// are astronomically unlikely at this size; the KV overwrites on collision.
func newToken() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// Create mints a session for userID with the given lifetime.
func (m *Manager) Create(ctx context.Context, userID string, ttl time.Duration) (Session, error) {
	if strings.TrimSpace(userID) == "" {
		return Session{}, fmt.Errorf("user id is required")
	}
	if ttl <= 0 {
		return Session{}, fmt.Errorf("session ttl must be positive")
	}
	token, err := m.newToken()
	if err != nil {
		return Session{}, fmt.Errorf("generate session token: %w", err)
	}
	if err := m.kv.Put(ctx, keyPrefix+token, userID, ttl); err != nil {
		return Session{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "store session", err)
	}
	return Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: m.clock().UTC().Add(ttl),
	}, nil
}

// Resolve returns the user bound to token.
//
// A token bound to a since-deleted user is treated as invalid and the dangling
// entry is removed as a side effect, so a second resolution behaves the same.
func (m *Manager) Resolve(ctx context.Context, token string) (user.User, error) {
	if strings.TrimSpace(token) == "" {
		return user.User{}, ErrInvalid
	}
	userID, err := m.kv.Get(ctx, keyPrefix+token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, ErrInvalid
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "load session", err)
	}
	found, err := m.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = m.kv.Delete(ctx, keyPrefix+token)
			return user.User{}, ErrInvalid
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeStoreUnavailable, "load session user", err)
	}
	return found, nil
}

// ResolveAdmin resolves token and additionally requires the admin role.
//
// The Forbidden outcome is distinct from ErrInvalid so callers can tell
// "not logged in" apart from "logged in but not permitted".
func (m *Manager) ResolveAdmin(ctx context.Context, token string) (user.User, error) {
	found, err := m.Resolve(ctx, token)
	if err != nil {
		return user.User{}, err
	}
	if !user.IsAdmin(found) {
		return user.User{}, ErrForbidden
	}
	return found, nil
}

// Destroy removes token. Destroying an absent token succeeds.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	if err := m.kv.Delete(ctx, keyPrefix+token); err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "destroy session", err)
	}
	return nil
}
