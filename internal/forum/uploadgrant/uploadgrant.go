// Package uploadgrant binds presigned attachment uploads to the user who
// requested them.
//
// A grant is a short-lived EdDSA JWT carrying the uploader's user id and the
// object key of the slot. Sending a stored-content message requires presenting
// the grant, so a user cannot attach an object someone else uploaded.
package uploadgrant

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/palaverhq/palaver/internal/platform/errors"
)

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer     string        `env:"PALAVER_UPLOAD_GRANT_ISSUER"   envDefault:"palaver"`
	Audience   string        `env:"PALAVER_UPLOAD_GRANT_AUDIENCE" envDefault:"palaver-uploads"`
	PrivateKey string        `env:"PALAVER_UPLOAD_GRANT_PRIVATE_KEY"`
	TTL        time.Duration `env:"PALAVER_UPLOAD_GRANT_TTL"      envDefault:"30m"`
}

// Config defines how upload grants are issued and verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	TTL      time.Duration
	Now      func() time.Time
}

// Claims captures a validated upload grant.
type Claims struct {
	JWTID     string
	UserID    string
	ObjectKey string
	ExpiresAt time.Time
}

// grantClaims is the internal claims type used for JWT parsing.
type grantClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	ObjectKey string `json:"object_key"`
}

// LoadConfigFromEnv reads grant configuration. The private key is a
// base64-encoded ed25519 seed or full private key.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse upload grant env: %w", err)
	}
	encoded := strings.TrimSpace(raw.PrivateKey)
	if encoded == "" {
		return Config{}, fmt.Errorf("PALAVER_UPLOAD_GRANT_PRIVATE_KEY is required")
	}
	keyBytes, err := decodeBase64(encoded)
	if err != nil {
		return Config{}, fmt.Errorf("decode upload grant private key: %w", err)
	}
	var key ed25519.PrivateKey
	switch len(keyBytes) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(keyBytes)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(keyBytes)
	default:
		return Config{}, fmt.Errorf("upload grant private key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   strings.TrimSpace(raw.Issuer),
		Audience: strings.TrimSpace(raw.Audience),
		Key:      key,
		TTL:      raw.TTL,
		Now:      now,
	}, nil
}

// Issue mints a grant binding userID to objectKey.
func Issue(userID string, objectKey string, cfg Config) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(objectKey) == "" {
		return "", fmt.Errorf("object key is required")
	}
	if len(cfg.Key) != ed25519.PrivateKeySize {
		return "", errors.New("upload grant issuer is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	now := cfg.Now().UTC()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			ID:        uuid.NewString(),
		},
		UserID:    userID,
		ObjectKey: objectKey,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(cfg.Key)
	if err != nil {
		return "", fmt.Errorf("sign upload grant: %w", err)
	}
	return token, nil
}

// Validate verifies a grant and checks it was issued to userID.
func Validate(grant string, userID string, cfg Config) (Claims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "upload grant is required")
	}
	if len(cfg.Key) != ed25519.PrivateKeySize {
		return Claims{}, errors.New("upload grant verifier is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key.Public(), nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, apperrors.Wrap(apperrors.CodeGrantInvalid, "parse upload grant", err)
	}

	if parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "upload grant issuer mismatch")
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "upload grant audience mismatch")
	}
	if parsed.ID == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "upload grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "upload grant exp is required")
	}
	if !parsed.ExpiresAt.Time.UTC().After(cfg.Now().UTC()) {
		return Claims{}, apperrors.New(apperrors.CodeGrantExpired, "upload grant is expired")
	}
	if parsed.UserID == "" || parsed.UserID != userID {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "upload grant was issued to another user")
	}
	if parsed.ObjectKey == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "upload grant object key is required")
	}

	return Claims{
		JWTID:     parsed.ID,
		UserID:    parsed.UserID,
		ObjectKey: parsed.ObjectKey,
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, nil
}

func audienceContains(audience jwt.ClaimStrings, expected string) bool {
	for _, entry := range audience {
		if entry == expected {
			return true
		}
	}
	return false
}

func decodeBase64(s string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
