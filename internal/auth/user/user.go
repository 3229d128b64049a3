// Package user provides forum user identity management.
package user

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/palaverhq/palaver/internal/platform/errors"
	"github.com/palaverhq/palaver/internal/platform/id"
)

var (
	// ErrEmptyUsername indicates a missing username.
	ErrEmptyUsername = apperrors.New(apperrors.CodeUserEmptyUsername, "username is required")
	// ErrInvalidUsername indicates a username that does not match the required format.
	ErrInvalidUsername = apperrors.New(apperrors.CodeUserInvalidUsername, "username must be 3-32 lowercase alphanumeric, dot, dash, or underscore characters")
	// ErrInvalidEmail indicates an email address that cannot be parsed.
	ErrInvalidEmail = apperrors.New(apperrors.CodeUserInvalidEmail, "email address is not valid")

	usernamePattern = regexp.MustCompile(`^[a-z0-9_.\-]{3,32}$`)
)

// Role distinguishes ordinary members from forum administrators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents a forum identity record.
type User struct {
	ID        string
	Username  string
	Email     string
	Role      Role
	Level     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin is the single authorization predicate for admin surfaces.
//
// Authorization is decided by the role attribute only. Seeding the first
// administrator is a bootstrap concern handled at store setup, never by
// matching usernames at request time.
func IsAdmin(u User) bool {
	return u.Role == RoleAdmin
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Username string
	Email    string
	Role     Role
}

// ValidateUsername enforces canonical username constraints shared by auth,
// messaging, and display paths.
func ValidateUsername(s string) error {
	if !usernamePattern.MatchString(s) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidateEmail enforces a parseable single address.
func ValidateEmail(s string) error {
	parsed, err := mail.ParseAddress(s)
	if err != nil || parsed.Address != s {
		return ErrInvalidEmail
	}
	return nil
}

// CreateUser creates a durable user identity from validated input.
//
// This is the canonical point where untrusted registration data becomes a
// stable identity used by auth, messaging, and admin paths.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:        userID,
		Username:  normalized.Username,
		Email:     normalized.Email,
		Role:      normalized.Role,
		Level:     1,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	if input.Username == "" {
		return CreateUserInput{}, ErrEmptyUsername
	}
	if err := ValidateUsername(input.Username); err != nil {
		return CreateUserInput{}, err
	}
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := ValidateEmail(input.Email); err != nil {
		return CreateUserInput{}, err
	}
	if input.Role == "" {
		input.Role = RoleUser
	}
	return input, nil
}
