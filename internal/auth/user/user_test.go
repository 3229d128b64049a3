package user

import (
	"errors"
	"testing"
	"time"
)

func TestCreateUser(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	created, err := CreateUser(
		CreateUserInput{Username: "  Alice ", Email: "Alice@Example.com"},
		func() time.Time { return fixed },
		func() (string, error) { return "user-1", nil },
	)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID != "user-1" {
		t.Fatalf("id = %q", created.ID)
	}
	if created.Username != "alice" {
		t.Fatalf("username = %q, want normalized lowercase", created.Username)
	}
	if created.Email != "alice@example.com" {
		t.Fatalf("email = %q, want normalized lowercase", created.Email)
	}
	if created.Role != RoleUser {
		t.Fatalf("role = %q, want default %q", created.Role, RoleUser)
	}
	if created.Level != 1 {
		t.Fatalf("level = %d, want 1", created.Level)
	}
	if !created.CreatedAt.Equal(fixed) || !created.UpdatedAt.Equal(fixed) {
		t.Fatalf("timestamps = %v/%v, want %v", created.CreatedAt, created.UpdatedAt, fixed)
	}
}

func TestCreateUserValidation(t *testing.T) {
	tests := []struct {
		name  string
		input CreateUserInput
		want  error
	}{
		{name: "empty username", input: CreateUserInput{Email: "a@example.com"}, want: ErrEmptyUsername},
		{name: "short username", input: CreateUserInput{Username: "ab", Email: "a@example.com"}, want: ErrInvalidUsername},
		{name: "invalid characters", input: CreateUserInput{Username: "has space", Email: "a@example.com"}, want: ErrInvalidUsername},
		{name: "missing email", input: CreateUserInput{Username: "alice"}, want: ErrInvalidEmail},
		{name: "bad email", input: CreateUserInput{Username: "alice", Email: "not-an-email"}, want: ErrInvalidEmail},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CreateUser(tc.input, nil, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestIsAdmin(t *testing.T) {
	if IsAdmin(User{Username: "admin", Role: RoleUser}) {
		t.Fatal("username must never grant admin")
	}
	if !IsAdmin(User{Username: "ops", Role: RoleAdmin}) {
		t.Fatal("admin role must grant admin")
	}
}
