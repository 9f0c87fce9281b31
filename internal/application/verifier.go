package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CredentialVerifier resolves a username and password to a user identity.
// It is the substitution point for the credential-verification policy.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (string, error)
}

// UserLookup resolves users by their login name.
type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// PrototypeVerifier accepts any password for an existing active user. It exists
// for demonstrations only; production deployments use Argon2Verifier.
type PrototypeVerifier struct {
	users UserLookup
}

// NewPrototypeVerifier constructs a PrototypeVerifier.
func NewPrototypeVerifier(users UserLookup) *PrototypeVerifier {
	return &PrototypeVerifier{users: users}
}

// Verify implements CredentialVerifier.
func (v *PrototypeVerifier) Verify(ctx context.Context, username, _ string) (string, error) {
	if v == nil || v.users == nil {
		return "", fmt.Errorf("user lookup not configured")
	}
	user, err := lookupLoginUser(ctx, v.users, username)
	if err != nil {
		return "", err
	}
	if !user.Active {
		return "", ErrInvalidCredentials
	}
	return user.ID, nil
}

// PasswordVerifier compares a stored hash with a candidate password.
type PasswordVerifier func(hashedPassword, password string) error

// Argon2Verifier checks the supplied password against the user's argon2id hash.
type Argon2Verifier struct {
	users  UserLookup
	verify PasswordVerifier
}

// NewArgon2Verifier constructs an Argon2Verifier. A nil verify uses VerifyPassword.
func NewArgon2Verifier(users UserLookup, verify PasswordVerifier) *Argon2Verifier {
	if verify == nil {
		verify = VerifyPassword
	}
	return &Argon2Verifier{users: users, verify: verify}
}

// Verify implements CredentialVerifier.
func (v *Argon2Verifier) Verify(ctx context.Context, username, password string) (string, error) {
	if v == nil || v.users == nil {
		return "", fmt.Errorf("user lookup not configured")
	}
	if password == "" {
		return "", ErrInvalidCredentials
	}
	user, err := lookupLoginUser(ctx, v.users, username)
	if err != nil {
		return "", err
	}
	// Inactive accounts are indistinguishable from unknown ones at login.
	if !user.Active || user.PasswordHash == "" {
		return "", ErrInvalidCredentials
	}
	if err := v.verify(user.PasswordHash, password); err != nil {
		return "", ErrInvalidCredentials
	}
	return user.ID, nil
}

func lookupLoginUser(ctx context.Context, users UserLookup, username string) (User, error) {
	email := strings.ToLower(strings.TrimSpace(username))
	if email == "" {
		return User{}, ErrInvalidCredentials
	}
	user, err := users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	return user, nil
}
