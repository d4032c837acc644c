// Package auth resolves bearer tokens to user identities.
package auth

import (
	"errors"

	"github.com/huddle-chat/huddle/internal/store"
)

// ErrInvalidToken is returned for tokens that resolve to no user.
var ErrInvalidToken = errors.New("auth: invalid token")

// Authenticator maps an opaque token to a user ID.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// TokenAuthenticator authenticates against the auth_tokens table.
type TokenAuthenticator struct {
	db *store.DB
}

func New(db *store.DB) *TokenAuthenticator {
	return &TokenAuthenticator{db: db}
}

func (a *TokenAuthenticator) Authenticate(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	userID, err := a.db.UserIDForToken(token)
	if err != nil {
		return "", err
	}
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}
