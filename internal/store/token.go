package store

import (
	"database/sql"
	"time"
)

// InsertToken records a session token for a user. Token issuance itself
// (login, hashing, expiry policy) belongs to the auth collaborator; this
// table only answers "whose token is this".
func (db *DB) InsertToken(token, userID string) error {
	_, err := db.Exec(`
		INSERT INTO auth_tokens (token, user_id, created_at) VALUES (?, ?, ?)`,
		token, userID, time.Now().UnixMilli())
	return err
}

// UserIDForToken resolves a session token to its owner. Returns "" if the
// token is unknown.
func (db *DB) UserIDForToken(token string) (string, error) {
	var userID string
	err := db.QueryRow(`SELECT user_id FROM auth_tokens WHERE token = ?`, token).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

// DeleteToken revokes a session token.
func (db *DB) DeleteToken(token string) error {
	_, err := db.Exec(`DELETE FROM auth_tokens WHERE token = ?`, token)
	return err
}
