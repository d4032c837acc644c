package store

import (
	"database/sql"
	"strings"
	"time"
)

// CreateUser inserts a new user profile.
func (db *DB) CreateUser(u *User) error {
	now := time.Now().UnixMilli()
	u.CreatedAt = now
	_, err := db.Exec(`
		INSERT INTO users (id, full_name, email, profile_pic, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.FullName, u.Email, u.ProfilePic, now)
	return err
}

// GetUser returns a user by ID, or nil if absent.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`
		SELECT id, full_name, email, profile_pic, created_at
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.FullName, &u.Email, &u.ProfilePic, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SearchUsers returns users whose name or email contains the query
// (case-insensitive), excluding the given IDs, up to limit.
func (db *DB) SearchUsers(query string, exclude []string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + strings.ToLower(query) + "%"

	q := `
		SELECT id, full_name, email, profile_pic, created_at
		FROM users
		WHERE (lower(full_name) LIKE ? OR lower(email) LIKE ?)`
	args := []any{pattern, pattern}
	if len(exclude) > 0 {
		q += " AND id NOT IN (?" + strings.Repeat(",?", len(exclude)-1) + ")"
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	q += " ORDER BY full_name LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.FullName, &u.Email, &u.ProfilePic, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
