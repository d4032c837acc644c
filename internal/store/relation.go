package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotApplied is returned by transactional relationship writes when the
// expected precondition row was gone by the time the statement ran. The
// transaction is rolled back; neither side observes a partial edge.
var ErrNotApplied = errors.New("relationship write not applied")

// AreFriends reports whether a directed friendship row exists. Rows are
// always written and removed in symmetric pairs inside one transaction,
// so checking one direction is sufficient.
func (db *DB) AreFriends(a, b string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM friendships WHERE user_id = ? AND friend_id = ?`,
		a, b).Scan(&n)
	return n > 0, err
}

// HasFriendRequest reports whether a pending request from -> to exists.
func (db *DB) HasFriendRequest(from, to string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM friend_requests WHERE from_id = ? AND to_id = ?`,
		from, to).Scan(&n)
	return n > 0, err
}

// CreateFriendRequest records a pending request from -> to.
func (db *DB) CreateFriendRequest(from, to string) error {
	_, err := db.Exec(`
		INSERT INTO friend_requests (from_id, to_id, created_at) VALUES (?, ?, ?)`,
		from, to, time.Now().UnixMilli())
	return err
}

// DeleteFriendRequest removes a pending request from -> to. Returns whether
// a row was actually removed.
func (db *DB) DeleteFriendRequest(from, to string) (bool, error) {
	res, err := db.Exec(`
		DELETE FROM friend_requests WHERE from_id = ? AND to_id = ?`, from, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AcceptFriendRequest consumes the pending request from -> to and writes
// both friendship rows in a single transaction. If the request row is
// already gone the transaction rolls back with ErrNotApplied.
func (db *DB) AcceptFriendRequest(from, to string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		DELETE FROM friend_requests WHERE from_id = ? AND to_id = ?`, from, to)
	if err != nil {
		return fmt.Errorf("consume request: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotApplied
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO friendships (user_id, friend_id, created_at) VALUES (?, ?, ?), (?, ?, ?)`,
		from, to, now, to, from, now); err != nil {
		return fmt.Errorf("insert friendship: %w", err)
	}
	return tx.Commit()
}

// RemoveFriendship deletes both directed rows of a friendship in a single
// transaction. Rolls back with ErrNotApplied if the edge was already gone.
func (db *DB) RemoveFriendship(a, b string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		DELETE FROM friendships
		WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)`,
		a, b, b, a)
	if err != nil {
		return fmt.Errorf("delete friendship: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotApplied
	}
	return tx.Commit()
}

// ListFriends returns the profiles of all friends of the given user.
func (db *DB) ListFriends(userID string) ([]User, error) {
	return db.queryUsers(`
		SELECT u.id, u.full_name, u.email, u.profile_pic, u.created_at
		FROM friendships f
		JOIN users u ON u.id = f.friend_id
		WHERE f.user_id = ?
		ORDER BY u.full_name`, userID)
}

// ListFriendRequests returns the profiles of users with a pending request
// to the given user.
func (db *DB) ListFriendRequests(userID string) ([]User, error) {
	return db.queryUsers(`
		SELECT u.id, u.full_name, u.email, u.profile_pic, u.created_at
		FROM friend_requests r
		JOIN users u ON u.id = r.from_id
		WHERE r.to_id = ?
		ORDER BY r.created_at`, userID)
}

// RelatedIDs returns the IDs of everyone the user is already friends with
// or has a pending request with, in either direction. Used to exclude
// existing relations from search results.
func (db *DB) RelatedIDs(userID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT friend_id FROM friendships WHERE user_id = ?
		UNION
		SELECT to_id FROM friend_requests WHERE from_id = ?
		UNION
		SELECT from_id FROM friend_requests WHERE to_id = ?`,
		userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) queryUsers(query string, args ...any) ([]User, error) {
	rows, err := db.Query(query, args...)
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
