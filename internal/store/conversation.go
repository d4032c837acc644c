package store

import (
	"database/sql"
	"time"
)

// GetConversationByPair returns the conversation for a pair key, or nil.
func (db *DB) GetConversationByPair(pairKey string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, pair_key, user_a, user_b, created_at
		FROM conversations WHERE pair_key = ?`, pairKey).
		Scan(&c.ID, &c.PairKey, &c.UserA, &c.UserB, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertConversation creates the conversation row for its pair key.
// A concurrent insert for the same pair is a silent no-op; callers
// re-read by pair key afterwards so both racers converge on one row.
func (db *DB) InsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	c.CreatedAt = now
	_, err := db.Exec(`
		INSERT INTO conversations (id, pair_key, user_a, user_b, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(pair_key) DO NOTHING`,
		c.ID, c.PairKey, c.UserA, c.UserB, now)
	return err
}
