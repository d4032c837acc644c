package store

// InsertMessage appends a message row and fills in its sequence number.
// The AUTOINCREMENT sequence is what History replays in, so append order
// is insertion order even when wall clocks collide.
func (db *DB) InsertMessage(m *Message) error {
	res, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, body, image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.ReceiverID, m.Body, m.ImageURL, m.CreatedAt)
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.Seq = seq
	return nil
}

// ListMessages returns all messages of a conversation in append order.
func (db *DB) ListMessages(conversationID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT seq, id, conversation_id, sender_id, receiver_id, body, image_url, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Body, &m.ImageURL, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
