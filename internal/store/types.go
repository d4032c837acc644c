package store

// User is a registered account profile.
type User struct {
	ID         string
	FullName   string
	Email      string
	ProfilePic string
	CreatedAt  int64
}

// Conversation is the ordered message container for one unordered user pair.
// UserA and UserB are stored in PairKey order.
type Conversation struct {
	ID        string
	PairKey   string
	UserA     string
	UserB     string
	CreatedAt int64
}

// Message is one immutable entry in a conversation. A message carries a
// text body, an image URL, or both; never neither.
type Message struct {
	Seq            int64
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Body           string
	ImageURL       string
	CreatedAt      int64
}

// PairKey returns the canonical key for an unordered user pair: the two
// IDs in lexicographic order joined by a colon. Both the conversations
// uniqueness constraint and the per-pair lock striping key off it.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
