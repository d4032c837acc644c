// Package ledger maintains ordered per-pair message history with
// idempotent conversation creation. Authorization (friends-only
// messaging) is the gateway's job; the ledger only refuses messages
// whose sender and receiver are not the conversation's two participants.
package ledger

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/bus"
	"github.com/huddle-chat/huddle/internal/metrics"
	"github.com/huddle-chat/huddle/internal/store"
)

// EventMessageCreated carries a store.Message payload for fanout to both
// participants' live sessions.
const EventMessageCreated = "message.created"

var (
	ErrEmptyMessage        = errors.New("message needs text or an image")
	ErrParticipantMismatch = errors.New("sender and receiver are not the conversation participants")
)

const lockStripes = 64

// Ledger owns conversation creation and message appends.
type Ledger struct {
	db      *store.DB
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	locks [lockStripes]sync.Mutex
}

// New creates a ledger backed by db.
func New(db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, bus: b, metrics: m, logger: logger}
}

func (l *Ledger) pairLock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.locks[h.Sum32()%lockStripes]
}

// GetOrCreate returns the conversation for the unordered pair, creating it
// on first access. Concurrent first access by both participants converges
// on one conversation: the pair-key uniqueness constraint makes the losing
// insert a no-op and both racers re-read the surviving row.
func (l *Ledger) GetOrCreate(a, b string) (*store.Conversation, error) {
	key := store.PairKey(a, b)

	lock := l.pairLock(key)
	lock.Lock()
	defer lock.Unlock()

	conv, err := l.db.GetConversationByPair(key)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	if b < a {
		a, b = b, a
	}
	fresh := &store.Conversation{ID: uuid.New().String(), PairKey: key, UserA: a, UserB: b}
	if err := l.db.InsertConversation(fresh); err != nil {
		return nil, err
	}
	conv, err = l.db.GetConversationByPair(key)
	if err != nil {
		return nil, err
	}
	l.logger.Info("conversation created", zap.String("conversation", conv.ID), zap.String("pair", key))
	return conv, nil
}

// Append stores a message at the end of the conversation and publishes it
// for delivery. Messages are immutable and never reordered.
func (l *Ledger) Append(conv *store.Conversation, senderID, receiverID, body, imageURL string) (*store.Message, error) {
	if body == "" && imageURL == "" {
		return nil, ErrEmptyMessage
	}
	if store.PairKey(senderID, receiverID) != conv.PairKey || senderID == receiverID {
		return nil, ErrParticipantMismatch
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           body,
		ImageURL:       imageURL,
		CreatedAt:      time.Now().UnixMilli(),
	}

	lock := l.pairLock(conv.PairKey)
	lock.Lock()
	err := l.db.InsertMessage(msg)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	l.metrics.MessagesTotal.Inc()
	l.bus.Publish(EventMessageCreated, *msg)
	return msg, nil
}

// Send is the one-call path the gateway uses: resolve or create the
// conversation for the pair, then append.
func (l *Ledger) Send(from, to, body, imageURL string) (*store.Message, error) {
	conv, err := l.GetOrCreate(from, to)
	if err != nil {
		return nil, err
	}
	return l.Append(conv, from, to, body, imageURL)
}

// History returns the conversation's messages in append order.
func (l *Ledger) History(conv *store.Conversation) ([]store.Message, error) {
	return l.db.ListMessages(conv.ID)
}
