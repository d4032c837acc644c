// Package wire defines the JSON protocol spoken over the WebSocket:
// the envelope framing, server-pushed event names, and client command
// names. Field names mirror what the web client already expects.
package wire

import (
	"encoding/json"
	"time"

	"github.com/huddle-chat/huddle/internal/store"
)

// Server -> client event names.
const (
	EventOnlineUsers           = "getOnlineUsers"
	EventNewFriendRequest      = "newFriendRequest"
	EventFriendRequestAccepted = "friendRequestAccepted"
	EventNewMessage            = "newMessage"
	EventIncomingCall          = "incomingCall"
	EventReceiveSignal         = "receiveSignal"
	EventCallAccepted          = "callAccepted"
	EventCallEnded             = "callEnded"
	EventCallFailed            = "callFailed"
)

// Client -> server command names.
const (
	CmdCallUser   = "callUser"
	CmdSendSignal = "sendSignal"
	CmdAnswerCall = "answerCall"
	CmdEndCall    = "endCall"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an event and its payload into a framed message.
func Encode(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// User is the public profile shape sent to clients.
type User struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullName"`
	Email      string `json:"email"`
	ProfilePic string `json:"profilePic"`
}

// UserFromStore converts a stored profile to its wire shape.
func UserFromStore(u store.User) User {
	return User{ID: u.ID, FullName: u.FullName, Email: u.Email, ProfilePic: u.ProfilePic}
}

// Message is the wire shape of a ledger message.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageFromStore converts a stored message to its wire shape.
func MessageFromStore(m store.Message) Message {
	return Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Body,
		Image:      m.ImageURL,
		CreatedAt:  time.UnixMilli(m.CreatedAt).UTC(),
	}
}

// NewFriendRequest is the payload of EventNewFriendRequest.
type NewFriendRequest struct {
	From User `json:"from"`
}

// FriendRequestAccepted is the payload of EventFriendRequestAccepted.
type FriendRequestAccepted struct {
	Friend User `json:"friend"`
}

// IncomingCall is the payload of EventIncomingCall.
type IncomingCall struct {
	From         string          `json:"from"`
	CallerName   string          `json:"callerName"`
	CallerAvatar string          `json:"callerAvatar"`
	Signal       json.RawMessage `json:"signal"`
	Type         string          `json:"type"`
}

// CallAccepted is the payload of EventCallAccepted.
type CallAccepted struct {
	Signal json.RawMessage `json:"signal"`
}

// CallFailed is the payload of EventCallFailed.
type CallFailed struct {
	Reason string `json:"reason"`
	To     string `json:"to"`
}

// CallUser is the CmdCallUser command payload.
type CallUser struct {
	UserToCall string          `json:"userToCall"`
	SignalData json.RawMessage `json:"signalData"`
	Type       string          `json:"type"`
}

// SendSignal is the CmdSendSignal command payload.
type SendSignal struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// AnswerCall is the CmdAnswerCall command payload.
type AnswerCall struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

// EndCall is the CmdEndCall command payload.
type EndCall struct {
	To string `json:"to"`
}
