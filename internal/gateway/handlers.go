package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/auth"
	"github.com/huddle-chat/huddle/internal/ledger"
	"github.com/huddle-chat/huddle/internal/relation"
	"github.com/huddle-chat/huddle/internal/store"
	"github.com/huddle-chat/huddle/internal/wire"
)

type ctxKey int

const userIDKey ctxKey = 0

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// requireAuth resolves the Authorization bearer token and stashes the
// user ID in the request context.
func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		id, err := g.auth.Authenticate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				g.writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			g.logger.Error("authenticate", zap.Error(err))
			g.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("write response", zap.Error(err))
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, msg string) {
	g.writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps relationship and ledger errors onto HTTP
// statuses; anything unrecognized is a 500.
func (g *Gateway) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relation.ErrSelfReference), errors.Is(err, ledger.ErrEmptyMessage):
		g.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, relation.ErrUserNotFound), errors.Is(err, relation.ErrNoPendingRequest):
		g.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, relation.ErrAlreadyFriends), errors.Is(err, relation.ErrDuplicateRequest):
		g.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, relation.ErrNotFriends):
		g.writeError(w, http.StatusForbidden, err.Error())
	default:
		g.logger.Error("request failed", zap.Error(err))
		g.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func usersToWire(users []store.User) []wire.User {
	out := make([]wire.User, 0, len(users))
	for _, u := range users {
		out = append(out, wire.UserFromStore(u))
	}
	return out
}

func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := g.db.GetUser(userID(r))
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	if u == nil {
		g.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	g.writeJSON(w, http.StatusOK, wire.UserFromStore(*u))
}

func (g *Gateway) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		g.writeError(w, http.StatusBadRequest, "search query is required")
		return
	}
	users, err := g.relations.Search(userID(r), query)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, usersToWire(users))
}

func (g *Gateway) handleFriends(w http.ResponseWriter, r *http.Request) {
	users, err := g.relations.Friends(userID(r))
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, usersToWire(users))
}

func (g *Gateway) handleRequests(w http.ResponseWriter, r *http.Request) {
	users, err := g.relations.Requests(userID(r))
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, usersToWire(users))
}

func (g *Gateway) handleRequest(w http.ResponseWriter, r *http.Request) {
	if err := g.relations.Request(userID(r), chi.URLParam(r, "id")); err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "requested"})
}

func (g *Gateway) handleAccept(w http.ResponseWriter, r *http.Request) {
	if err := g.relations.Accept(chi.URLParam(r, "id"), userID(r)); err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (g *Gateway) handleDecline(w http.ResponseWriter, r *http.Request) {
	if err := g.relations.Decline(chi.URLParam(r, "id"), userID(r)); err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}

func (g *Gateway) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := g.relations.Remove(userID(r), chi.URLParam(r, "id")); err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// requireFriendship gates the message endpoints: history and sending
// are only available between established friends.
func (g *Gateway) requireFriendship(w http.ResponseWriter, me, other string) bool {
	ok, err := g.relations.AreFriends(me, other)
	if err != nil {
		g.writeDomainError(w, err)
		return false
	}
	if !ok {
		g.writeError(w, http.StatusForbidden, "not friends")
		return false
	}
	return true
}

func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	me, other := userID(r), chi.URLParam(r, "id")
	if !g.requireFriendship(w, me, other) {
		return
	}

	conv, err := g.messages.GetOrCreate(me, other)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	msgs, err := g.messages.History(conv)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	out := make([]wire.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wire.MessageFromStore(m))
	}
	g.writeJSON(w, http.StatusOK, out)
}

func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	me, other := userID(r), chi.URLParam(r, "id")
	if !g.requireFriendship(w, me, other) {
		return
	}

	var body struct {
		Text  string `json:"text"`
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	msg, err := g.messages.Send(me, other, body.Text, body.Image)
	if err != nil {
		g.writeDomainError(w, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, wire.MessageFromStore(*msg))
}
