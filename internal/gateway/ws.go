package gateway

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/auth"
)

func (g *Gateway) upgrader() websocket.Upgrader {
	allowed := g.cfg.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleWS authenticates the ?token query parameter and hands the
// socket to a client session. Authentication failures are rejected
// before the upgrade so the client sees a plain HTTP status.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := g.auth.Authenticate(token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		g.logger.Error("authenticate", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	up := g.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, userID, g.cfg.SendBuffer, g.reg, g.relay, g.logger)
	go client.run()
}
