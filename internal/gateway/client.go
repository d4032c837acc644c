package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/registry"
	"github.com/huddle-chat/huddle/internal/signaling"
	"github.com/huddle-chat/huddle/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

// Client is one authenticated WebSocket session. It satisfies
// registry.Conn: the fanout pushes encoded envelopes through Send and
// the write pump drains them onto the socket.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	reg    *registry.Registry
	relay  *signaling.Relay
	logger *zap.Logger
}

func newClient(conn *websocket.Conn, userID string, sendBuffer int, reg *registry.Registry, relay *signaling.Relay, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		reg:    reg,
		relay:  relay,
		logger: logger.With(zap.String("conn", id), zap.String("user", userID)),
	}
}

func (c *Client) ID() string { return c.id }

// Send enqueues an encoded envelope without blocking. A full buffer
// means the peer stopped reading; the fanout reacts by closing us.
func (c *Client) Send(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close tears the session down: the done channel releases the write pump
// immediately instead of letting it linger until the next ping tick.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
	c.conn.Close()
}

// run registers the client and blocks until the read pump exits.
func (c *Client) run() {
	go c.writePump()
	c.reg.Register(c.userID, c)
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.reg.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected close", zap.Error(err))
			}
			return
		}
		c.dispatch(raw)
	}
}

// dispatch routes a client command to the signaling relay. Malformed
// frames are logged and skipped, never fatal to the session.
func (c *Client) dispatch(raw []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Debug("malformed frame", zap.Error(err))
		return
	}

	switch env.Event {
	case wire.CmdCallUser:
		var cmd wire.CallUser
		if err := json.Unmarshal(env.Data, &cmd); err != nil {
			c.logger.Debug("malformed callUser", zap.Error(err))
			return
		}
		c.relay.Call(c.userID, cmd.UserToCall, cmd.SignalData, cmd.Type)
	case wire.CmdSendSignal:
		var cmd wire.SendSignal
		if err := json.Unmarshal(env.Data, &cmd); err != nil {
			c.logger.Debug("malformed sendSignal", zap.Error(err))
			return
		}
		c.relay.Signal(c.userID, cmd.To, cmd.Signal)
	case wire.CmdAnswerCall:
		var cmd wire.AnswerCall
		if err := json.Unmarshal(env.Data, &cmd); err != nil {
			c.logger.Debug("malformed answerCall", zap.Error(err))
			return
		}
		c.relay.Answer(c.userID, cmd.To, cmd.Signal)
	case wire.CmdEndCall:
		var cmd wire.EndCall
		if err := json.Unmarshal(env.Data, &cmd); err != nil {
			c.logger.Debug("malformed endCall", zap.Error(err))
			return
		}
		c.relay.End(c.userID, cmd.To)
	default:
		c.logger.Debug("unknown command", zap.String("event", env.Event))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
