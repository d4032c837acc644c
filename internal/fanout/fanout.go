// Package fanout is the delivery edge: it consumes domain events from the
// bus, resolves recipients through the connection registry, and pushes
// wire envelopes to live connections. Offline recipients are dropped
// silently; there is no offline queue.
package fanout

import (
	"context"

	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/bus"
	"github.com/huddle-chat/huddle/internal/ledger"
	"github.com/huddle-chat/huddle/internal/metrics"
	"github.com/huddle-chat/huddle/internal/registry"
	"github.com/huddle-chat/huddle/internal/relation"
	"github.com/huddle-chat/huddle/internal/signaling"
	"github.com/huddle-chat/huddle/internal/store"
	"github.com/huddle-chat/huddle/internal/wire"
)

// Drop reasons recorded on the events_dropped metric.
const (
	dropOffline    = "offline"
	dropBufferFull = "buffer_full"
)

// Fanout routes bus events to connections. It is the single scheduler
// writing onto per-connection send buffers.
type Fanout struct {
	reg     *registry.Registry
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a fanout over the given registry.
func New(reg *registry.Registry, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Fanout {
	return &Fanout{reg: reg, bus: b, metrics: m, logger: logger}
}

// Start subscribes to all domain events and begins delivering.
func (f *Fanout) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	ch, unsub := f.bus.Subscribe("", 1024)
	f.done = make(chan struct{})
	go func() {
		defer close(f.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				f.dispatch(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts delivery and waits for the loop to exit.
func (f *Fanout) Stop() {
	if f.cancel != nil {
		f.cancel()
		<-f.done
	}
}

func (f *Fanout) dispatch(evt bus.Event) {
	switch evt.Kind {
	case registry.EventPresenceChanged:
		users, ok := evt.Payload.([]string)
		if !ok {
			return
		}
		f.broadcast(wire.EventOnlineUsers, users)

	case registry.EventPresenceLeft:
		// Consumed by the signaling relay, not a client-facing event.

	case relation.EventRequested:
		p, ok := evt.Payload.(relation.RequestEvent)
		if !ok {
			return
		}
		f.deliver(p.To, wire.EventNewFriendRequest, wire.NewFriendRequest{From: wire.UserFromStore(p.From)})

	case relation.EventAccepted:
		p, ok := evt.Payload.(relation.AcceptEvent)
		if !ok {
			return
		}
		f.deliver(p.To, wire.EventFriendRequestAccepted, wire.FriendRequestAccepted{Friend: wire.UserFromStore(p.Friend)})

	case ledger.EventMessageCreated:
		m, ok := evt.Payload.(store.Message)
		if !ok {
			return
		}
		// Both parties get the event: the sender's live session needs its
		// own outgoing message reflected back for multi-device consistency.
		msg := wire.MessageFromStore(m)
		f.deliver(m.ReceiverID, wire.EventNewMessage, msg)
		f.deliver(m.SenderID, wire.EventNewMessage, msg)

	case signaling.EventIncoming:
		p, ok := evt.Payload.(signaling.IncomingEvent)
		if !ok {
			return
		}
		f.deliver(p.To, wire.EventIncomingCall, wire.IncomingCall{
			From:         p.From,
			CallerName:   p.CallerName,
			CallerAvatar: p.CallerAvatar,
			Signal:       p.Signal,
			Type:         p.Type,
		})

	case signaling.EventSignal:
		p, ok := evt.Payload.(signaling.SignalEvent)
		if !ok {
			return
		}
		f.deliver(p.To, wire.EventReceiveSignal, p.Signal)

	case signaling.EventAccepted:
		p, ok := evt.Payload.(signaling.AcceptedEvent)
		if !ok {
			return
		}
		f.deliver(p.To, wire.EventCallAccepted, wire.CallAccepted{Signal: p.Signal})

	case signaling.EventEnded:
		p, ok := evt.Payload.(signaling.EndedEvent)
		if !ok {
			return
		}
		f.deliver(p.To, wire.EventCallEnded, nil)

	case signaling.EventFailed:
		p, ok := evt.Payload.(signaling.FailedEvent)
		if !ok {
			return
		}
		f.deliver(p.To, wire.EventCallFailed, wire.CallFailed{Reason: p.Reason, To: p.Target})

	default:
		f.logger.Debug("unrouted bus event", zap.String("kind", evt.Kind))
	}
}

// deliver pushes one event to the recipient's live connection, if any.
func (f *Fanout) deliver(to string, event string, data any) {
	payload, err := wire.Encode(event, data)
	if err != nil {
		f.logger.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}

	conn, ok := f.reg.Resolve(to)
	if !ok {
		f.metrics.EventsDropped.WithLabelValues(dropOffline).Inc()
		f.logger.Debug("recipient offline, event dropped",
			zap.String("user", to), zap.String("event", event))
		return
	}
	f.send(conn, to, event, payload)
}

// broadcast pushes one event to every live connection.
func (f *Fanout) broadcast(event string, data any) {
	payload, err := wire.Encode(event, data)
	if err != nil {
		f.logger.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	for _, conn := range f.reg.Conns() {
		f.send(conn, "", event, payload)
	}
}

func (f *Fanout) send(conn registry.Conn, to, event string, payload []byte) {
	if !conn.Send(payload) {
		// A wedged consumer gets disconnected rather than stalling delivery.
		f.metrics.EventsDropped.WithLabelValues(dropBufferFull).Inc()
		f.logger.Warn("send buffer full, closing connection",
			zap.String("user", to), zap.String("conn", conn.ID()), zap.String("event", event))
		conn.Close()
		return
	}
	f.metrics.EventsDelivered.WithLabelValues(event).Inc()
}
