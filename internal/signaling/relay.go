// Package signaling relays call-setup messages (offers, answers,
// ICE-style signals) between two live connections. Signal payloads pass
// through opaque; the only state kept is a small per-pair call table used
// to reject answers and hang-ups for calls that never happened.
package signaling

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/bus"
	"github.com/huddle-chat/huddle/internal/metrics"
	"github.com/huddle-chat/huddle/internal/registry"
	"github.com/huddle-chat/huddle/internal/store"
)

// Bus event kinds published by the relay. All are targeted deliveries.
const (
	EventIncoming = "call.incoming"
	EventSignal   = "call.signal"
	EventAccepted = "call.accepted"
	EventEnded    = "call.ended"
	EventFailed   = "call.failed"
)

// Failure reasons carried on EventFailed.
const (
	ReasonOffline       = "offline"
	ReasonNoPendingCall = "no pending call"
	ReasonBusy          = "call already in progress"
)

// IncomingEvent rings the callee with the caller's profile attached.
type IncomingEvent struct {
	To           string
	From         string
	CallerName   string
	CallerAvatar string
	Signal       json.RawMessage
	Type         string
}

// SignalEvent forwards an opaque mid-call signal.
type SignalEvent struct {
	To     string
	Signal json.RawMessage
}

// AcceptedEvent tells the caller their call was answered.
type AcceptedEvent struct {
	To     string
	Signal json.RawMessage
}

// EndedEvent tells the partner the call is over.
type EndedEvent struct {
	To string
}

// FailedEvent tells the initiator a call action could not reach Target.
type FailedEvent struct {
	To     string
	Reason string
	Target string
}

const defaultCallType = "video"

// Relay is the stateless-pass-through signaling component, plus the call
// state table.
type Relay struct {
	reg     *registry.Registry
	db      *store.DB
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger

	table  *stateTable
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a signaling relay.
func New(reg *registry.Registry, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *Relay {
	return &Relay{
		reg:     reg,
		db:      db,
		bus:     b,
		metrics: m,
		logger:  logger,
		table:   newStateTable(),
	}
}

// Start begins watching for disconnects so in-progress calls involving a
// vanished user are torn down and their partner is notified.
func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe(registry.EventPresenceLeft, 64)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				user, ok := evt.Payload.(string)
				if !ok {
					continue
				}
				for _, partner := range r.table.dropUser(user) {
					r.logger.Info("call torn down by disconnect",
						zap.String("gone", user), zap.String("partner", partner))
					r.bus.Publish(EventEnded, EndedEvent{To: partner})
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop detaches the relay from the bus.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

// Call rings the callee. If the callee is offline the caller gets a
// failure event and nothing else happens.
func (r *Relay) Call(from, to string, signal json.RawMessage, callType string) {
	if callType == "" {
		callType = defaultCallType
	}
	r.metrics.CallsTotal.WithLabelValues(callType).Inc()

	if _, online := r.reg.Resolve(to); !online {
		r.logger.Info("call target offline", zap.String("from", from), zap.String("to", to))
		r.bus.Publish(EventFailed, FailedEvent{To: from, Reason: ReasonOffline, Target: to})
		return
	}

	if err := r.table.transition(callKey{caller: from, callee: to}, Ringing); err != nil {
		r.logger.Warn("call rejected", zap.String("from", from), zap.String("to", to), zap.Error(err))
		r.bus.Publish(EventFailed, FailedEvent{To: from, Reason: ReasonBusy, Target: to})
		return
	}

	name, avatar := r.callerProfile(from)
	r.bus.Publish(EventIncoming, IncomingEvent{
		To:           to,
		From:         from,
		CallerName:   name,
		CallerAvatar: avatar,
		Signal:       signal,
		Type:         callType,
	})
}

// Signal forwards an opaque signal to the target if it is online.
func (r *Relay) Signal(from, to string, signal json.RawMessage) {
	if _, online := r.reg.Resolve(to); !online {
		r.bus.Publish(EventFailed, FailedEvent{To: from, Reason: ReasonOffline, Target: to})
		return
	}
	r.bus.Publish(EventSignal, SignalEvent{To: to, Signal: signal})
}

// Answer accepts a ringing call. `to` is the original caller. Answers for
// calls that are not ringing are rejected back to the answerer.
func (r *Relay) Answer(from, to string, signal json.RawMessage) {
	if _, online := r.reg.Resolve(to); !online {
		r.bus.Publish(EventFailed, FailedEvent{To: from, Reason: ReasonOffline, Target: to})
		return
	}
	if err := r.table.transition(callKey{caller: to, callee: from}, Active); err != nil {
		r.logger.Warn("answer without pending call",
			zap.String("from", from), zap.String("to", to), zap.Error(err))
		r.bus.Publish(EventFailed, FailedEvent{To: from, Reason: ReasonNoPendingCall, Target: to})
		return
	}
	r.bus.Publish(EventAccepted, AcceptedEvent{To: to, Signal: signal})
}

// End hangs up whatever call exists between the two users, in either
// direction and from either state.
func (r *Relay) End(from, to string) {
	if !r.table.clearPair(from, to) {
		r.bus.Publish(EventFailed, FailedEvent{To: from, Reason: ReasonNoPendingCall, Target: to})
		return
	}
	if _, online := r.reg.Resolve(to); !online {
		// Partner already gone; state is cleared, nothing to notify.
		return
	}
	r.bus.Publish(EventEnded, EndedEvent{To: to})
}

func (r *Relay) callerProfile(userID string) (name, avatar string) {
	name, avatar = "Unknown", "/avatar.png"
	u, err := r.db.GetUser(userID)
	if err != nil {
		r.logger.Warn("caller profile lookup failed", zap.String("user", userID), zap.Error(err))
		return name, avatar
	}
	if u != nil {
		if u.FullName != "" {
			name = u.FullName
		}
		if u.ProfilePic != "" {
			avatar = u.ProfilePic
		}
	}
	return name, avatar
}
