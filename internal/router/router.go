// Package router decodes inbound wire frames and dispatches them by
// kind. Dispatch is synchronous and in delivery order. The Handler
// interface is closed over the declared kinds, so an unhandled new kind
// fails at compile time in the composition root instead of silently at
// runtime; a kind the server adds that this build does not declare is a
// logged no-op.
package router

import (
	"encoding/json"
	"log/slog"

	"github.com/haasonsaas/chatsync/internal/observability"
	"github.com/haasonsaas/chatsync/internal/protocol"
)

// Handler receives routed frames, one method per declared inbound kind.
type Handler interface {
	HandleMessage(protocol.MessageData)
	HandleFriendRequest(protocol.FriendRequestData)
	HandleFriendAccepted(protocol.FriendAcceptedData)
	HandleUserStatus(protocol.UserStatusData)
	HandleOnlineUsers(protocol.OnlineUsersData)
	HandleConnectionConfirmed()
}

// Router fans raw transport payloads into a Handler.
type Router struct {
	handler Handler
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a router. Metrics may be nil.
func New(handler Handler, logger *slog.Logger, metrics *observability.Metrics) *Router {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Router{
		handler: handler,
		logger:  logger.With("component", "router"),
		metrics: metrics,
	}
}

// Route parses one raw frame and dispatches it. Malformed frames are
// logged and dropped; they never propagate an error or panic, so a
// corrupt frame cannot take the link down. Routing the same malformed
// frame any number of times changes no observable state.
func (r *Router) Route(raw []byte) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		r.drop("undecodable frame", err)
		return
	}

	switch frame.Type {
	case protocol.KindMessage:
		var d protocol.MessageData
		if !r.payload(frame, &d) {
			return
		}
		if d.ID == "" || d.ConversationID == "" {
			r.drop("message frame missing id or conversationId", nil)
			return
		}
		r.metrics.FrameRouted(string(frame.Type))
		r.handler.HandleMessage(d)

	case protocol.KindFriendRequest:
		var d protocol.FriendRequestData
		if !r.payload(frame, &d) {
			return
		}
		if d.ID == "" {
			r.drop("friend_request frame missing id", nil)
			return
		}
		r.metrics.FrameRouted(string(frame.Type))
		r.handler.HandleFriendRequest(d)

	case protocol.KindFriendAccepted:
		var d protocol.FriendAcceptedData
		if !r.payload(frame, &d) {
			return
		}
		r.metrics.FrameRouted(string(frame.Type))
		r.handler.HandleFriendAccepted(d)

	case protocol.KindUserStatus:
		var d protocol.UserStatusData
		if !r.payload(frame, &d) {
			return
		}
		if d.UserID == "" {
			r.drop("user_status frame missing userId", nil)
			return
		}
		r.metrics.FrameRouted(string(frame.Type))
		r.handler.HandleUserStatus(d)

	case protocol.KindOnlineUsers:
		var d protocol.OnlineUsersData
		if !r.payload(frame, &d) {
			return
		}
		r.metrics.FrameRouted(string(frame.Type))
		r.handler.HandleOnlineUsers(d)

	case protocol.KindConnectionConfirmed:
		r.metrics.FrameRouted(string(frame.Type))
		r.handler.HandleConnectionConfirmed()

	case protocol.KindPing, protocol.KindUserConnect:
		// Outbound-only kinds; tolerate a server that reflects them.
		r.logger.Debug("ignoring reflected outbound frame", "kind", string(frame.Type))

	default:
		// Forward compatibility: a kind added server-side is a no-op.
		r.metrics.FrameRouted("unknown")
		r.logger.Debug("unrecognized frame kind", "kind", string(frame.Type))
	}
}

func (r *Router) payload(frame protocol.Frame, into any) bool {
	if err := json.Unmarshal(frame.Data, into); err != nil {
		r.drop("malformed "+string(frame.Type)+" payload", err)
		return false
	}
	return true
}

func (r *Router) drop(reason string, err error) {
	r.metrics.FrameDropped()
	if err != nil {
		r.logger.Warn("dropping inbound frame", "reason", reason, "error", err)
		return
	}
	r.logger.Warn("dropping inbound frame", "reason", reason)
}
