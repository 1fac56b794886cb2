package server

import (
	"fmt"
	"log/slog"

	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// Router turns protocol events into registry reads/writes and outbound
// sends. Fan-out is best effort: a failed write to one recipient is logged
// and the remaining recipients still get the message.
type Router struct {
	registry *Registry
	metrics  *Metrics
}

// NewRouter creates a router over reg. A nil m gets a private Metrics.
func NewRouter(reg *Registry, m *Metrics) *Router {
	if m == nil {
		m = NewMetrics()
	}
	return &Router{registry: reg, metrics: m}
}

// OnJoin announces id to everyone, refreshes the user list and tells id who
// the coordinator is.
func (rt *Router) OnJoin(id string) {
	rt.systemBroadcast(fmt.Sprintf("%s has joined the chat.", id))
	rt.broadcastUserList()

	coordinator, _ := rt.registry.CoordinatorID()
	rt.sendTo(id, protocol.Chat(protocol.ServerID, id, fmt.Sprintf("%s is the coordinator.", coordinator)))
}

// OnLeave announces that id left, names the new coordinator when dep says
// id held the role, refreshes the user list and tells clients to close
// private chats with id. The coordinator named is the one chosen by the
// removal itself, not whoever holds the role when the message goes out.
func (rt *Router) OnLeave(id string, dep Departure) {
	rt.systemBroadcast(fmt.Sprintf("%s has left the chat.", id))

	if dep.WasCoordinator && dep.Coordinator != "" {
		rt.systemBroadcast(fmt.Sprintf(
			"The old coordinator, %s, has left the chat. %s is the new coordinator.", id, dep.Coordinator))
	}
	rt.broadcastUserList()
	rt.broadcast(protocol.ClosePrivate(id))
}

// SendChat delivers text to everyone when recipient is GroupID, otherwise to
// the recipient and back to the sender.
func (rt *Router) SendChat(sender, recipient, text string) {
	rt.metrics.ChatMessages.Add(1)
	msg := protocol.Chat(sender, recipient, text)

	if recipient == protocol.GroupID {
		rt.broadcast(msg)
		return
	}

	line := protocol.Encode(msg)
	if u, ok := rt.registry.Get(recipient); ok {
		rt.deliver(u, line)
	}
	if sender != protocol.ServerID && sender != recipient {
		if u, ok := rt.registry.Get(sender); ok {
			rt.deliver(u, line)
		}
	}
}

// RequestDetails sends the full details of targetID to requester only.
func (rt *Router) RequestDetails(requester, targetID string) {
	rt.metrics.DetailsRequests.Add(1)
	details := rt.registry.DetailsOf(targetID, true)
	rt.sendTo(requester, protocol.DetailsResponse(targetID, details))
}

// OpenPrivateChat notifies targetID that sender opened a private chat.
func (rt *Router) OpenPrivateChat(sender, targetID string) {
	rt.metrics.PrivateOpens.Add(1)
	rt.sendTo(targetID, protocol.OpenPrivate(sender, targetID))
}

// StatusUpdate flips the status of id and refreshes the user list.
func (rt *Router) StatusUpdate(id string) {
	if rt.registry.ToggleStatus(id) {
		rt.metrics.StatusToggles.Add(1)
	}
	rt.broadcastUserList()
}

// Dispatch routes a message received from senderID. The connection's id is
// authoritative; msg.Sender is ignored. Types a client never sends are dropped.
func (rt *Router) Dispatch(senderID string, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeChat:
		rt.SendChat(senderID, msg.Recipient, msg.Text())

	case protocol.TypeOpenPrivate:
		rt.OpenPrivateChat(senderID, msg.Text())

	case protocol.TypeDetailsRequest:
		rt.RequestDetails(senderID, msg.Text())

	case protocol.TypeStatusUpdate:
		rt.StatusUpdate(senderID)

	default:
		slog.Debug("dropping unroutable message", "user", senderID, "type", msg.Type)
	}
}

func (rt *Router) systemBroadcast(text string) {
	rt.broadcast(protocol.Chat(protocol.ServerID, protocol.GroupID, text))
}

func (rt *Router) broadcastUserList() {
	rt.broadcast(protocol.UserList(rt.registry.Roster()))
}

// broadcast sends msg to a snapshot of every registered user.
func (rt *Router) broadcast(msg protocol.Message) {
	line := protocol.Encode(msg)
	for _, u := range rt.registry.All() {
		rt.deliver(u, line)
	}
}

func (rt *Router) sendTo(id string, msg protocol.Message) {
	if u, ok := rt.registry.Get(id); ok {
		rt.deliver(u, protocol.Encode(msg))
	}
}

func (rt *Router) deliver(u model.User, line string) {
	if u.Out == nil {
		return
	}
	if err := u.Out.WriteLine(line); err != nil {
		rt.metrics.SendFailures.Add(1)
		slog.Warn("send failed", "user", u.ID, "err", err)
	}
}
