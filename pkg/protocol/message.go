package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Reserved identities.
const (
	ServerID = "[SERVER]" // sender of system-originated messages
	GroupID  = "Group"    // recipient meaning "every connected user"
)

// TimestampLayout is the layout of Message.Timestamp.
const TimestampLayout = "15:04:05"

// Type identifies a message and selects the shape of its content.
type Type int

const (
	TypeJoin Type = iota
	TypeRejectJoin
	TypeOpenPrivate
	TypeClosePrivate
	TypeDetailsRequest
	TypeDetailsResponse
	TypeChat
	TypeUserList
	TypeStatusUpdate
)

var typeNames = [...]string{
	TypeJoin:            "JOIN",
	TypeRejectJoin:      "REJECT_JOIN",
	TypeOpenPrivate:     "OPEN_PRIVATE",
	TypeClosePrivate:    "CLOSE_PRIVATE",
	TypeDetailsRequest:  "DETAILS_REQUEST",
	TypeDetailsResponse: "DETAILS_RESPONSE",
	TypeChat:            "CHAT",
	TypeUserList:        "USER_LIST",
	TypeStatusUpdate:    "STATUS_UPDATE",
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType converts a wire name to a Type.
func ParseType(s string) (Type, bool) {
	for i, name := range typeNames {
		if name == s {
			return Type(i), true
		}
	}
	return 0, false
}

// Content is the payload of a Message. Its concrete type is one of None,
// Text, Fields or Roster and is determined by the message Type.
type Content interface {
	encode() string
}

// None is the empty payload.
type None struct{}

// Text is a plain string payload. It is written to the wire unescaped.
type Text string

// Field is one key/value pair of a flat map.
type Field struct {
	Key   string
	Value string
}

// Fields is an insertion-ordered flat map.
type Fields []Field

// Entry is one user in a Roster.
type Entry struct {
	Key    string
	Fields Fields
}

// Roster is an insertion-ordered map of flat maps.
type Roster []Entry

func (None) encode() string { return "" }

func (t Text) encode() string { return string(t) }

func (f Fields) encode() string {
	parts := make([]string, len(f))
	for i, kv := range f {
		parts[i] = kv.Key + "=" + kv.Value
	}
	return strings.Join(parts, ",")
}

func (r Roster) encode() string {
	parts := make([]string, len(r))
	for i, e := range r {
		parts[i] = e.Key + "={" + e.Fields.encode() + "}"
	}
	return strings.Join(parts, ",")
}

// Get returns the value stored under key.
func (f Fields) Get(key string) (string, bool) {
	for _, kv := range f {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Get returns the fields stored under key.
func (r Roster) Get(key string) (Fields, bool) {
	for _, e := range r {
		if e.Key == key {
			return e.Fields, true
		}
	}
	return nil, false
}

// Message is a single protocol message. Timestamp is stamped locally when the
// message is constructed or decoded and is never sent on the wire.
type Message struct {
	Type      Type
	Sender    string
	Recipient string
	Content   Content
	Timestamp string
}

// Text returns the plain-string content, or "" for any other shape.
func (m Message) Text() string {
	if t, ok := m.Content.(Text); ok {
		return string(t)
	}
	return ""
}

// Fields returns the flat-map content, or nil for any other shape.
func (m Message) Fields() Fields {
	if f, ok := m.Content.(Fields); ok {
		return f
	}
	return nil
}

// Roster returns the map-of-maps content, or nil for any other shape.
func (m Message) Roster() Roster {
	if r, ok := m.Content.(Roster); ok {
		return r
	}
	return nil
}

var now = time.Now

func stamp() string {
	return now().Format(TimestampLayout)
}

func newMessage(t Type, sender, recipient string, content Content) Message {
	if content == nil {
		content = None{}
	}
	return Message{Type: t, Sender: sender, Recipient: recipient, Content: content, Timestamp: stamp()}
}

// Join asks the server to register id.
func Join(id string) Message {
	return newMessage(TypeJoin, id, ServerID, None{})
}

// RejectJoin tells id that its join was refused.
func RejectJoin(id string) Message {
	return newMessage(TypeRejectJoin, ServerID, id, None{})
}

// OpenPrivate announces that sender opened a private chat with target.
func OpenPrivate(sender, target string) Message {
	return newMessage(TypeOpenPrivate, sender, target, Text(target))
}

// ClosePrivate tells every client to drop private chats with id.
func ClosePrivate(id string) Message {
	return newMessage(TypeClosePrivate, id, GroupID, None{})
}

// DetailsRequest asks the server for the details of target.
func DetailsRequest(sender, target string) Message {
	return newMessage(TypeDetailsRequest, sender, ServerID, Text(target))
}

// DetailsResponse carries the details of target.
func DetailsResponse(target string, details Fields) Message {
	return newMessage(TypeDetailsResponse, ServerID, target, details)
}

// Chat is a chat line from sender to recipient (a user id or GroupID).
func Chat(sender, recipient, text string) Message {
	return newMessage(TypeChat, sender, recipient, Text(text))
}

// UserList carries the public details of every connected user.
func UserList(roster Roster) Message {
	return newMessage(TypeUserList, ServerID, GroupID, roster)
}

// StatusUpdate asks the server to flip the status of id.
func StatusUpdate(id string) Message {
	return newMessage(TypeStatusUpdate, id, ServerID, Text(id))
}
