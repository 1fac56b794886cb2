package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// chatSender is the outbound half of client.Session.
type chatSender interface {
	SendChat(recipient, text string)
	RequestDetails(targetID string)
	OpenPrivateChat(targetID string)
	ToggleStatus()
}

// console renders inbound messages and turns input lines into session calls.
type console struct {
	mu      sync.Mutex
	out     io.Writer
	private map[string]bool // peers with an open private chat
}

func newConsole(out io.Writer) *console {
	return &console{out: out, private: make(map[string]bool)}
}

const helpText = `commands:
  <text>               send to everyone
  /msg <id> <text>     send a private message
  /private <id>        open a private chat
  /details <id>        show user details
  /status              toggle ACTIVE/INACTIVE
  /quit                leave`

// HandleMessage implements client.MessageHandler.
func (c *console) HandleMessage(m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m.Type {
	case protocol.TypeOpenPrivate:
		c.private[m.Sender] = true
	case protocol.TypeClosePrivate:
		if !c.private[m.Sender] {
			return
		}
		delete(c.private, m.Sender)
	}
	if line := render(m); line != "" {
		_, _ = fmt.Fprintln(c.out, line)
	}
}

// OnLostConnection implements client.ConnectionListener.
func (c *console) OnLostConnection(attemptReconnection bool) {
	if attemptReconnection {
		c.printf("*** connection lost, reconnecting...")
		return
	}
	c.printf("*** connection lost, giving up")
}

// OnReconnected implements client.ConnectionListener.
func (c *console) OnReconnected() {
	c.printf("*** reconnected")
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format+"\n", args...)
}

// execute runs one input line. It returns true on /quit.
func (c *console) execute(line string, s chatSender) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.SendChat(protocol.GroupID, line)
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit":
		return true
	case "/status":
		s.ToggleStatus()
	case "/details":
		if rest == "" {
			c.printf("usage: /details <id>")
			return false
		}
		s.RequestDetails(rest)
	case "/private":
		if rest == "" {
			c.printf("usage: /private <id>")
			return false
		}
		c.mu.Lock()
		c.private[rest] = true
		c.mu.Unlock()
		s.OpenPrivateChat(rest)
	case "/msg":
		to, text, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(text) == "" {
			c.printf("usage: /msg <id> <text>")
			return false
		}
		s.SendChat(to, strings.TrimSpace(text))
	default:
		c.printf("%s", helpText)
	}
	return false
}

// render formats m for the terminal. An empty result means nothing to show.
func render(m protocol.Message) string {
	prefix := "[" + m.Timestamp + "] "
	switch m.Type {
	case protocol.TypeChat:
		return prefix + m.Sender + " -> " + m.Recipient + ": " + m.Text()

	case protocol.TypeUserList:
		users := make([]string, 0, len(m.Roster()))
		for _, e := range m.Roster() {
			role, _ := e.Fields.Get("role")
			status, _ := e.Fields.Get("status")
			users = append(users, fmt.Sprintf("%s (%s, %s)", e.Key, role, status))
		}
		return prefix + "users: " + strings.Join(users, ", ")

	case protocol.TypeDetailsResponse:
		fields := m.Fields()
		if len(fields) == 0 {
			return prefix + "no such user: " + m.Recipient
		}
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, f.Key+"="+f.Value)
		}
		return prefix + "details of " + m.Recipient + ": " + strings.Join(parts, ", ")

	case protocol.TypeOpenPrivate:
		return prefix + m.Sender + " opened a private chat with you"

	case protocol.TypeClosePrivate:
		return prefix + "private chat with " + m.Sender + " closed"

	default:
		return ""
	}
}
