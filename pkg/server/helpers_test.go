package server

import (
	"errors"
	"sync"

	"github.com/NicolasHaas/gochat/pkg/protocol"
)

// recorder is an in-memory model.Outbound.
type recorder struct {
	mu    sync.Mutex
	lines []string
	fail  bool
}

func (r *recorder) WriteLine(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broken pipe")
	}
	r.lines = append(r.lines, line)
	return nil
}

// take returns and clears the recorded lines.
func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.lines
	r.lines = nil
	return out
}

func sysLine(text string) string {
	return protocol.Encode(protocol.Chat(protocol.ServerID, protocol.GroupID, text))
}

func directLine(to, text string) string {
	return protocol.Encode(protocol.Chat(protocol.ServerID, to, text))
}

func entry(id, role, status string) protocol.Entry {
	return protocol.Entry{Key: id, Fields: protocol.Fields{
		{Key: DetailRole, Value: role},
		{Key: DetailStatus, Value: status},
	}}
}

func userListLine(entries ...protocol.Entry) string {
	return protocol.Encode(protocol.UserList(protocol.Roster(entries)))
}
