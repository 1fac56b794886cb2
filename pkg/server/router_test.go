package server

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/gochat/pkg/model"
	"github.com/NicolasHaas/gochat/pkg/protocol"
)

type routerFixture struct {
	reg    *Registry
	router *Router
	m      *Metrics
	out    map[string]*recorder
}

func newRouterFixture(t *testing.T, ids ...string) *routerFixture {
	t.Helper()
	f := &routerFixture{reg: NewRegistry(), m: NewMetrics(), out: make(map[string]*recorder)}
	f.router = NewRouter(f.reg, f.m)
	for _, id := range ids {
		f.join(t, id)
	}
	for _, r := range f.out {
		r.take()
	}
	return f
}

func (f *routerFixture) join(t *testing.T, id string) {
	t.Helper()
	rec := &recorder{}
	f.out[id] = rec
	if _, err := f.reg.Add(model.NewUser(id, "127.0.0.1:1", rec)); err != nil {
		t.Fatalf("Add %s: %v", id, err)
	}
	f.router.OnJoin(id)
}

func (f *routerFixture) expect(t *testing.T, id string, want ...string) {
	t.Helper()
	got := f.out[id].take()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lines to %s mismatch (-want +got):\n%s", id, diff)
	}
}

func TestRouterOnJoin(t *testing.T) {
	f := newRouterFixture(t)

	f.join(t, "U1")
	f.expect(t, "U1",
		sysLine("U1 has joined the chat."),
		userListLine(entry("U1", "COORDINATOR", "ACTIVE")),
		directLine("U1", "U1 is the coordinator."),
	)

	f.join(t, "U2")
	roster := userListLine(entry("U1", "COORDINATOR", "ACTIVE"), entry("U2", "MEMBER", "ACTIVE"))
	f.expect(t, "U1", sysLine("U2 has joined the chat."), roster)
	f.expect(t, "U2", sysLine("U2 has joined the chat."), roster, directLine("U2", "U1 is the coordinator."))
}

func TestRouterCoordinatorLeaves(t *testing.T) {
	f := newRouterFixture(t, "U1", "U2", "U3")

	dep, _ := f.reg.Remove("U1")
	f.router.OnLeave("U1", dep)

	want := []string{
		sysLine("U1 has left the chat."),
		sysLine("The old coordinator, U1, has left the chat. U2 is the new coordinator."),
		userListLine(entry("U2", "COORDINATOR", "ACTIVE"), entry("U3", "MEMBER", "ACTIVE")),
		protocol.Encode(protocol.ClosePrivate("U1")),
	}
	f.expect(t, "U2", want...)
	f.expect(t, "U3", want...)
	f.expect(t, "U1")
}

func TestRouterMemberLeaves(t *testing.T) {
	f := newRouterFixture(t, "U1", "U2")

	dep, _ := f.reg.Remove("U2")
	f.router.OnLeave("U2", dep)

	f.expect(t, "U1",
		sysLine("U2 has left the chat."),
		userListLine(entry("U1", "COORDINATOR", "ACTIVE")),
		protocol.Encode(protocol.ClosePrivate("U2")),
	)
}

// Two removals before either announcement goes out: each announcement
// names the coordinator its own removal promoted.
func TestRouterBackToBackCoordinatorLeaves(t *testing.T) {
	f := newRouterFixture(t, "U1", "U2", "U3")

	first, _ := f.reg.Remove("U1")
	second, _ := f.reg.Remove("U2")
	f.router.OnLeave("U1", first)
	f.router.OnLeave("U2", second)

	roster := userListLine(entry("U3", "COORDINATOR", "ACTIVE"))
	f.expect(t, "U3",
		sysLine("U1 has left the chat."),
		sysLine("The old coordinator, U1, has left the chat. U2 is the new coordinator."),
		roster,
		protocol.Encode(protocol.ClosePrivate("U1")),
		sysLine("U2 has left the chat."),
		sysLine("The old coordinator, U2, has left the chat. U3 is the new coordinator."),
		roster,
		protocol.Encode(protocol.ClosePrivate("U2")),
	)
}

func TestRouterSendChat(t *testing.T) {
	f := newRouterFixture(t, "U1", "U2", "U3")

	f.router.SendChat("U2", protocol.GroupID, "hello all")
	group := protocol.Encode(protocol.Chat("U2", protocol.GroupID, "hello all"))
	for _, id := range []string{"U1", "U2", "U3"} {
		f.expect(t, id, group)
	}

	f.router.SendChat("U1", "U3", "psst")
	private := protocol.Encode(protocol.Chat("U1", "U3", "psst"))
	f.expect(t, "U3", private)
	f.expect(t, "U1", private)
	f.expect(t, "U2")

	// To self: delivered once.
	f.router.SendChat("U2", "U2", "note")
	f.expect(t, "U2", protocol.Encode(protocol.Chat("U2", "U2", "note")))

	// Unknown recipient: only the echo.
	f.router.SendChat("U2", "ghost", "anyone?")
	f.expect(t, "U2", protocol.Encode(protocol.Chat("U2", "ghost", "anyone?")))

	if got := f.m.ChatMessages.Load(); got != 4 {
		t.Errorf("ChatMessages: want 4, got %d", got)
	}
}

func TestRouterBestEffortFanOut(t *testing.T) {
	f := newRouterFixture(t, "U1", "U2", "U3")
	f.out["U2"].fail = true

	f.router.SendChat("U1", protocol.GroupID, "still here?")
	line := protocol.Encode(protocol.Chat("U1", protocol.GroupID, "still here?"))
	f.expect(t, "U1", line)
	f.expect(t, "U3", line)

	if got := f.m.SendFailures.Load(); got != 1 {
		t.Errorf("SendFailures: want 1, got %d", got)
	}
}

func TestRouterDispatch(t *testing.T) {
	f := newRouterFixture(t, "U1", "U2")

	t.Run("details", func(t *testing.T) {
		f.router.Dispatch("U1", protocol.DetailsRequest("U1", "U2"))
		f.expect(t, "U1", protocol.Encode(protocol.DetailsResponse("U2", protocol.Fields{
			{Key: DetailUserID, Value: "U2"},
			{Key: DetailPeerAddress, Value: "127.0.0.1:1"},
			{Key: DetailRole, Value: "MEMBER"},
			{Key: DetailStatus, Value: "ACTIVE"},
		})))
		f.expect(t, "U2")
	})

	t.Run("details_unknown", func(t *testing.T) {
		f.router.Dispatch("U1", protocol.DetailsRequest("U1", "ghost"))
		f.expect(t, "U1", "type=DETAILS_RESPONSE&sender=[SERVER]&recipient=ghost&content=")
	})

	t.Run("open_private", func(t *testing.T) {
		f.router.Dispatch("U1", protocol.OpenPrivate("U1", "U2"))
		f.expect(t, "U2", protocol.Encode(protocol.OpenPrivate("U1", "U2")))
		f.expect(t, "U1")
	})

	t.Run("status_update", func(t *testing.T) {
		f.router.Dispatch("U2", protocol.StatusUpdate("U2"))
		want := userListLine(entry("U1", "COORDINATOR", "ACTIVE"), entry("U2", "MEMBER", "INACTIVE"))
		f.expect(t, "U1", want)
		f.expect(t, "U2", want)
	})

	t.Run("sender_is_connection_id", func(t *testing.T) {
		f.router.Dispatch("U2", protocol.Chat("U1", protocol.GroupID, "spoofed"))
		want := protocol.Encode(protocol.Chat("U2", protocol.GroupID, "spoofed"))
		f.expect(t, "U1", want)
		f.expect(t, "U2", want)
	})

	t.Run("server_only_types_dropped", func(t *testing.T) {
		f.router.Dispatch("U1", protocol.UserList(protocol.Roster{}))
		f.router.Dispatch("U1", protocol.Join("U1"))
		f.expect(t, "U1")
		f.expect(t, "U2")
	})
}
