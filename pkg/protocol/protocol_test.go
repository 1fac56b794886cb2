package protocol

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func fixClock(t *testing.T) {
	t.Helper()
	prev := now
	now = func() time.Time { return time.Date(2026, 1, 2, 13, 4, 5, 0, time.UTC) }
	t.Cleanup(func() { now = prev })
}

func TestEncode(t *testing.T) {
	fixClock(t)

	tcases := map[string]struct {
		msg  Message
		want string
	}{
		"join": {
			msg:  Join("alice"),
			want: "type=JOIN&sender=alice&recipient=[SERVER]&content=",
		},
		"chat": {
			msg:  Chat("alice", GroupID, "hi there"),
			want: "type=CHAT&sender=alice&recipient=Group&content=hi there",
		},
		"details_response": {
			msg: DetailsResponse("bob", Fields{
				{Key: "userId", Value: "bob"},
				{Key: "peerAddress", Value: "127.0.0.1:51000"},
				{Key: "role", Value: "MEMBER"},
				{Key: "status", Value: "ACTIVE"},
			}),
			want: "type=DETAILS_RESPONSE&sender=[SERVER]&recipient=bob&content=userId=bob,peerAddress=127.0.0.1:51000,role=MEMBER,status=ACTIVE",
		},
		"user_list": {
			msg: UserList(Roster{
				{Key: "alice", Fields: Fields{{Key: "role", Value: "COORDINATOR"}, {Key: "status", Value: "ACTIVE"}}},
				{Key: "bob", Fields: Fields{{Key: "role", Value: "MEMBER"}, {Key: "status", Value: "INACTIVE"}}},
			}),
			want: "type=USER_LIST&sender=[SERVER]&recipient=Group&content=alice={role=COORDINATOR,status=ACTIVE},bob={role=MEMBER,status=INACTIVE}",
		},
		"nil_content": {
			msg:  Message{Type: TypeClosePrivate, Sender: "bob", Recipient: GroupID},
			want: "type=CLOSE_PRIVATE&sender=bob&recipient=Group&content=",
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, Encode(tc.msg)); diff != "" {
				t.Errorf("Encode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	fixClock(t)

	msgs := []Message{
		Join("alice"),
		RejectJoin("alice"),
		OpenPrivate("alice", "bob"),
		ClosePrivate("bob"),
		DetailsRequest("alice", "bob"),
		DetailsResponse("bob", Fields{{Key: "role", Value: "MEMBER"}, {Key: "status", Value: "ACTIVE"}}),
		DetailsResponse("ghost", Fields{}),
		Chat("alice", GroupID, "hello world"),
		Chat("alice", "bob", "psst"),
		UserList(Roster{
			{Key: "U1", Fields: Fields{{Key: "role", Value: "COORDINATOR"}, {Key: "status", Value: "ACTIVE"}}},
			{Key: "U2", Fields: Fields{{Key: "role", Value: "MEMBER"}, {Key: "status", Value: "ACTIVE"}}},
			{Key: "U3", Fields: Fields{{Key: "role", Value: "MEMBER"}, {Key: "status", Value: "INACTIVE"}}},
		}),
		UserList(Roster{}),
		StatusUpdate("alice"),
	}

	for _, m := range msgs {
		t.Run(m.Type.String(), func(t *testing.T) {
			got, err := Decode(Encode(m))
			if err != nil {
				t.Fatalf("Decode: unexpected error: %v", err)
			}
			if diff := cmp.Diff(m, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeContentShape(t *testing.T) {
	m, err := Decode("type=CHAT&sender=a&recipient=Group&content=x=1,y=2")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := m.Content.(Text); !ok {
		t.Fatalf("CHAT content: want Text, got %T", m.Content)
	}

	m, err = Decode("type=JOIN&sender=a&recipient=[SERVER]&content=")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := m.Content.(None); !ok {
		t.Fatalf("JOIN content: want None, got %T", m.Content)
	}

	m, err = Decode("type=DETAILS_RESPONSE&sender=[SERVER]&recipient=a&content=role=MEMBER,status=ACTIVE")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v, _ := m.Fields().Get("status"); v != "ACTIVE" {
		t.Fatalf("status: want ACTIVE, got %q", v)
	}
}

func TestDecodeMalformed(t *testing.T) {
	lines := map[string]string{
		"empty":          "",
		"three_fields":   "type=CHAT&sender=a&recipient=b",
		"missing_prefix": "type=CHAT&from=a&recipient=b&content=x",
		"unknown_type":   "type=SHOUT&sender=a&recipient=b&content=x",
		"wrong_order":    "sender=a&type=CHAT&recipient=b&content=x",
		"lowercase_type": "type=chat&sender=a&recipient=b&content=x",
	}
	for name, line := range lines {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(line)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("Decode(%q): want ErrMalformed, got %v", line, err)
			}
		})
	}
}

// Delimiters inside content are not escaped; these cases pin the resulting
// behaviour so that any change to the wire format is deliberate.
func TestUnescapedDelimiters(t *testing.T) {
	fixClock(t)

	t.Run("ampersand_in_chat_breaks_line", func(t *testing.T) {
		_, err := Decode(Encode(Chat("a", GroupID, "fish & chips")))
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("want ErrMalformed, got %v", err)
		}
	})

	t.Run("comma_in_chat_survives", func(t *testing.T) {
		got, err := Decode(Encode(Chat("a", GroupID, "one, two")))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Text() != "one, two" {
			t.Fatalf("text: want %q, got %q", "one, two", got.Text())
		}
	})

	t.Run("comma_in_field_value_truncates", func(t *testing.T) {
		m := DetailsResponse("a", Fields{{Key: "note", Value: "x,y"}, {Key: "role", Value: "MEMBER"}})
		got, err := Decode(Encode(m))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		want := Fields{{Key: "note", Value: "x"}, {Key: "role", Value: "MEMBER"}}
		if diff := cmp.Diff(want, got.Fields()); diff != "" {
			t.Errorf("fields mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("brace_in_roster_value_cuts_entry", func(t *testing.T) {
		m := UserList(Roster{{Key: "a", Fields: Fields{{Key: "status", Value: "x}y"}}}})
		got, err := Decode(Encode(m))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		want := Roster{{Key: "a", Fields: Fields{{Key: "status", Value: "x"}}}}
		if diff := cmp.Diff(want, got.Roster()); diff != "" {
			t.Errorf("roster mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestReader(t *testing.T) {
	fixClock(t)

	input := Encode(Join("alice")) + "\r\n" +
		"garbage\n" +
		Encode(Chat("alice", GroupID, "hi")) + "\n"
	r := NewReader(strings.NewReader(input))

	m, err := r.ReadMessage()
	if err != nil {
		t.Fatalf("first ReadMessage: %v", err)
	}
	if m.Type != TypeJoin || m.Sender != "alice" {
		t.Fatalf("first message: got %+v", m)
	}

	if _, err := r.ReadMessage(); !errors.Is(err, ErrMalformed) {
		t.Fatalf("second ReadMessage: want ErrMalformed, got %v", err)
	}

	m, err = r.ReadMessage()
	if err != nil {
		t.Fatalf("third ReadMessage: %v", err)
	}
	if m.Text() != "hi" {
		t.Fatalf("third message text: got %q", m.Text())
	}

	if _, err := r.ReadMessage(); !errors.Is(err, io.EOF) {
		t.Fatalf("final ReadMessage: want io.EOF, got %v", err)
	}
}

func TestReaderLineTooLong(t *testing.T) {
	r := NewReader(strings.NewReader(strings.Repeat("x", MaxLineLength+10) + "\n"))
	_, err := r.ReadLine()
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("want read error for oversized line, got %v", err)
	}
}

func TestWriteMessage(t *testing.T) {
	fixClock(t)

	var sb strings.Builder
	if err := WriteMessage(&sb, StatusUpdate("bob")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	want := "type=STATUS_UPDATE&sender=bob&recipient=[SERVER]&content=bob\n"
	if sb.String() != want {
		t.Fatalf("WriteMessage: want %q, got %q", want, sb.String())
	}
}

func TestParseType(t *testing.T) {
	for i := TypeJoin; i <= TypeStatusUpdate; i++ {
		got, ok := ParseType(i.String())
		if !ok || got != i {
			t.Errorf("ParseType(%q) = %v, %v", i.String(), got, ok)
		}
	}
	if _, ok := ParseType("NOPE"); ok {
		t.Errorf("ParseType(NOPE): want false")
	}
	if s := Type(42).String(); s != "Type(42)" {
		t.Errorf("Type(42).String() = %q", s)
	}
}
