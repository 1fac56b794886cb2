// Package protocol defines the line-oriented chat wire format.
//
// Every message is one newline-terminated line:
//
//	type=<TYPE>&sender=<S>&recipient=<R>&content=<C>
//
// Delimiter characters (& = { } ,) are not escaped. Text containing them
// does not survive a round trip.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// MaxLineLength is the maximum length of a single protocol line (64KB).
const MaxLineLength = 65536

// ErrMalformed is returned by Decode for lines that do not follow the grammar.
var ErrMalformed = errors.New("protocol: malformed message")

var (
	fieldPattern  = regexp.MustCompile(`(\w+)=([^,]+)`)
	rosterPattern = regexp.MustCompile(`(\w+)=\{(.*?)\}`)
)

var linePrefixes = [4]string{"type=", "sender=", "recipient=", "content="}

// Encode renders m as a single line without the trailing newline.
func Encode(m Message) string {
	content := m.Content
	if content == nil {
		content = None{}
	}
	return linePrefixes[0] + m.Type.String() +
		"&" + linePrefixes[1] + m.Sender +
		"&" + linePrefixes[2] + m.Recipient +
		"&" + linePrefixes[3] + content.encode()
}

// Decode parses a line produced by Encode. The content shape is chosen by
// the message type: USER_LIST yields Roster, DETAILS_RESPONSE yields Fields,
// everything else yields Text (or None when empty).
func Decode(line string) (Message, error) {
	parts := strings.Split(line, "&")
	if len(parts) != len(linePrefixes) {
		return Message{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformed, len(linePrefixes), len(parts))
	}
	var values [4]string
	for i, p := range parts {
		v, ok := strings.CutPrefix(p, linePrefixes[i])
		if !ok {
			return Message{}, fmt.Errorf("%w: field %d missing %q prefix", ErrMalformed, i+1, linePrefixes[i])
		}
		values[i] = v
	}

	t, ok := ParseType(values[0])
	if !ok {
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, values[0])
	}

	var content Content
	switch t {
	case TypeUserList:
		content = decodeRoster(values[3])
	case TypeDetailsResponse:
		content = decodeFields(values[3])
	default:
		if values[3] == "" {
			content = None{}
		} else {
			content = Text(values[3])
		}
	}

	return newMessage(t, values[1], values[2], content), nil
}

func decodeFields(s string) Fields {
	fields := Fields{}
	for _, m := range fieldPattern.FindAllStringSubmatch(s, -1) {
		fields = append(fields, Field{Key: m[1], Value: strings.TrimSuffix(m[2], "}")})
	}
	return fields
}

func decodeRoster(s string) Roster {
	roster := Roster{}
	for _, m := range rosterPattern.FindAllStringSubmatch(s, -1) {
		roster = append(roster, Entry{Key: m[1], Fields: decodeFields(m[2])})
	}
	return roster
}

// WriteMessage writes m as one newline-terminated line.
func WriteMessage(w io.Writer, m Message) error {
	if _, err := io.WriteString(w, Encode(m)+"\n"); err != nil {
		return fmt.Errorf("protocol: write: %w", err)
	}
	return nil
}

// Reader reads protocol lines from a stream.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader wraps r. Lines longer than MaxLineLength fail with bufio.ErrTooLong.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxLineLength)
	return &Reader{sc: sc}
}

// ReadLine returns the next line without its terminator. It returns io.EOF
// when the stream ends cleanly.
func (r *Reader) ReadLine() (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}
	if err := r.sc.Err(); err != nil {
		return "", fmt.Errorf("protocol: read: %w", err)
	}
	return "", io.EOF
}

// ReadMessage reads and decodes the next line. Decode failures wrap
// ErrMalformed; transport failures are returned as-is (wrapped).
func (r *Reader) ReadMessage() (Message, error) {
	line, err := r.ReadLine()
	if err != nil {
		return Message{}, err
	}
	return Decode(line)
}
