package resp

import (
	"strconv"
	"strings"
)

// Reply is one decoded protocol value. The set of implementations is closed:
// SimpleString, Integer, BulkString, Null and Array.
type Reply interface {
	String() string

	reply()
}

type SimpleString string

type Integer int64

type BulkString []byte

// Null is the absent bulk string, `$-1`.
type Null struct{}

type Array []Reply

func (SimpleString) reply() {}
func (Integer) reply()      {}
func (BulkString) reply()   {}
func (Null) reply()         {}
func (Array) reply()        {}

func (s SimpleString) String() string { return string(s) }
func (i Integer) String() string      { return strconv.FormatInt(int64(i), 10) }
func (b BulkString) String() string   { return string(b) }
func (Null) String() string           { return "(nil)" }

func (a Array) String() string {
	parts := make([]string, len(a))
	for i, r := range a {
		parts[i] = r.String()
	}

	return "[" + strings.Join(parts, " ") + "]"
}

var _ Reply = SimpleString("")
var _ Reply = Integer(0)
var _ Reply = BulkString(nil)
var _ Reply = Null{}
var _ Reply = Array(nil)

// Text returns the textual content of a SimpleString or BulkString.
func Text(r Reply) (string, bool) {
	switch v := r.(type) {
	case SimpleString:
		return string(v), true
	case BulkString:
		return string(v), true
	default:
		return "", false
	}
}

// Kind returns the push kind of r, which is the text of the first element
// when r is an Array.
func Kind(r Reply) (PushKind, bool) {
	a, ok := r.(Array)
	if !ok || len(a) == 0 {
		return "", false
	}

	text, ok := Text(a[0])
	if !ok {
		return "", false
	}

	return PushKind(text), true
}

// IsMessage reports whether r is a `message` or `pmessage` push.
func IsMessage(r Reply) bool {
	kind, ok := Kind(r)
	return ok && (kind == KindMessage || kind == KindPMessage)
}

// Message is a published payload delivered through a subscription.
type Message struct {
	Kind PushKind

	// Pattern is only set for pmessage pushes.
	Pattern string

	Channel string
	Payload []byte
}

// ParseMessage converts a `message` or `pmessage` push into a Message.
//
//   message:  [message, <channel>, <payload>]
//   pmessage: [pmessage, <pattern>, <channel>, <payload>]
func ParseMessage(r Reply) (*Message, bool) {
	kind, ok := Kind(r)
	if !ok {
		return nil, false
	}

	a := r.(Array)

	var fields []string
	switch {
	case kind == KindMessage && len(a) == 3:
		fields = make([]string, 0, 3)
	case kind == KindPMessage && len(a) == 4:
		fields = make([]string, 0, 4)
	default:
		return nil, false
	}

	for _, el := range a[1:] {
		text, ok := Text(el)
		if !ok {
			return nil, false
		}
		fields = append(fields, text)
	}

	msg := &Message{Kind: kind}
	if kind == KindPMessage {
		msg.Pattern, fields = fields[0], fields[1:]
	}
	msg.Channel = fields[0]
	msg.Payload = []byte(fields[1])

	return msg, true
}
