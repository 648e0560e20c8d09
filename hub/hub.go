package hub

import (
	"errors"

	"github.com/luma/pubsub/resp"
)

var (
	ErrClosed         = errors.New("Hub is closed")
	ErrSlowSubscriber = errors.New("Subscriber is not keeping up, push dropped")
)

// Subscriber is anything pushes can be delivered to, normally a client
// connection.
type Subscriber interface {
	ID() string

	// Push must not block. It returns ErrSlowSubscriber when the push could
	// not be queued.
	Push(reply resp.Reply) error
}

// Hub tracks which subscribers listen to which channels and patterns, and
// fans published messages out to them.
//
// The counts returned by the subscribe and unsubscribe methods are the
// subscriber's total number of channel and pattern subscriptions afterwards,
// as reported in subscribe acknowledgements.
type Hub interface {
	Subscribe(sub Subscriber, channel string) int
	Unsubscribe(sub Subscriber, channel string) int
	// PSubscribe takes a Redis style glob: * ? [abc] [^abc] [a-z] and \
	// escapes. Braces and commas match themselves.
	PSubscribe(sub Subscriber, pattern string) (int, error)
	PUnsubscribe(sub Subscriber, pattern string) int

	Channels(sub Subscriber) []string
	Patterns(sub Subscriber) []string

	// Publish returns how many pushes were queued.
	Publish(channel string, payload []byte) (int, error)

	Remove(sub Subscriber)

	Stats() ([]byte, error)

	Close() error
}
