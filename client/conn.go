package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/luma/pubsub/resp"
)

// Conn is a single connection to a Redis compatible server, used for
// publishing and for consuming subscription pushes.
//
// Conn keeps no session state of its own. In particular it does not track
// which channels or patterns are subscribed, that is up to the caller.
//
// A Conn is not safe for concurrent use. Callers that share one between
// goroutines must serialise every call.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	poller poller

	closed bool

	log *zap.Logger
}

// Dial connects to the server described by options, over TLS when any of
// the TLS files are set.
func Dial(ctx context.Context, options Options) (*Conn, error) {
	options = options.withDefaults()

	addr := net.JoinHostPort(options.Host, strconv.Itoa(options.Port))
	log := options.Log.With(zap.String("addr", addr))

	tlsConfig, err := options.TLSConfig()
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: options.DialTimeout}

	var conn net.Conn
	if tlsConfig != nil {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}

	if err != nil {
		return nil, &TransportError{
			Op:  "dial",
			Err: fmt.Errorf("Error connecting to %s: %w", addr, err),
		}
	}

	log.Debug("Connected", zap.Bool("tls", tlsConfig != nil))

	return NewConn(conn, log), nil
}

// NewConn wraps an already established stream. The Conn takes ownership of
// conn and closes it on Close.
func NewConn(conn net.Conn, log *zap.Logger) *Conn {
	if log == nil {
		log = zap.NewNop()
	}

	reader := bufio.NewReader(conn)

	return &Conn{
		conn:   conn,
		reader: reader,
		poller: poller{conn: conn, reader: reader},
		log:    log.Named("conn"),
	}
}

// Close releases the underlying stream. Closing an already closed Conn is
// a no-op.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}

	c.closed = true
	return c.conn.Close()
}

// Command sends a command and waits for exactly one reply.
func (c *Conn) Command(name string, args ...string) (resp.Reply, error) {
	if err := c.Send(name, args...); err != nil {
		return nil, err
	}

	return c.Recv()
}

// Send writes a command without reading a reply. It is used for commands
// whose acknowledgement arrives as a subscription push.
func (c *Conn) Send(name string, args ...string) error {
	if c.closed {
		return &TransportError{Op: "write", Err: ErrClosed}
	}

	if ce := c.log.Check(zap.DebugLevel, "Sending command"); ce != nil {
		ce.Write(commandFields(name, args)...)
	}

	if err := resp.WriteCommand(c.conn, name, args...); err != nil {
		return c.fail("write", err)
	}

	return nil
}

// Auth authenticates with a password.
func (c *Conn) Auth(password string) error {
	return c.auth(password)
}

// AuthUser authenticates as an ACL user.
func (c *Conn) AuthUser(username, password string) error {
	return c.auth(username, password)
}

func (c *Conn) auth(credentials ...string) error {
	reply, err := c.Command(string(resp.AUTH), credentials...)
	if err != nil {
		var serverErr *resp.ServerError
		if errors.As(err, &serverErr) {
			return &AuthError{Reply: serverErr.Message, Err: serverErr}
		}

		return err
	}

	if ok, isSimple := reply.(resp.SimpleString); isSimple && strings.TrimSpace(string(ok)) == "OK" {
		return nil
	}

	return &AuthError{Reply: reply.String()}
}

// Publish sends message to channel and returns the number of subscribers
// that received it.
//
// The message is wrapped in double quotes so it reaches the server as one
// argument even when it contains spaces. It is not otherwise escaped.
func (c *Conn) Publish(channel, message string) (int64, error) {
	reply, err := c.Command(string(resp.PUBLISH), channel, `"`+message+`"`)
	if err != nil {
		return 0, err
	}

	count, ok := reply.(resp.Integer)
	if !ok {
		return 0, &resp.ProtocolError{
			Message: fmt.Sprintf("PUBLISH answered with %T", reply),
			Err:     resp.ErrUnexpectedReply,
		}
	}

	return int64(count), nil
}

// Ping sends PING, with an optional message to echo.
func (c *Conn) Ping(message ...string) (resp.Reply, error) {
	return c.Command(string(resp.PING), message...)
}

// Subscribe subscribes to one or more channels. The server's
// acknowledgements arrive later as pushes.
func (c *Conn) Subscribe(channels ...string) error {
	if len(channels) == 0 {
		return ErrNoChannels
	}

	return c.Send(string(resp.SUBSCRIBE), channels...)
}

// Unsubscribe unsubscribes from channels, or from every channel when none
// are given.
func (c *Conn) Unsubscribe(channels ...string) error {
	return c.Send(string(resp.UNSUBSCRIBE), channels...)
}

// PSubscribe subscribes to a glob style channel pattern.
func (c *Conn) PSubscribe(pattern string) error {
	return c.Send(string(resp.PSUBSCRIBE), pattern)
}

// PUnsubscribe unsubscribes from a pattern given to PSubscribe.
func (c *Conn) PUnsubscribe(pattern string) error {
	return c.Send(string(resp.PUNSUBSCRIBE), pattern)
}

// fail invalidates the connection after a failure of the stream itself.
func (c *Conn) fail(op string, err error) error {
	c.log.Warn("Connection failed, closing", zap.String("op", op), zap.Error(err))

	if cerr := c.Close(); cerr != nil {
		c.log.Debug("Failed to close connection cleanly", zap.Error(cerr))
	}

	var protoErr *resp.ProtocolError
	if errors.As(err, &protoErr) {
		return err
	}

	return &TransportError{Op: op, Err: err}
}

func commandFields(name string, args []string) []zap.Field {
	fields := []zap.Field{zap.String("command", strings.ToUpper(name))}

	if strings.EqualFold(name, string(resp.AUTH)) {
		// Never log credentials
		return append(fields, zap.Int("args", len(args)))
	}

	return append(fields, zap.Strings("args", args))
}
