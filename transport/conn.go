package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luma/pubsub/hub"
	"github.com/luma/pubsub/resp"
)

const (
	WriteQueueSize = 127

	// DrainTimeout bounds how long queued replies are flushed for after a
	// client stops sending.
	DrainTimeout = time.Second
)

type connOptions struct {
	requirePass string
	username    string
	trace       bool
}

// TCPConn is one client of the broker. Replies and pushes are queued and
// written by the write loop, so a publisher never waits on a slow
// subscriber.
type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup
	readDone   chan struct{}

	closeOnce sync.Once
	closeErr  error

	id     string
	conn   net.Conn
	reader *bufio.Reader

	hub     hub.Hub
	metrics *Metrics
	options connOptions

	// only touched by the read loop
	authenticated bool

	writeQueue chan []byte

	log *zap.Logger
}

func NewTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	h hub.Hub,
	metrics *Metrics,
	options connOptions,
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)
	id := uuid.NewString()

	t := &TCPConn{
		ctx:        ctx,
		cancel:     cancel,
		readDone:   make(chan struct{}),
		id:         id,
		conn:       conn,
		reader:     bufio.NewReader(conn),
		hub:        h,
		metrics:    metrics,
		options:    options,
		writeQueue: make(chan []byte, WriteQueueSize),
		log: log.With(
			zap.String("connID", id),
			zap.Stringer("remote", conn.RemoteAddr()),
		),
	}

	// Unblocks the read loop when the server shuts down
	context.AfterFunc(ctx, func() {
		t.Close()
	})

	return t
}

func (t *TCPConn) ID() string {
	return t.id
}

// Close cancels both loops and closes the socket. It is safe to call more
// than once and from any goroutine.
func (t *TCPConn) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()

		err := t.conn.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			t.closeErr = err
		}
	})

	return t.closeErr
}

// Start runs the read and write loops and blocks until both have exited.
func (t *TCPConn) Start() {
	t.metrics.connections.Inc()
	defer t.metrics.connections.Dec()

	t.log.Debug("Client connected")

	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()
		defer close(t.readDone)

		t.ReadLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.WriteLoop()
	}()

	t.loopWaiter.Wait()

	t.hub.Remove(t)

	if err := t.Close(); err != nil {
		t.log.Warn("Connection did not close cleanly", zap.Error(err))
	}

	t.log.Debug("Client disconnected")
}

func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")

	for {
		args, err := resp.ReadRequest(t.reader)
		if err != nil {
			t.rejectRequest(log, err)
			return
		}

		if quit := t.dispatch(log, args); quit {
			log.Debug("Client QUIT, exiting...")
			return
		}
	}
}

// rejectRequest answers a request that could not be decoded. Anything other
// than a decoding problem means the socket is gone and nothing is written.
func (t *TCPConn) rejectRequest(log *zap.Logger, err error) {
	var (
		protoErr  *resp.ProtocolError
		serverErr *resp.ServerError
	)

	var reason string

	switch {
	case errors.Is(err, resp.ErrRequestUnbalanced):
		reason = "unbalanced quotes in request"

	case errors.As(err, &protoErr):
		reason = protoErr.Message

	case errors.As(err, &serverErr):
		reason = "unexpected error reply in request"

	default:
		if t.isRunning() {
			log.Debug("Stopped reading", zap.Error(err))
		}
		return
	}

	log.Warn("Failed to read client request", zap.Error(err))

	if werr := resp.WriteError(t, "ERR Protocol error: "+reason); werr != nil {
		log.Debug("Failed to reject request", zap.Error(werr))
	}
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	for {
		select {
		case <-t.ctx.Done():
			return

		case <-t.readDone:
			t.drain(log)
			return

		case data := <-t.writeQueue:
			if _, err := t.conn.Write(data); err != nil {
				log.Debug("Failed to write from write queue", zap.Error(err))
				t.Close()
				return
			}
		}
	}
}

// drain flushes whatever is still queued, such as the reply to QUIT.
func (t *TCPConn) drain(log *zap.Logger) {
	if err := t.conn.SetWriteDeadline(time.Now().Add(DrainTimeout)); err != nil {
		return
	}

	for {
		select {
		case data := <-t.writeQueue:
			if _, err := t.conn.Write(data); err != nil {
				log.Debug("Failed to drain write queue", zap.Error(err))
				return
			}

		default:
			return
		}
	}
}

// Write queues data for the write loop. It blocks while the queue is full.
func (t *TCPConn) Write(data []byte) (int, error) {
	frame := make([]byte, len(data))
	copy(frame, data)

	select {
	case <-t.ctx.Done():
		return 0, net.ErrClosed

	case t.writeQueue <- frame:
		return len(data), nil
	}
}

// Push queues a push without blocking.
func (t *TCPConn) Push(reply resp.Reply) error {
	if !t.isRunning() {
		return hub.ErrClosed
	}

	select {
	case t.writeQueue <- resp.AppendReply(nil, reply):
		return nil

	default:
		t.metrics.dropped.Inc()
		return hub.ErrSlowSubscriber
	}
}

func (t *TCPConn) dispatch(log *zap.Logger, args []string) (quit bool) {
	name := strings.ToUpper(args[0])
	params := args[1:]

	t.metrics.commands.WithLabelValues(metricLabel(name)).Inc()

	if t.options.trace {
		if resp.Command(name) == resp.AUTH {
			log.Debug("Request", zap.String("command", name), zap.Int("args", len(params)))
		} else {
			log.Debug("Request", zap.String("command", name), zap.Strings("args", params))
		}
	}

	var err error

	switch {
	case t.options.requirePass != "" && !t.authenticated && !noAuthAllowed(name):
		err = resp.WriteError(t, "NOAUTH Authentication required.")

	case t.subscribed() && !subscribedAllowed(name):
		err = resp.WriteError(t, fmt.Sprintf(
			"ERR Can't execute '%s': only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT are allowed in this context",
			strings.ToLower(name),
		))

	default:
		quit, err = t.execute(name, params)
	}

	if err != nil {
		log.Warn("Failed to reply", zap.String("command", name), zap.Error(err))
	}

	return quit
}

func (t *TCPConn) execute(name string, params []string) (quit bool, err error) {
	switch resp.Command(name) {
	case resp.PING:
		return false, t.ping(params)

	case resp.AUTH:
		return false, t.auth(params)

	case resp.PUBLISH:
		return false, t.publish(params)

	case resp.SUBSCRIBE:
		return false, t.subscribe(params)

	case resp.UNSUBSCRIBE:
		return false, t.unsubscribe(params)

	case resp.PSUBSCRIBE:
		return false, t.psubscribe(params)

	case resp.PUNSUBSCRIBE:
		return false, t.punsubscribe(params)

	case resp.QUIT:
		return true, resp.WriteOk(t)

	default:
		return false, resp.WriteError(t, fmt.Sprintf("ERR unknown command '%s'", name))
	}
}

func (t *TCPConn) ping(params []string) error {
	if len(params) > 1 {
		return wrongArgs(t, resp.PING)
	}

	message := ""
	if len(params) == 1 {
		message = params[0]
	}

	if t.subscribed() {
		return resp.WriteArray(t, resp.Bulk("pong"), resp.Bulk(message))
	}

	if len(params) == 1 {
		return resp.WriteBulkString(t, []byte(message))
	}

	return resp.WriteSimpleString(t, "PONG")
}

func (t *TCPConn) auth(params []string) error {
	if len(params) < 1 || len(params) > 2 {
		return wrongArgs(t, resp.AUTH)
	}

	if t.options.requirePass == "" {
		return resp.WriteError(t, "ERR AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?")
	}

	username, password := t.options.username, params[0]
	if len(params) == 2 {
		username, password = params[0], params[1]
	}

	if username != t.options.username || password != t.options.requirePass {
		t.log.Info("Rejected AUTH", zap.String("username", username))
		return resp.WriteError(t, "WRONGPASS invalid username-password pair or user is disabled.")
	}

	t.authenticated = true

	return resp.WriteOk(t)
}

func (t *TCPConn) publish(params []string) error {
	if len(params) != 2 {
		return wrongArgs(t, resp.PUBLISH)
	}

	receivers, err := t.hub.Publish(params[0], []byte(params[1]))
	if errors.Is(err, hub.ErrClosed) {
		return resp.WriteError(t, "ERR server is shutting down")
	}

	if err != nil {
		// Some subscribers missed the message, the rest still got it
		t.log.Warn("Publish was not delivered to every subscriber",
			zap.String("channel", params[0]),
			zap.Error(err))
	}

	t.metrics.published.Inc()

	return resp.WriteInteger(t, int64(receivers))
}

func (t *TCPConn) subscribe(channels []string) error {
	if len(channels) == 0 {
		return wrongArgs(t, resp.SUBSCRIBE)
	}

	for _, channel := range channels {
		count := t.hub.Subscribe(t, channel)

		if err := t.ack(resp.KindSubscribe, channel, count); err != nil {
			return err
		}
	}

	return nil
}

func (t *TCPConn) unsubscribe(channels []string) error {
	if len(channels) == 0 {
		channels = t.hub.Channels(t)
	}

	if len(channels) == 0 {
		return t.ackNone(resp.KindUnsubscribe)
	}

	for _, channel := range channels {
		count := t.hub.Unsubscribe(t, channel)

		if err := t.ack(resp.KindUnsubscribe, channel, count); err != nil {
			return err
		}
	}

	return nil
}

func (t *TCPConn) psubscribe(patterns []string) error {
	if len(patterns) == 0 {
		return wrongArgs(t, resp.PSUBSCRIBE)
	}

	for _, pattern := range patterns {
		count, err := t.hub.PSubscribe(t, pattern)
		if err != nil {
			if werr := resp.WriteError(t, "ERR "+err.Error()); werr != nil {
				return werr
			}
			continue
		}

		if err := t.ack(resp.KindPSubscribe, pattern, count); err != nil {
			return err
		}
	}

	return nil
}

func (t *TCPConn) punsubscribe(patterns []string) error {
	if len(patterns) == 0 {
		patterns = t.hub.Patterns(t)
	}

	if len(patterns) == 0 {
		return t.ackNone(resp.KindPUnsubscribe)
	}

	for _, pattern := range patterns {
		count := t.hub.PUnsubscribe(t, pattern)

		if err := t.ack(resp.KindPUnsubscribe, pattern, count); err != nil {
			return err
		}
	}

	return nil
}

func (t *TCPConn) ack(kind resp.PushKind, name string, count int) error {
	return resp.WriteArray(t, resp.Bulk(string(kind)), resp.Bulk(name), resp.Integer(count))
}

// ackNone acknowledges an unsubscribe from everything when there was
// nothing to unsubscribe from.
func (t *TCPConn) ackNone(kind resp.PushKind) error {
	count := len(t.hub.Channels(t)) + len(t.hub.Patterns(t))
	return resp.WriteArray(t, resp.Bulk(string(kind)), resp.Null{}, resp.Integer(count))
}

func (t *TCPConn) subscribed() bool {
	return len(t.hub.Channels(t)) > 0 || len(t.hub.Patterns(t)) > 0
}

// isRunning returns true if Close has not been called
func (t *TCPConn) isRunning() bool {
	select {
	case <-t.ctx.Done():
		return false

	default:
		return true
	}
}

func wrongArgs(t *TCPConn, command resp.Command) error {
	return resp.WriteError(t, fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(string(command))))
}

func noAuthAllowed(name string) bool {
	switch resp.Command(name) {
	case resp.AUTH, resp.QUIT:
		return true
	}

	return false
}

func subscribedAllowed(name string) bool {
	switch resp.Command(name) {
	case resp.PING, resp.QUIT, resp.SUBSCRIBE, resp.UNSUBSCRIBE, resp.PSUBSCRIBE, resp.PUNSUBSCRIBE:
		return true
	}

	return false
}

// metricLabel keeps the label set bounded, unknown commands share a label.
func metricLabel(name string) string {
	switch resp.Command(name) {
	case resp.AUTH, resp.PING, resp.QUIT, resp.PUBLISH,
		resp.SUBSCRIBE, resp.UNSUBSCRIBE, resp.PSUBSCRIBE, resp.PUNSUBSCRIBE:
		return strings.ToLower(name)
	}

	return "unknown"
}
