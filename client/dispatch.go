package client

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/luma/pubsub/resp"
)

// Handler receives replies drained from the connection. It is called on the
// goroutine that is draining, in the order the replies arrived.
type Handler func(reply resp.Reply)

// TryWait reports whether at least one byte can be read within timeout.
// Nothing is consumed. A timeout of zero polls.
func (c *Conn) TryWait(timeout time.Duration) (bool, error) {
	if c.closed {
		return false, &TransportError{Op: "wait", Err: ErrClosed}
	}

	ready, err := c.poller.wait(timeout)
	if err != nil {
		return false, c.fail("wait", err)
	}

	return ready, nil
}

// TryRecv returns the next reply if one starts arriving within timeout, or
// nil if nothing does.
func (c *Conn) TryRecv(timeout time.Duration) (resp.Reply, error) {
	ready, err := c.TryWait(timeout)
	if err != nil || !ready {
		return nil, err
	}

	return c.Recv()
}

// Recv blocks until one full reply has been read.
func (c *Conn) Recv() (resp.Reply, error) {
	if c.closed {
		return nil, &TransportError{Op: "read", Err: ErrClosed}
	}

	reply, err := resp.ReadReply(c.reader)
	if err != nil {
		var serverErr *resp.ServerError
		if errors.As(err, &serverErr) {
			// A well formed error reply, the stream is still in sync
			return nil, err
		}

		return nil, c.fail("read", err)
	}

	return reply, nil
}

// RecvAll passes every reply that is already available to handler, without
// waiting for more. With messagesOnly set, replies other than message and
// pmessage pushes are read and discarded.
//
// A nil handler discards everything.
func (c *Conn) RecvAll(handler Handler, messagesOnly bool) error {
	for {
		reply, err := c.TryRecv(0)
		if err != nil {
			return err
		}

		if reply == nil {
			return nil
		}

		if messagesOnly && !resp.IsMessage(reply) {
			c.log.Debug("Discarding reply", zap.Stringer("reply", reply))
			continue
		}

		if handler != nil {
			handler(reply)
		}
	}
}

// RecvAllWait dispatches replies to handler as they arrive until d has
// elapsed. It returns at or after the deadline, never before, unless the
// connection fails.
//
// The wait is split up: each round waits for whatever time is left, drains
// everything available and then checks the clock again.
func (c *Conn) RecvAllWait(d time.Duration, handler Handler, messagesOnly bool) error {
	deadline := time.Now().Add(d)

	for now := time.Now(); now.Before(deadline); now = time.Now() {
		ready, err := c.TryWait(deadline.Sub(now))
		if err != nil {
			return err
		}

		if !ready {
			continue
		}

		if err := c.RecvAll(handler, messagesOnly); err != nil {
			return err
		}
	}

	return nil
}
