package client

import (
	"bufio"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// PollInterval is the shortest time a readiness check waits for. A read
// deadline that has already passed fails before the socket is even looked
// at, so a zero timeout is rounded up to this.
const PollInterval = time.Millisecond

// poller answers "is there at least one byte to read" without consuming it.
type poller struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (p *poller) wait(timeout time.Duration) (bool, error) {
	if p.reader.Buffered() > 0 {
		return true, nil
	}

	if timeout < PollInterval {
		timeout = PollInterval
	}

	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}

	_, err := p.reader.Peek(1)

	// Always leave the stream without a deadline, blocking reads rely on it
	if derr := p.conn.SetReadDeadline(time.Time{}); derr != nil && err == nil {
		return false, derr
	}

	switch {
	case err == nil:
		return true, nil

	case isTimeout(err):
		return false, nil

	case errors.Is(err, io.EOF):
		// The peer hung up. That counts as readable, the next read will
		// report the closed stream.
		return true, nil

	default:
		return false, err
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
