package resp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	maxPrealloc = 1024

	// MaxBulkLength is the largest bulk string accepted, the same as the
	// default proto-max-bulk-len of Redis.
	MaxBulkLength = 512 * 1024 * 1024

	// MaxLineLength bounds a single reply line, including its terminator.
	MaxLineLength = MaxBulkLength

	// bulkPrealloc is the most memory reserved for a bulk string before its
	// bytes actually arrive.
	bulkPrealloc = 64 * 1024
)

const (
	PrefixArray        = '*'
	PrefixSimpleString = '+'
	PrefixError        = '-'
	PrefixInteger      = ':'
	PrefixBulkString   = '$'
)

// ReadReply reads exactly one reply from r, recursing into arrays.
//
// io.EOF is returned unwrapped when the stream ends before the first byte of
// a reply. A stream that ends part way through a reply is a *ProtocolError.
// Any other error from r is returned as is.
func ReadReply(r *bufio.Reader) (Reply, error) {
	return readReplyWithin(r, MaxLineLength)
}

// readReplyWithin reads one reply whose lines are at most maxLine bytes.
func readReplyWithin(r *bufio.Reader, maxLine int) (Reply, error) {
	line, err := readLine(r, maxLine)
	if err != nil {
		return nil, err
	}

	return readReply(r, line, maxLine)
}

func readReply(r *bufio.Reader, line []byte, maxLine int) (Reply, error) {
	if len(line) == 0 {
		return nil, &ProtocolError{Message: "empty reply line", Err: ErrUnknownReplyType}
	}

	body := line[1:]

	switch line[0] {
	case PrefixArray:
		count, err := parseLength(body)
		if err != nil {
			return nil, err
		}

		if count < 0 {
			return Null{}, nil
		}

		// The count comes off the wire, don't trust it for the allocation
		array := make(Array, 0, minInt64(count, maxPrealloc))

		// An error element still has to be followed by the rest of the array,
		// otherwise the stream is left part way through a reply.
		var serverErr *ServerError

		for i := int64(0); i < count; i++ {
			el, err := readElement(r, maxLine)
			if err != nil {
				if se, ok := err.(*ServerError); ok {
					if serverErr == nil {
						serverErr = se
					}
					continue
				}

				return nil, err
			}
			array = append(array, el)
		}

		if serverErr != nil {
			return nil, serverErr
		}

		return array, nil

	case PrefixSimpleString:
		return SimpleString(body), nil

	case PrefixError:
		return nil, &ServerError{Message: string(body)}

	case PrefixInteger:
		i, err := strconv.ParseInt(string(body), 10, 64)
		if err != nil {
			return nil, &ProtocolError{
				Message: fmt.Sprintf("failed to parse '%s'", string(body)),
				Err:     ErrMalformedInteger,
			}
		}

		return Integer(i), nil

	case PrefixBulkString:
		length, err := parseLength(body)
		if err != nil {
			return nil, err
		}

		if length == -1 {
			return Null{}, nil
		}

		if length < 0 {
			return nil, &ProtocolError{
				Message: fmt.Sprintf("negative bulk length %d", length),
				Err:     ErrMalformedLength,
			}
		}

		if length > MaxBulkLength {
			return nil, &ProtocolError{
				Message: fmt.Sprintf("bulk length %d exceeds %d", length, MaxBulkLength),
				Err:     ErrMalformedLength,
			}
		}

		// Grow with the bytes that actually arrive, not with the claimed length
		var data bytes.Buffer
		data.Grow(int(minInt64(length, bulkPrealloc)))

		if _, err := io.CopyN(&data, r, length); err != nil {
			return nil, shortRead(err)
		}

		terminal := make([]byte, len(Terminal))
		if _, err := io.ReadFull(r, terminal); err != nil {
			return nil, shortRead(err)
		}

		if !bytes.Equal(terminal, Terminal) {
			return nil, &ProtocolError{Message: "bulk string", Err: ErrMissingTerminal}
		}

		return BulkString(data.Bytes()), nil

	default:
		return nil, &ProtocolError{
			Message: fmt.Sprintf("unknown reply type '%c': %s", line[0], string(body)),
			Err:     ErrUnknownReplyType,
		}
	}
}

// readElement reads a nested reply. Hitting EOF here is always a short read
// as the enclosing array promised more.
func readElement(r *bufio.Reader, maxLine int) (Reply, error) {
	line, err := readLine(r, maxLine)
	if err != nil {
		return nil, shortRead(err)
	}

	return readReply(r, line, maxLine)
}

// readLine reads one \r\n terminated line and strips the terminator.
func readLine(r *bufio.Reader, maxLine int) ([]byte, error) {
	line, err := readRawLine(r, maxLine)
	if err != nil {
		return nil, err
	}

	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, &ProtocolError{
			Message: fmt.Sprintf("failed to parse '%s'", string(RemoveTrailingCR(line[:len(line)-1]))),
			Err:     ErrMissingTerminal,
		}
	}

	return line[:len(line)-2], nil
}

// readRawLine reads up to and including the next \n, failing once more than
// max bytes have been read without finding one.
func readRawLine(r *bufio.Reader, max int) ([]byte, error) {
	var line []byte

	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > max {
			return nil, &ProtocolError{
				Message: fmt.Sprintf("line exceeds %d bytes", max),
				Err:     ErrLineTooLong,
			}
		}

		line = append(line, chunk...)

		switch {
		case err == nil:
			return line, nil

		case errors.Is(err, bufio.ErrBufferFull):
			continue

		case errors.Is(err, io.EOF) && len(line) > 0:
			return nil, shortRead(io.ErrUnexpectedEOF)

		default:
			return nil, err
		}
	}
}

func parseLength(body []byte) (int64, error) {
	n, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, &ProtocolError{
			Message: fmt.Sprintf("failed to parse '%s'", string(body)),
			Err:     ErrMalformedLength,
		}
	}

	return n, nil
}

func shortRead(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &ProtocolError{Message: io.ErrUnexpectedEOF.Error(), Err: ErrShortRead}
	}

	return err
}

// RemoveTrailingCR strips an optional trailing \r.
func RemoveTrailingCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}

	return data
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}

	return b
}
