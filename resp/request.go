package resp

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
)

// MaxInlineSize bounds an inline request line, and each header line of a
// multi-bulk request.
const MaxInlineSize = 64 * 1024

// ReadRequest reads one client request and returns its words, the command
// name first.
//
// Both inline requests (`PUBLISH news "hello world"\r\n`) and multi-bulk
// requests (an Array of BulkStrings) are accepted. Blank inline lines are
// skipped.
func ReadRequest(r *bufio.Reader) ([]string, error) {
	for {
		first, err := r.Peek(1)
		if err != nil {
			return nil, err
		}

		if first[0] == PrefixArray {
			return readMultiBulk(r)
		}

		line, err := readRawLine(r, MaxInlineSize)
		if err != nil {
			var protoErr *ProtocolError
			if errors.As(err, &protoErr) && errors.Is(err, ErrLineTooLong) {
				protoErr.Message = "too big inline request"
			}

			return nil, err
		}

		args, err := SplitArgs(string(RemoveTrailingCR(line[:len(line)-1])))
		if err != nil {
			return nil, err
		}

		if len(args) > 0 {
			return args, nil
		}
	}
}

func readMultiBulk(r *bufio.Reader) ([]string, error) {
	reply, err := readReplyWithin(r, MaxInlineSize)
	if err != nil {
		return nil, err
	}

	array, ok := reply.(Array)
	if !ok || len(array) == 0 {
		return nil, &ProtocolError{Message: "multi-bulk request", Err: ErrRequestEmpty}
	}

	args := make([]string, len(array))
	for i, el := range array {
		bulk, ok := el.(BulkString)
		if !ok {
			return nil, &ProtocolError{
				Message: fmt.Sprintf("element %d is %T", i, el),
				Err:     ErrRequestNotCommands,
			}
		}
		args[i] = string(bulk)
	}

	return args, nil
}

// SplitArgs splits an inline request into words. Words are separated by
// spaces or tabs. Double quoted words may contain spaces and the escapes
// \n \r \t \b \a \\ \" and \xHH; single quoted words only understand \'.
// A closing quote must be followed by whitespace or the end of the line.
func SplitArgs(line string) ([]string, error) {
	var args []string

	i := 0
	for {
		for i < len(line) && isSpace(line[i]) {
			i++
		}

		if i == len(line) {
			return args, nil
		}

		var (
			word []byte
			err  error
		)

		switch line[i] {
		case '"':
			word, i, err = splitDoubleQuoted(line, i+1)
		case '\'':
			word, i, err = splitSingleQuoted(line, i+1)
		default:
			start := i
			for i < len(line) && !isSpace(line[i]) {
				i++
			}
			word = []byte(line[start:i])
		}

		if err != nil {
			return nil, err
		}

		args = append(args, string(word))
	}
}

func splitDoubleQuoted(line string, i int) ([]byte, int, error) {
	var word []byte

	for i < len(line) {
		c := line[i]

		switch {
		case c == '\\' && i+3 < len(line) && line[i+1] == 'x' && isHex(line[i+2]) && isHex(line[i+3]):
			b, _ := strconv.ParseUint(line[i+2:i+4], 16, 8)
			word = append(word, byte(b))
			i += 4

		case c == '\\' && i+1 < len(line):
			word = append(word, unescape(line[i+1]))
			i += 2

		case c == '"':
			i++
			if i < len(line) && !isSpace(line[i]) {
				return nil, 0, fmt.Errorf("Failed to parse '%s': %w", line, ErrRequestUnbalanced)
			}
			return word, i, nil

		default:
			word = append(word, c)
			i++
		}
	}

	return nil, 0, fmt.Errorf("Failed to parse '%s': %w", line, ErrRequestUnbalanced)
}

func splitSingleQuoted(line string, i int) ([]byte, int, error) {
	var word []byte

	for i < len(line) {
		c := line[i]

		switch {
		case c == '\\' && i+1 < len(line) && line[i+1] == '\'':
			word = append(word, '\'')
			i += 2

		case c == '\'':
			i++
			if i < len(line) && !isSpace(line[i]) {
				return nil, 0, fmt.Errorf("Failed to parse '%s': %w", line, ErrRequestUnbalanced)
			}
			return word, i, nil

		default:
			word = append(word, c)
			i++
		}
	}

	return nil, 0, fmt.Errorf("Failed to parse '%s': %w", line, ErrRequestUnbalanced)
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'a':
		return '\a'
	default:
		return c
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
