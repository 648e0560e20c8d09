package resp

import (
	"io"
	"strconv"
	"strings"
)

var (
	OkTerminal = []byte("+OK\r\n")
	Terminal   = []byte("\r\n")
)

// EncodeCommand renders an inline command: the uppercased name followed by
// each argument, single space separated, terminated by \r\n.
//
// Arguments are neither length prefixed nor escaped.
func EncodeCommand(name string, args ...string) []byte {
	n := len(name) + len(Terminal)
	for _, arg := range args {
		n += len(arg) + 1
	}

	b := make([]byte, 0, n)
	b = append(b, strings.ToUpper(name)...)
	for _, arg := range args {
		b = append(b, ' ')
		b = append(b, arg...)
	}

	return append(b, Terminal...)
}

func WriteCommand(w io.Writer, name string, args ...string) error {
	_, err := w.Write(EncodeCommand(name, args...))
	return err
}

func WriteOk(w io.Writer) error {
	_, err := w.Write(OkTerminal)
	return err
}

func WriteSimpleString(w io.Writer, s string) error {
	return write(w, SimpleString(s))
}

func WriteError(w io.Writer, errMsg string) error {
	b := make([]byte, 0, len(errMsg)+3)
	b = append(b, PrefixError)
	b = append(b, errMsg...)
	b = append(b, Terminal...)

	_, err := w.Write(b)
	return err
}

func WriteInteger(w io.Writer, i int64) error {
	return write(w, Integer(i))
}

func WriteBulkString(w io.Writer, data []byte) error {
	return write(w, BulkString(data))
}

func WriteNull(w io.Writer) error {
	return write(w, Null{})
}

func WriteArray(w io.Writer, replies ...Reply) error {
	return write(w, Array(replies))
}

func write(w io.Writer, r Reply) error {
	_, err := w.Write(AppendReply(nil, r))
	return err
}

// AppendReply appends the wire form of r to dst.
func AppendReply(dst []byte, r Reply) []byte {
	switch v := r.(type) {
	case SimpleString:
		dst = append(dst, PrefixSimpleString)
		dst = append(dst, v...)

	case Integer:
		dst = append(dst, PrefixInteger)
		dst = strconv.AppendInt(dst, int64(v), 10)

	case BulkString:
		dst = append(dst, PrefixBulkString)
		dst = strconv.AppendInt(dst, int64(len(v)), 10)
		dst = append(dst, Terminal...)
		dst = append(dst, v...)

	case Null:
		dst = append(dst, PrefixBulkString, '-', '1')

	case Array:
		dst = append(dst, PrefixArray)
		dst = strconv.AppendInt(dst, int64(len(v)), 10)
		dst = append(dst, Terminal...)
		for _, el := range v {
			dst = AppendReply(dst, el)
		}

		// Elements carry their own terminators
		return dst
	}

	return append(dst, Terminal...)
}

// Bulk is a shorthand for building pushes out of strings.
func Bulk(s string) BulkString {
	return BulkString(s)
}
