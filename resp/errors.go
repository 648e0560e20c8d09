package resp

import (
	"errors"
)

var (
	ErrUnknownReplyType = errors.New("Unknown reply type")
	ErrMalformedLength  = errors.New("Reply length or count is malformed")
	ErrMalformedInteger = errors.New("Integer reply is malformed")
	ErrMissingTerminal  = errors.New("Reply is missing its \\r\\n terminator")
	ErrShortRead        = errors.New("Stream ended before a full reply was read")
	ErrLineTooLong      = errors.New("Line is too long")
	ErrUnexpectedReply  = errors.New("Reply has an unexpected type")

	ErrRequestEmpty       = errors.New("Request is empty")
	ErrRequestUnbalanced  = errors.New("Request has unbalanced quotes")
	ErrRequestNotCommands = errors.New("Multi-bulk request must only contain bulk strings")
)

// ProtocolError means the byte stream could not be decoded. The stream is
// desynchronised once this happens and the connection must be discarded.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "protocol error: " + e.Message + ": " + e.Err.Error()
	}

	return "protocol error: " + e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ServerError is a well formed `-` reply. The connection remains usable.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// Prefix returns the first word of the message, e.g. ERR or WRONGPASS.
func (e *ServerError) Prefix() string {
	for i := 0; i < len(e.Message); i++ {
		if e.Message[i] == ' ' {
			return e.Message[:i]
		}
	}

	return e.Message
}
