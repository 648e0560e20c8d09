package client

import (
	"errors"
)

var (
	ErrClosed         = errors.New("Connection is closed")
	ErrNoChannels     = errors.New("At least one channel is required")
	ErrKeyWithoutCert = errors.New("A client key was given without a client certificate")
	ErrNoCACerts      = errors.New("No CA certificates could be parsed")
)

// TransportError is a failure of the underlying byte stream. The Conn that
// returned it can no longer be used.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError is returned when AUTH is answered with anything but OK. Err is
// set when the server answered with an error reply.
type AuthError struct {
	Reply string
	Err   error
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reply
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
