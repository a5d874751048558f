package core

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrConnectionClosed = fmt.Errorf("connection closed: %w", io.EOF)
	ErrTruncated        = errors.New("peer closed before declared length reached")
	ErrSourceShort      = errors.New("source ended before declared length reached")
	ErrInvalidCommand   = errors.New("invalid command")
	ErrEmptyFilename    = errors.New("filename cannot be empty")
	ErrTextTooLong      = errors.New("text frame exceeds maximum length")
	ErrInvalidLength    = errors.New("invalid length field")
	ErrInvalidStatus    = errors.New("invalid status code")
	ErrDigestMismatch   = errors.New("digest mismatch")
)

// ErrorKind groups errors by how a session reacts to them.
type ErrorKind int

const (
	// KindConnection covers accept, dial, read and write failures on the socket.
	KindConnection ErrorKind = iota

	// KindProtocol covers frames that do not follow the wire format.
	KindProtocol

	// KindFilesystem covers failures opening, reading or writing local files.
	KindFilesystem

	// KindTruncation means fewer bytes moved than were declared.
	KindTruncation
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindProtocol:
		return "protocol error"
	case KindFilesystem:
		return "filesystem error"
	case KindTruncation:
		return "truncation"
	default:
		return "unknown error"
	}
}

// Error is the error type returned by the codec, the engine and both sessions.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// RemoteError is a failure reported by the server in a status frame.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "server: " + e.Message
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsConnection(err error) bool {
	return isKind(err, KindConnection)
}

func IsProtocol(err error) bool {
	return isKind(err, KindProtocol)
}

func IsFilesystem(err error) bool {
	return isKind(err, KindFilesystem)
}

func IsTruncation(err error) bool {
	return isKind(err, KindTruncation)
}
