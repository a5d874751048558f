package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	MaxTextLength  = 256 // bytes per command, filename or status message
	TextHeaderSize = 2
	LengthSize     = 4
	StatusSize     = 1

	MaxPayloadSize int64 = math.MaxInt32
)

// Command is one of the protocol verbs.
type Command uint8

const (
	CommandInvalid Command = iota
	CommandUpload
	CommandDownload
	CommandQuit
)

func (c Command) String() string {
	switch c {
	case CommandUpload:
		return "Upload"
	case CommandDownload:
		return "Download"
	case CommandQuit:
		return "Quit"
	default:
		return "Invalid"
	}
}

// ParseCommand maps any token to exactly one Command. Matching is exact and
// case sensitive; everything else is CommandInvalid.
func ParseCommand(token string) Command {
	switch token {
	case "Upload":
		return CommandUpload
	case "Download":
		return CommandDownload
	case "Quit":
		return CommandQuit
	default:
		return CommandInvalid
	}
}

type StatusCode uint8

const (
	StatusOK    StatusCode = 0x00
	StatusError StatusCode = 0x01
)

// Status is the server's reply to a transfer request.
type Status struct {
	Code    StatusCode
	Message string
}

// Err returns nil for StatusOK and a *RemoteError otherwise.
func (s *Status) Err() error {
	if s.Code == StatusOK {
		return nil
	}
	return &RemoteError{Message: s.Message}
}

// Proto reads and writes the wire units. All integers are big-endian.
//
//	text:    uint16 length | bytes
//	length:  int32
//	status:  uint8 code | text
type Proto struct{}

func NewProto() *Proto {
	return &Proto{}
}

func (p *Proto) WriteText(w io.Writer, text string) error {
	if len(text) > MaxTextLength {
		return newError(KindProtocol, "write text", ErrTextTooLong)
	}

	buf := make([]byte, TextHeaderSize+len(text))
	binary.BigEndian.PutUint16(buf, uint16(len(text)))
	copy(buf[TextHeaderSize:], text)

	if _, err := writeFull(w, buf); err != nil {
		return newError(KindConnection, "write text", err)
	}

	return nil
}

// ReadText returns ErrConnectionClosed when the peer closed before the first
// byte of the frame.
func (p *Proto) ReadText(r io.Reader) (string, error) {
	var hdr [TextHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return "", newError(KindConnection, "read text", ErrConnectionClosed)
		}
		return "", newError(KindConnection, "read text", err)
	}

	n := binary.BigEndian.Uint16(hdr[:])
	if n > MaxTextLength {
		return "", newError(KindProtocol, "read text", fmt.Errorf("%w: %d bytes", ErrTextTooLong, n))
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", newError(KindConnection, "read text", unexpected(err))
	}

	return string(buf), nil
}

func (p *Proto) WriteCommand(w io.Writer, cmd Command) error {
	if cmd == CommandInvalid {
		return newError(KindProtocol, "write command", ErrInvalidCommand)
	}
	return p.WriteText(w, cmd.String())
}

// ReadCommand also returns the raw token so callers can report what was sent.
func (p *Proto) ReadCommand(r io.Reader) (Command, string, error) {
	token, err := p.ReadText(r)
	if err != nil {
		return CommandInvalid, "", err
	}
	return ParseCommand(token), token, nil
}

func (p *Proto) WriteFilename(w io.Writer, name string) error {
	if name == "" {
		return newError(KindProtocol, "write filename", ErrEmptyFilename)
	}
	return p.WriteText(w, name)
}

func (p *Proto) ReadFilename(r io.Reader) (string, error) {
	name, err := p.ReadText(r)
	if err != nil {
		return "", err
	}

	if name == "" {
		return "", newError(KindProtocol, "read filename", ErrEmptyFilename)
	}

	return name, nil
}

func (p *Proto) WriteLength(w io.Writer, n int64) error {
	if n < 0 || n > MaxPayloadSize {
		return newError(KindProtocol, "write length", fmt.Errorf("%w: %d", ErrInvalidLength, n))
	}

	var buf [LengthSize]byte
	binary.BigEndian.PutUint32(buf[:], uint32(int32(n)))

	if _, err := writeFull(w, buf[:]); err != nil {
		return newError(KindConnection, "write length", err)
	}

	return nil
}

func (p *Proto) ReadLength(r io.Reader) (int64, error) {
	var buf [LengthSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, newError(KindConnection, "read length", unexpected(err))
	}

	n := int32(binary.BigEndian.Uint32(buf[:]))
	if n < 0 {
		return 0, newError(KindProtocol, "read length", fmt.Errorf("%w: %d", ErrInvalidLength, n))
	}

	return int64(n), nil
}

// WriteStatus truncates messages longer than MaxTextLength.
func (p *Proto) WriteStatus(w io.Writer, status *Status) error {
	msg := status.Message
	if len(msg) > MaxTextLength {
		msg = msg[:MaxTextLength]
	}

	buf := make([]byte, StatusSize+TextHeaderSize+len(msg))
	buf[0] = byte(status.Code)
	binary.BigEndian.PutUint16(buf[StatusSize:], uint16(len(msg)))
	copy(buf[StatusSize+TextHeaderSize:], msg)

	if _, err := writeFull(w, buf); err != nil {
		return newError(KindConnection, "write status", err)
	}

	return nil
}

func (p *Proto) ReadStatus(r io.Reader) (*Status, error) {
	var code [StatusSize]byte
	if _, err := io.ReadFull(r, code[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, newError(KindConnection, "read status", ErrConnectionClosed)
		}
		return nil, newError(KindConnection, "read status", err)
	}

	switch StatusCode(code[0]) {
	case StatusOK, StatusError:
	default:
		return nil, newError(KindProtocol, "read status", fmt.Errorf("%w: 0x%02x", ErrInvalidStatus, code[0]))
	}

	msg, err := p.ReadText(r)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && errors.Is(e.Err, ErrConnectionClosed) {
			return nil, newError(KindConnection, "read status", io.ErrUnexpectedEOF)
		}
		return nil, err
	}

	return &Status{Code: StatusCode(code[0]), Message: msg}, nil
}

func (p *Proto) WriteError(w io.Writer, format string, args ...any) error {
	return p.WriteStatus(w, &Status{Code: StatusError, Message: fmt.Sprintf(format, args...)})
}

// writeFull retries short writes until b is written or the writer fails.
func writeFull(w io.Writer, b []byte) (int, error) {
	var written int
	for written < len(b) {
		n, err := w.Write(b[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// unexpected turns an EOF in the middle of a frame into io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
