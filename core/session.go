package core

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/Dyastin-0/gostash/logger"
	"github.com/Dyastin-0/gostash/store"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

type State uint32

const (
	StateAwaitCommand State = iota
	StateAwaitFilename
	StateTransferring
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitCommand:
		return "await command"
	case StateAwaitFilename:
		return "await filename"
	case StateTransferring:
		return "transferring"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session serves one accepted connection: it reads a command, then a
// filename, runs the matching transfer and loops until Quit, an invalid
// command or a fatal I/O error.
type Session struct {
	id     string
	conn   net.Conn
	store  *store.Store
	proto  *Proto
	engine *Engine
	log    logger.Logger
	idle   time.Duration
	state  atomic.Uint32
}

func NewSession(conn net.Conn, st *store.Store, engine *Engine, log logger.Logger) *Session {
	id := uuid.New().String()

	return &Session{
		id:     id,
		conn:   conn,
		store:  st,
		proto:  NewProto(),
		engine: engine,
		log: log.
			WithStr("session", id).
			WithStr("remote", conn.RemoteAddr().String()),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	s.state.Store(uint32(state))
}

// Run drives the session until it is closed. A nil error means the peer quit
// or disconnected between commands.
func (s *Session) Run() error {
	defer s.Close()

	s.log.Info("session opened")

	for {
		s.setState(StateAwaitCommand)

		if s.idle > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.idle))
		}

		cmd, token, err := s.proto.ReadCommand(s.conn)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				s.log.Info("peer disconnected")
				return nil
			}
			return err
		}

		if s.idle > 0 {
			s.conn.SetReadDeadline(time.Time{})
		}

		switch cmd {
		case CommandQuit:
			s.log.Info("peer quit")
			return nil

		case CommandInvalid:
			s.log.WithStr("token", token).Warn("invalid command")
			s.proto.WriteError(s.conn, "invalid command: %q", token)
			return newError(KindProtocol, "read command", fmt.Errorf("%w: %q", ErrInvalidCommand, token))
		}

		s.setState(StateAwaitFilename)

		// An empty name still has to go through the transfer so the
		// store can reject it and an upload payload gets drained.
		name, err := s.proto.ReadFilename(s.conn)
		if err != nil && !errors.Is(err, ErrEmptyFilename) {
			return err
		}

		s.setState(StateTransferring)

		switch cmd {
		case CommandUpload:
			err = s.upload(name)
		case CommandDownload:
			err = s.download(name)
		}

		if err != nil {
			return err
		}
	}
}

func (s *Session) Close() error {
	s.setState(StateClosed)
	return s.conn.Close()
}

func (s *Session) upload(name string) error {
	log := s.log.WithStr("command", CommandUpload.String()).WithStr("file", name)

	declared, err := s.proto.ReadLength(s.conn)
	if err != nil {
		return err
	}

	w, err := s.store.Create(name)
	if err != nil {
		log.WithErr(err).Warn("unable to open file for receiving")

		if _, err := s.engine.Discard(s.conn, declared); err != nil {
			return err
		}

		return s.proto.WriteError(s.conn, "unable to store %q: %s", name, reason(err))
	}

	hasher := blake3.New()

	n, err := s.engine.In(io.MultiWriter(w, hasher), s.conn, declared)
	if err != nil {
		w.Abort()

		if !IsFilesystem(err) {
			log.WithInt64("bytes", n).WithInt64("declared", declared).WithErr(err).Error("upload aborted")
			return err
		}

		log.WithErr(err).Error("failed to write file")
		return s.proto.WriteError(s.conn, "failed to write %q", name)
	}

	if err := w.Close(); err != nil {
		log.WithErr(err).Error("failed to close file")
		return s.proto.WriteError(s.conn, "failed to write %q", name)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))

	log.WithInt64("bytes", n).WithStr("digest", digest).Info("file received")

	return s.proto.WriteStatus(s.conn, &Status{Code: StatusOK, Message: digest})
}

func (s *Session) download(name string) error {
	log := s.log.WithStr("command", CommandDownload.String()).WithStr("file", name)

	r, err := s.store.Open(name)
	if err != nil {
		log.WithErr(err).Warn("unable to open file for sending")
		return s.proto.WriteError(s.conn, "unable to open %q: %s", name, reason(err))
	}
	defer r.Close()

	declared := r.Size()
	if declared > MaxPayloadSize {
		log.WithInt64("size", declared).Warn("file too large")
		return s.proto.WriteError(s.conn, "%q is too large: %d bytes", name, declared)
	}

	if err := s.proto.WriteStatus(s.conn, &Status{Code: StatusOK}); err != nil {
		return err
	}

	if err := s.proto.WriteLength(s.conn, declared); err != nil {
		return err
	}

	n, err := s.engine.Out(s.conn, r, declared)
	if err != nil {
		log.WithInt64("bytes", n).WithInt64("declared", declared).WithErr(err).Error("download aborted")
		return err
	}

	log.WithInt64("bytes", n).Info("file sent")

	return nil
}

// reason keeps server paths out of messages sent to the peer.
func reason(err error) string {
	switch {
	case errors.Is(err, store.ErrEmptyName):
		return "filename cannot be empty"
	case errors.Is(err, store.ErrOutsideRoot):
		return "filename escapes storage root"
	case errors.Is(err, store.ErrNotRegular):
		return "not a regular file"
	case errors.Is(err, os.ErrNotExist):
		return "no such file"
	case errors.Is(err, os.ErrPermission):
		return "permission denied"
	default:
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return pathErr.Err.Error()
		}
		return err.Error()
	}
}
