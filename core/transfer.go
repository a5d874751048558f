package core

import (
	"errors"
	"fmt"
	"io"
)

const (
	ChunkSize = 4096

	// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
	maxEmptyReads = 100
)

// Engine moves a payload of declared length between a connection and a local
// source or sink in chunks of at most chunkSize bytes.
type Engine struct {
	chunkSize int
}

func NewEngine(chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = ChunkSize
	}
	return &Engine{chunkSize: chunkSize}
}

func (e *Engine) ChunkSize() int {
	return e.chunkSize
}

// Out sends exactly declared bytes read from src to conn and returns the
// number of bytes written to conn.
func (e *Engine) Out(conn io.Writer, src io.Reader, declared int64) (int64, error) {
	buf := make([]byte, e.chunkSize)

	var sent int64
	for sent < declared {
		want := min(int64(len(buf)), declared-sent)

		n, rerr := io.ReadFull(src, buf[:want])
		if n > 0 {
			w, werr := writeFull(conn, buf[:n])
			sent += int64(w)
			if werr != nil {
				return sent, newError(KindConnection, "transfer out", werr)
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
				return sent, newError(KindTruncation, "transfer out",
					fmt.Errorf("%w: sent %d of %d bytes", ErrSourceShort, sent, declared))
			}
			return sent, newError(KindFilesystem, "transfer out", rerr)
		}
	}

	return sent, nil
}

// In receives exactly declared bytes from conn into sink and returns the
// number of bytes written to sink. A peer that closes early yields
// ErrTruncated. When the sink fails, the rest of the payload is still consumed
// from conn so the stream stays aligned on the next frame.
func (e *Engine) In(sink io.Writer, conn io.Reader, declared int64) (int64, error) {
	buf := make([]byte, e.chunkSize)

	var consumed, written int64
	var sinkErr error
	var empty int
	for consumed < declared {
		want := min(int64(len(buf)), declared-consumed)

		n, rerr := conn.Read(buf[:want])
		if n > 0 {
			consumed += int64(n)
			if sinkErr == nil {
				w, werr := writeFull(sink, buf[:n])
				written += int64(w)
				if werr != nil {
					sinkErr = newError(KindFilesystem, "transfer in", werr)
				}
			}
		}

		switch {
		case rerr == nil && n == 0:
			empty++
			if empty >= maxEmptyReads {
				return written, newError(KindConnection, "transfer in", io.ErrNoProgress)
			}
		case rerr == nil:
			empty = 0
		case consumed >= declared:
		case errors.Is(rerr, io.EOF):
			return written, newError(KindTruncation, "transfer in",
				fmt.Errorf("%w: received %d of %d bytes", ErrTruncated, consumed, declared))
		default:
			return written, newError(KindConnection, "transfer in", rerr)
		}
	}

	return written, sinkErr
}

// Discard consumes declared bytes from conn without storing them.
func (e *Engine) Discard(conn io.Reader, declared int64) (int64, error) {
	return e.In(io.Discard, conn, declared)
}
