package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/Dyastin-0/gostash/logger"
	"github.com/zeebo/blake3"
)

// ProgressFunc returns a writer that is fed every payload byte of a transfer.
type ProgressFunc func(total int64, desc string) io.Writer

// Client drives the protocol from the connecting side. A Client is not safe
// for concurrent use; open one per goroutine.
type Client struct {
	conn     net.Conn
	proto    *Proto
	engine   *Engine
	dir      string
	log      logger.Logger
	progress ProgressFunc
	closed   bool
}

type Option func(*Client)

// WithDir sets the local directory filenames are resolved against.
func WithDir(dir string) Option {
	return func(c *Client) {
		if dir != "" {
			c.dir = dir
		}
	}
}

func WithChunkSize(n int) Option {
	return func(c *Client) {
		c.engine = NewEngine(n)
	}
}

func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(c *Client) {
		c.progress = fn
	}
}

// Result describes a completed transfer.
type Result struct {
	Command Command
	Name    string
	Bytes   int64
	Digest  string
}

func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newError(KindConnection, "dial", err)
	}

	return NewClient(conn, opts...), nil
}

func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:   conn,
		proto:  NewProto(),
		engine: NewEngine(ChunkSize),
		dir:    ".",
		log:    logger.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Do runs cmd. CommandInvalid is rejected before anything is sent so the
// caller can ask again.
func (c *Client) Do(cmd Command, name string) (*Result, error) {
	switch cmd {
	case CommandUpload:
		return c.Upload(name)
	case CommandDownload:
		return c.Download(name)
	case CommandQuit:
		return &Result{Command: CommandQuit}, c.Quit()
	default:
		return nil, newError(KindProtocol, "do", ErrInvalidCommand)
	}
}

// Upload sends dir/name to the server under name.
func (c *Client) Upload(name string) (*Result, error) {
	if err := checkName("upload", name); err != nil {
		return nil, err
	}

	log := c.log.WithStr("command", CommandUpload.String()).WithStr("file", name)

	// Everything local is checked before the first byte goes out.
	file, err := os.Open(filepath.Join(c.dir, name))
	if err != nil {
		return nil, newError(KindFilesystem, "upload", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, newError(KindFilesystem, "upload", err)
	}

	if !stat.Mode().IsRegular() {
		return nil, newError(KindFilesystem, "upload", fmt.Errorf("%s is not a regular file", name))
	}

	size := stat.Size()
	if size > MaxPayloadSize {
		return nil, newError(KindProtocol, "upload", fmt.Errorf("%w: %s is %d bytes", ErrInvalidLength, name, size))
	}

	if err := c.request(CommandUpload, name); err != nil {
		return nil, err
	}
	if err := c.proto.WriteLength(c.conn, size); err != nil {
		return nil, c.abort(err)
	}

	hasher := blake3.New()

	n, err := c.engine.Out(c.sink(c.conn, size, "Uploading "+name), io.TeeReader(file, hasher), size)
	if err != nil {
		// The declared length can no longer be honored.
		log.WithInt64("bytes", n).WithErr(err).Error("upload aborted")
		return nil, c.abort(err)
	}

	status, err := c.proto.ReadStatus(c.conn)
	if err != nil {
		return nil, c.abort(err)
	}

	if err := status.Err(); err != nil {
		log.WithErr(err).Warn("upload rejected")
		return nil, err
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	if status.Message != digest {
		return nil, newError(KindProtocol, "upload",
			fmt.Errorf("%w: local %s, server %s", ErrDigestMismatch, digest, status.Message))
	}

	log.WithInt64("bytes", n).WithStr("digest", digest).Info("file uploaded")

	return &Result{Command: CommandUpload, Name: name, Bytes: n, Digest: digest}, nil
}

// Download fetches name from the server into dir/name. Nothing is created
// locally when the server refuses.
func (c *Client) Download(name string) (*Result, error) {
	if err := checkName("download", name); err != nil {
		return nil, err
	}

	log := c.log.WithStr("command", CommandDownload.String()).WithStr("file", name)

	if err := c.request(CommandDownload, name); err != nil {
		return nil, err
	}

	status, err := c.proto.ReadStatus(c.conn)
	if err != nil {
		return nil, c.abort(err)
	}

	if err := status.Err(); err != nil {
		log.WithErr(err).Warn("download rejected")
		return nil, err
	}

	declared, err := c.proto.ReadLength(c.conn)
	if err != nil {
		return nil, c.abort(err)
	}

	path := filepath.Join(c.dir, name)

	file, err := createLocal(path)
	if err != nil {
		if _, derr := c.engine.Discard(c.conn, declared); derr != nil {
			return nil, c.abort(derr)
		}
		return nil, newError(KindFilesystem, "download", err)
	}

	hasher := blake3.New()

	n, err := c.engine.In(c.sink(io.MultiWriter(file, hasher), declared, "Downloading "+name), c.conn, declared)
	if err != nil {
		file.Close()
		os.Remove(path)

		log.WithInt64("bytes", n).WithInt64("declared", declared).WithErr(err).Error("download aborted")

		// A failing local file still had the payload drained.
		if IsFilesystem(err) {
			return nil, err
		}
		return nil, c.abort(err)
	}

	if err := file.Close(); err != nil {
		return nil, newError(KindFilesystem, "download", err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))

	log.WithInt64("bytes", n).WithStr("digest", digest).Info("file downloaded")

	return &Result{Command: CommandDownload, Name: name, Bytes: n, Digest: digest}, nil
}

// Quit tells the server the session is over and closes the connection.
func (c *Client) Quit() error {
	werr := c.proto.WriteCommand(c.conn, CommandQuit)
	cerr := c.Close()

	return errors.Join(werr, cerr)
}

func (c *Client) Close() error {
	c.closed = true
	return c.conn.Close()
}

// Alive reports whether the connection can carry another command. It turns
// false once the client closed it, either on request or because a failure
// left the stream between frames.
func (c *Client) Alive() bool {
	return !c.closed
}

// request sends the command and filename frames. Any failure after the first
// byte went out closes the connection.
func (c *Client) request(cmd Command, name string) error {
	if c.closed {
		return newError(KindConnection, "request", net.ErrClosed)
	}

	if err := c.proto.WriteCommand(c.conn, cmd); err != nil {
		return c.abort(err)
	}
	if err := c.proto.WriteFilename(c.conn, name); err != nil {
		return c.abort(err)
	}
	return nil
}

func (c *Client) abort(err error) error {
	c.Close()
	return err
}

// checkName rejects names the filename frame cannot carry, before anything
// is written.
func checkName(op, name string) error {
	if name == "" {
		return newError(KindProtocol, op, ErrEmptyFilename)
	}
	if len(name) > MaxTextLength {
		return newError(KindProtocol, op, fmt.Errorf("%w: filename is %d bytes", ErrTextTooLong, len(name)))
	}
	return nil
}

func (c *Client) sink(w io.Writer, total int64, desc string) io.Writer {
	if c.progress == nil {
		return w
	}

	bar := c.progress(total, desc)
	if bar == nil {
		return w
	}

	return io.MultiWriter(w, bar)
}

func createLocal(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.Create(path)
}
