package core

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertSilent(t *testing.T, conn net.Conn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded, "nothing should have been sent")
}

func TestClientInvalidCommandSendsNothing(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := NewClient(client)
	defer c.Close()

	_, err := c.Do(CommandInvalid, "report.txt")
	assert.ErrorIs(t, err, ErrInvalidCommand)
	assert.True(t, IsProtocol(err))

	assertSilent(t, server)
}

func TestClientMissingLocalFileSendsNothing(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := NewClient(client, WithDir(t.TempDir()))
	defer c.Close()

	_, err := c.Upload("missing.txt")
	assert.True(t, IsFilesystem(err))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = c.Upload("")
	assert.ErrorIs(t, err, ErrEmptyFilename)

	assertSilent(t, server)
}

func TestClientUploadDigestMismatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("abc"), 0644))

	client, server := net.Pipe()
	defer server.Close()

	c := NewClient(client, WithDir(dir))
	defer c.Close()

	go func() {
		p := NewProto()
		p.ReadCommand(server)
		p.ReadFilename(server)
		n, _ := p.ReadLength(server)
		io.CopyN(io.Discard, server, n)
		p.WriteStatus(server, &Status{Code: StatusOK, Message: "not a digest"})
	}()

	_, err := c.Upload("a.txt")
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestClientDownloadTruncatedRemovesFile(t *testing.T) {
	dir := t.TempDir()

	client, server := net.Pipe()

	c := NewClient(client, WithDir(dir))
	defer c.Close()

	go func() {
		defer server.Close()

		p := NewProto()
		p.ReadCommand(server)
		p.ReadFilename(server)
		p.WriteStatus(server, &Status{Code: StatusOK})
		p.WriteLength(server, 1000)
		server.Write(make([]byte, 10))
	}()

	_, err := c.Download("big.bin")
	assert.ErrorIs(t, err, ErrTruncated)
	assert.True(t, IsTruncation(err))

	_, err = os.Stat(filepath.Join(dir, "big.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClientProgressSeesEveryByte(t *testing.T) {
	ts := startServer(t)
	dir := t.TempDir()
	data := pattern(10_000)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.bin"), data, 0644))

	var total int64
	var seen int
	progress := func(n int64, desc string) io.Writer {
		total = n
		return writerFunc(func(p []byte) (int, error) {
			seen += len(p)
			return len(p), nil
		})
	}

	c, err := Dial(t.Context(), ts.addr, WithDir(dir), WithProgress(progress), WithChunkSize(1000))
	require.NoError(t, err)

	_, err = c.Upload("p.bin")
	require.NoError(t, err)
	require.NoError(t, c.Quit())

	assert.Equal(t, int64(len(data)), total)
	assert.Equal(t, len(data), seen)
}

func TestClientOverlongNameKeepsStreamAligned(t *testing.T) {
	ts := startServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(ts.root, "report.txt"), []byte("hello world!"), 0644))

	dir := t.TempDir()
	c := ts.dial(t, dir)
	long := strings.Repeat("a", MaxTextLength+44)

	_, err := c.Download(long)
	assert.ErrorIs(t, err, ErrTextTooLong)
	assert.True(t, IsProtocol(err))
	assert.True(t, c.Alive())

	_, err = c.Upload(long)
	assert.ErrorIs(t, err, ErrTextTooLong)
	assert.True(t, c.Alive())

	res, err := c.Download("report.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.Bytes)

	got, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world!", string(got))

	assert.NoError(t, c.Quit())
	assert.False(t, c.Alive())
}

func TestClientBadStatusClosesConnection(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	c := NewClient(client, WithDir(t.TempDir()))
	defer c.Close()

	go func() {
		p := NewProto()
		p.ReadCommand(server)
		p.ReadFilename(server)
		server.Write([]byte{0x07, 0x00, 0x00})
	}()

	_, err := c.Download("report.txt")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.True(t, IsProtocol(err))
	assert.False(t, c.Alive())

	_, err = c.Download("report.txt")
	assert.True(t, IsConnection(err))
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}
