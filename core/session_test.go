package core

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dyastin-0/gostash/logger"
	"github.com/Dyastin-0/gostash/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeSession struct {
	conn    net.Conn
	proto   *Proto
	session *Session
	root    string
	done    chan error
}

func startSession(t *testing.T) *pipeSession {
	t.Helper()

	root := t.TempDir()
	st, err := store.New(root)
	require.NoError(t, err)

	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	s := NewSession(server, st, NewEngine(0), logger.Nop())

	ps := &pipeSession{
		conn:    client,
		proto:   NewProto(),
		session: s,
		root:    root,
		done:    make(chan error, 1),
	}

	go func() { ps.done <- s.Run() }()

	return ps
}

func (ps *pipeSession) wait(t *testing.T) error {
	t.Helper()

	select {
	case err := <-ps.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func (ps *pipeSession) upload(t *testing.T, name string, payload []byte) *Status {
	t.Helper()

	require.NoError(t, ps.proto.WriteCommand(ps.conn, CommandUpload))
	require.NoError(t, ps.proto.WriteText(ps.conn, name))
	require.NoError(t, ps.proto.WriteLength(ps.conn, int64(len(payload))))
	if len(payload) > 0 {
		_, err := ps.conn.Write(payload)
		require.NoError(t, err)
	}

	status, err := ps.proto.ReadStatus(ps.conn)
	require.NoError(t, err)

	return status
}

func TestSessionInvalidCommand(t *testing.T) {
	ps := startSession(t)

	require.NoError(t, ps.proto.WriteText(ps.conn, "Delete"))

	status, err := ps.proto.ReadStatus(ps.conn)
	require.NoError(t, err)
	assert.Equal(t, StatusError, status.Code)
	assert.Contains(t, status.Message, "invalid command")

	err = ps.wait(t)
	assert.ErrorIs(t, err, ErrInvalidCommand)
	assert.True(t, IsProtocol(err))

	_, err = ps.conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, StateClosed, ps.session.State())
}

func TestSessionQuit(t *testing.T) {
	ps := startSession(t)

	require.NoError(t, ps.proto.WriteCommand(ps.conn, CommandQuit))

	assert.NoError(t, ps.wait(t))
	assert.Equal(t, StateClosed, ps.session.State())
}

func TestSessionPeerDisconnect(t *testing.T) {
	ps := startSession(t)

	ps.conn.Close()

	assert.NoError(t, ps.wait(t))
}

func TestSessionUploadThenDownload(t *testing.T) {
	ps := startSession(t)

	status := ps.upload(t, "notes/report.txt", []byte("hello world!"))
	require.Equal(t, StatusOK, status.Code)
	assert.Len(t, status.Message, 64)

	stored, err := os.ReadFile(filepath.Join(ps.root, "notes", "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world!", string(stored))

	require.NoError(t, ps.proto.WriteCommand(ps.conn, CommandDownload))
	require.NoError(t, ps.proto.WriteFilename(ps.conn, "notes/report.txt"))

	status, err = ps.proto.ReadStatus(ps.conn)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status.Code)

	n, err := ps.proto.ReadLength(ps.conn)
	require.NoError(t, err)
	require.Equal(t, int64(12), n)

	payload := make([]byte, n)
	_, err = io.ReadFull(ps.conn, payload)
	require.NoError(t, err)
	assert.Equal(t, "hello world!", string(payload))

	require.NoError(t, ps.proto.WriteCommand(ps.conn, CommandQuit))
	assert.NoError(t, ps.wait(t))
}

func TestSessionRejectedUploadIsDrained(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		reason string
	}{
		{"escapes root", "../x", "escapes storage root"},
		{"absolute", "/etc/passwd", "escapes storage root"},
		{"empty", "", "cannot be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := startSession(t)

			status := ps.upload(t, tt.file, []byte("payload"))
			assert.Equal(t, StatusError, status.Code)
			assert.Contains(t, status.Message, tt.reason)

			// The session is still aligned on the next command.
			status = ps.upload(t, "ok.txt", []byte("fine"))
			assert.Equal(t, StatusOK, status.Code)

			require.NoError(t, ps.proto.WriteCommand(ps.conn, CommandQuit))
			assert.NoError(t, ps.wait(t))

			_, err := os.Stat(filepath.Join(filepath.Dir(ps.root), "x"))
			assert.ErrorIs(t, err, os.ErrNotExist)
		})
	}
}

func TestSessionDownloadMissing(t *testing.T) {
	ps := startSession(t)

	require.NoError(t, ps.proto.WriteCommand(ps.conn, CommandDownload))
	require.NoError(t, ps.proto.WriteFilename(ps.conn, "missing.txt"))

	status, err := ps.proto.ReadStatus(ps.conn)
	require.NoError(t, err)
	assert.Equal(t, StatusError, status.Code)
	assert.Contains(t, status.Message, "no such file")

	ps.conn.Close()
	assert.NoError(t, ps.wait(t))
}

func TestSessionDownloadDirectory(t *testing.T) {
	ps := startSession(t)
	require.NoError(t, os.Mkdir(filepath.Join(ps.root, "dir"), 0755))

	require.NoError(t, ps.proto.WriteCommand(ps.conn, CommandDownload))
	require.NoError(t, ps.proto.WriteFilename(ps.conn, "dir"))

	status, err := ps.proto.ReadStatus(ps.conn)
	require.NoError(t, err)
	assert.Equal(t, StatusError, status.Code)
	assert.Contains(t, status.Message, "not a regular file")

	require.NoError(t, ps.proto.WriteCommand(ps.conn, CommandQuit))
	assert.NoError(t, ps.wait(t))
}

func TestSessionTruncatedUpload(t *testing.T) {
	ps := startSession(t)

	require.NoError(t, ps.proto.WriteCommand(ps.conn, CommandUpload))
	require.NoError(t, ps.proto.WriteFilename(ps.conn, "partial.bin"))
	require.NoError(t, ps.proto.WriteLength(ps.conn, 1000))
	_, err := ps.conn.Write(make([]byte, 100))
	require.NoError(t, err)
	ps.conn.Close()

	err = ps.wait(t)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = os.Stat(filepath.Join(ps.root, "partial.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
