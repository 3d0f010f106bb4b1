package outbuf_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycache/relaycache/outbuf"
)

// pipeConn adapts a net.Conn half of a net.Pipe to outbuf.Conn; net.Pipe
// connections have no real write deadline semantics, which is fine for
// these buffering-behaviour tests.
type pipeConn struct {
	net.Conn
}

func (p pipeConn) SetWriteDeadline(t time.Time) error {
	return p.Conn.SetWriteDeadline(t)
}

func newPipe(t *testing.T) (outbuf.Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return pipeConn{client}, server
}

func drain(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := conn.Read(buf[read:])
		require.NoError(t, err)
		read += m
	}
	return buf
}

func TestReserveTwiceFails(t *testing.T) {
	ob := outbuf.New(0)
	conn, _ := newPipe(t)
	require.NoError(t, ob.Reserve(conn, time.Now(), time.Second))
	assert.ErrorIs(t, ob.Reserve(conn, time.Now(), time.Second), outbuf.ErrAlreadyBound)
}

func TestWriteFlushDeliversBytes(t *testing.T) {
	ob := outbuf.New(0)
	conn, server := newPipe(t)
	require.NoError(t, ob.Reserve(conn, time.Now(), time.Second))

	require.NoError(t, ob.Write([]byte("HTTP/1.1 200 OK\r\n")))
	require.NoError(t, ob.Write([]byte("Content-Length: 5\r\n\r\n")))
	require.NoError(t, ob.Write([]byte("hello")))

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, ob.Flush())
	}()

	got := drain(t, server, len("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	<-done
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello", string(got))
}

func TestChunkedFraming(t *testing.T) {
	ob := outbuf.New(0)
	conn, server := newPipe(t)
	require.NoError(t, ob.Reserve(conn, time.Now(), time.Second))

	require.NoError(t, ob.Chunked())
	require.NoError(t, ob.Write([]byte("abcde")))

	want := "5\r\nabcde\r\n"
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, ob.Flush())
	}()
	got := drain(t, server, len(want))
	<-done
	assert.Equal(t, want, string(got))

	done2 := make(chan struct{})
	go func() {
		defer close(done2)
		assert.NoError(t, ob.EndChunk())
	}()
	got2 := drain(t, server, len("0\r\n\r\n"))
	<-done2
	assert.Equal(t, "0\r\n\r\n", string(got2))
}

func TestChunkedAlreadyActive(t *testing.T) {
	ob := outbuf.New(0)
	conn, _ := newPipe(t)
	require.NoError(t, ob.Reserve(conn, time.Now(), time.Second))
	require.NoError(t, ob.Chunked())
	assert.ErrorIs(t, ob.Chunked(), outbuf.ErrChunkAlreadyActive)
}

func TestFlushWithNothingPendingIsNoop(t *testing.T) {
	ob := outbuf.New(0)
	conn, _ := newPipe(t)
	require.NoError(t, ob.Reserve(conn, time.Now(), time.Second))
	assert.NoError(t, ob.Flush())
}

func TestAutoFlushBeforeVectorOverflow(t *testing.T) {
	ob := outbuf.New(2) // tiny capacity forces auto-flush behaviour
	conn, server := newPipe(t)
	require.NoError(t, ob.Reserve(conn, time.Now(), time.Second))
	require.NoError(t, ob.Chunked())

	results := make(chan error, 1)
	go func() {
		err := ob.Write([]byte("a"))
		if err == nil {
			err = ob.Write([]byte("b"))
		}
		results <- err
	}()

	// first auto-flush emits the chunk header("1\r\n") + "a" + tail "\r\n"
	got := drain(t, server, len("1\r\na\r\n"))
	assert.Equal(t, "1\r\na\r\n", string(got))
	require.NoError(t, <-results)
}

func TestOperationsBeforeReserveFail(t *testing.T) {
	ob := outbuf.New(0)
	assert.ErrorIs(t, ob.Write([]byte("x")), outbuf.ErrNotBound)
	assert.ErrorIs(t, ob.Chunked(), outbuf.ErrNotBound)
	assert.ErrorIs(t, ob.Flush(), outbuf.ErrNotBound)
}
