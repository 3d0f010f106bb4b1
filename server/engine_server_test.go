package server

import (
	"net"
	"testing"
	"time"

	"github.com/relaycache/relaycache/contrib/log"
	"github.com/relaycache/relaycache/engine"
	"github.com/relaycache/relaycache/session"
)

func TestAcceptSchedulesOntoPool(t *testing.T) {
	driven := make(chan *session.Session, 4)
	wp := NewFixedWorkerPool(1, 4, func(sess *session.Session) { driven <- sess }, log.DefaultLogger)
	defer wp.Close()

	helper := log.NewHelper(log.DefaultLogger)
	pool := session.NewPool("test", wp, session.Params{
		WorkspaceSize: 4096,
		HTTPReqSize:   8192,
		HTTPReqHdrLen: 64,
		PoolCap:       0,
	}, helper)

	s := &CacheServer{log: helper, eng: &engine.Engine{Pool: pool}}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	s.accept(serverConn)

	select {
	case sess := <-driven:
		if sess == nil {
			t.Fatalf("accept scheduled a nil session")
		}
	case <-time.After(time.Second):
		t.Fatalf("accept did not schedule the session for driving")
	}
}

func TestAcceptRefusesAtPoolCapacity(t *testing.T) {
	wp := NewFixedWorkerPool(1, 4, func(sess *session.Session) {}, log.DefaultLogger)
	defer wp.Close()

	helper := log.NewHelper(log.DefaultLogger)
	pool := session.NewPool("test", wp, session.Params{
		WorkspaceSize: 4096,
		HTTPReqSize:   8192,
		HTTPReqHdrLen: 64,
		PoolCap:       1,
	}, helper)

	s := &CacheServer{log: helper, eng: &engine.Engine{Pool: pool}}

	first := func() net.Conn {
		client, server := net.Pipe()
		t.Cleanup(func() { client.Close() })
		return server
	}

	s.accept(first())

	secondClient, secondServer := net.Pipe()
	defer secondClient.Close()
	s.accept(secondServer)

	if _, err := secondServer.Write([]byte("x")); err == nil {
		t.Fatalf("expected the refused connection to be closed")
	}
}
