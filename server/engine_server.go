package server

import (
	"context"
	"errors"
	"net"

	"github.com/relaycache/relaycache/conf"
	"github.com/relaycache/relaycache/contrib/log"
	"github.com/relaycache/relaycache/contrib/transport"
	"github.com/relaycache/relaycache/engine"
	"github.com/relaycache/relaycache/session"
)

// CacheServer is the raw cache listener: a plain net.Listener accept
// loop feeding freshly-opened connections into a session.Pool, each one
// scheduled onto a FixedWorkerPool that drives it through engine.Engine.
// It runs alongside HTTPServer (the admin/ops/plugin surface) as a
// second transport.Server — a single http.Server mux has no room for a
// connection that must be driven state-by-state rather than handled
// once per request.
type CacheServer struct {
	addr string

	eng *engine.Engine
	wp  *FixedWorkerPool

	log *log.Helper

	listener net.Listener
}

// NewCacheServer builds a CacheServer bound to serverConfig.EngineAddr
// (falling back to serverConfig.Addr when unset — same host, relying on
// the operator picking distinct ports). workers sizes the FixedWorkerPool;
// queueSize <= 0 picks a default proportional to it.
func NewCacheServer(serverConfig *conf.Server, eng *engine.Engine, workers, queueSize int) transport.Server {
	addr := serverConfig.EngineAddr
	if addr == "" {
		addr = serverConfig.Addr
	}

	s := &CacheServer{
		addr: addr,
		eng:  eng,
		log:  log.NewHelper(log.GetLogger()),
	}
	s.wp = NewFixedWorkerPool(workers, queueSize, eng.Drive, log.GetLogger())
	eng.Pool = session.NewPool("cache", s.wp, session.Params{
		WorkspaceSize: eng.Cfg.OutbufCapacity,
		HTTPReqSize:   64 * 1024,
		HTTPReqHdrLen: 128,
		PoolCap:       0,
	}, s.log)

	return s
}

// Start listens on addr and accepts connections until ctx is cancelled
// or Stop closes the listener.
func (s *CacheServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.log.Infof("cache server listening on %s", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.log.Warnf("cache server accept error: %v", err)
			continue
		}

		s.accept(conn)
	}
}

// accept hands a freshly dialed conn a Session and schedules it; when
// the pool is at capacity the connection is refused outright.
func (s *CacheServer) accept(conn net.Conn) {
	sess := s.eng.Pool.NewSession(conn)
	if sess == nil {
		_ = conn.Close()
		s.log.Warnf("cache server pool at capacity, refusing connection from %s", conn.RemoteAddr())
		return
	}
	if err := s.eng.Pool.Schedule(sess); err != nil {
		s.log.Warnf("cache server schedule error: %v", err)
	}
}

// Stop closes the listener and the worker pool's intake, letting any
// in-flight session finish driving.
func (s *CacheServer) Stop(ctx context.Context) error {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.wp != nil {
		s.wp.Close()
	}
	return nil
}
