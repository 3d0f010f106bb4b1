package session_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycache/relaycache/session"
)

type fakeWorkerPool struct {
	reject bool
}

func (f *fakeWorkerPool) Schedule(sess *session.Session) error {
	if f.reject {
		return assert.AnError
	}
	return nil
}

func testParams() session.Params {
	return session.Params{
		WorkspaceSize: 4096,
		HTTPReqSize:   2048,
		HTTPReqHdrLen: 64,
		PoolCap:       2,
	}
}

func TestPoolNewSessionAllocatesUpToCap(t *testing.T) {
	wp := &fakeWorkerPool{}
	p := session.NewPool("p0", wp, testParams(), nil)

	c1, _ := net.Pipe()
	c2, _ := net.Pipe()
	c3, _ := net.Pipe()

	s1 := p.NewSession(c1)
	require.NotNil(t, s1)
	s2 := p.NewSession(c2)
	require.NotNil(t, s2)
	s3 := p.NewSession(c3)
	assert.Nil(t, s3, "third session should be rejected: pool is at cap")
	assert.Equal(t, 2, p.Live())
}

func TestPoolRecyclesFromFreelist(t *testing.T) {
	wp := &fakeWorkerPool{}
	p := session.NewPool("p0", wp, testParams(), nil)

	c1, _ := net.Pipe()
	s1 := p.NewSession(c1)
	require.NotNil(t, s1)
	ws := s1.Workspace

	p.Delete(s1, "test", time.Now())
	assert.Equal(t, 1, p.Live())

	c2, _ := net.Pipe()
	s2 := p.NewSession(c2)
	require.NotNil(t, s2)
	assert.Same(t, ws, s2.Workspace, "recycled session should keep its workspace allocation")
	assert.Equal(t, session.StateFirst, s2.State)
}

func TestPoolReqMicroPool(t *testing.T) {
	wp := &fakeWorkerPool{}
	p := session.NewPool("p0", wp, testParams(), nil)
	c1, _ := net.Pipe()
	s1 := p.NewSession(c1)

	req := p.GetReq(s1)
	require.NotNil(t, req)
	req.XID = 42

	p.ReleaseReq(s1)
	assert.Nil(t, s1.Req)

	req2 := p.GetReq(s1)
	assert.Same(t, req, req2, "released request should be reused from the micro-pool")
	assert.Equal(t, uint64(0), req2.XID, "reused request must be reset")
}

func TestPoolScheduleRejectionDropsSession(t *testing.T) {
	wp := &fakeWorkerPool{reject: true}
	p := session.NewPool("p0", wp, testParams(), nil)
	c1, server := net.Pipe()
	s1 := p.NewSession(c1)

	go func() { _, _ = server.Read(make([]byte, 1)) }() // avoid blocking Close on the other half

	err := p.Schedule(s1)
	assert.Error(t, err)
}

func TestDeletePoolAssertsDrained(t *testing.T) {
	wp := &fakeWorkerPool{}
	p := session.NewPool("p0", wp, testParams(), nil)
	c1, _ := net.Pipe()
	s1 := p.NewSession(c1)
	p.Delete(s1, "shutdown", time.Now())
	assert.NotPanics(t, func() {
		p.DeletePool()
	})
}
