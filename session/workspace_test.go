package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaycache/relaycache/session"
)

func TestWorkspaceAllocAndReset(t *testing.T) {
	ws := session.NewWorkspace(32)
	assert.Equal(t, 32, ws.Cap())
	assert.Equal(t, 0, ws.Used())

	b := ws.Copy([]byte("hello"))
	assert.Equal(t, "hello", string(b))
	assert.Equal(t, 5, ws.Used())

	mark := ws.Snapshot()
	ws.Alloc(10)
	assert.Equal(t, 15, ws.Used())
	ws.Rewind(mark)
	assert.Equal(t, 5, ws.Used())

	ws.Reset()
	assert.Equal(t, 0, ws.Used())
}

func TestWorkspaceOverflowPanics(t *testing.T) {
	ws := session.NewWorkspace(4)
	assert.Panics(t, func() {
		ws.Alloc(5)
	})
}

func TestWorkspaceRewindOutOfRangePanics(t *testing.T) {
	ws := session.NewWorkspace(4)
	ws.Alloc(2)
	assert.Panics(t, func() {
		ws.Rewind(3)
	})
}
