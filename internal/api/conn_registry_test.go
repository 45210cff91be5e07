package api

import (
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowSocket blocks in Close until released, like a peer that never answers
// the close handshake.
type slowSocket struct {
	closing chan struct{}
	release chan struct{}
	code    websocket.StatusCode
}

func newSlowSocket() *slowSocket {
	return &slowSocket{closing: make(chan struct{}), release: make(chan struct{})}
}

func (s *slowSocket) Close(code websocket.StatusCode, _ string) error {
	s.code = code
	close(s.closing)
	<-s.release
	return nil
}

func countWithin(t *testing.T, reg *ConnRegistry, d time.Duration) int {
	t.Helper()
	got := make(chan int, 1)
	go func() { got <- reg.Count() }()
	select {
	case n := <-got:
		return n
	case <-time.After(d):
		t.Fatal("registry lock held while closing a socket")
		return -1
	}
}

func TestConnRegistryReplaceClosesOutsideLock(t *testing.T) {
	reg := NewConnRegistry()
	first := newSlowSocket()
	reg.Register("s1", first)

	done := make(chan struct{})
	go func() {
		reg.Register("s1", newSlowSocket())
		close(done)
	}()
	<-first.closing

	assert.Equal(t, 1, countWithin(t, reg, time.Second))
	close(first.release)
	<-done
	assert.Equal(t, websocket.StatusNormalClosure, first.code)
}

func TestConnRegistryCloseAllClosesOutsideLock(t *testing.T) {
	reg := NewConnRegistry()
	sock := newSlowSocket()
	reg.Register("s1", sock)

	done := make(chan struct{})
	go func() {
		reg.CloseAll()
		close(done)
	}()
	<-sock.closing

	assert.Equal(t, 0, countWithin(t, reg, time.Second))
	close(sock.release)
	<-done
	require.Equal(t, websocket.StatusGoingAway, sock.code)
}

func TestConnRegistryUnregisterKeepsReplacement(t *testing.T) {
	reg := NewConnRegistry()
	first := newSlowSocket()
	close(first.release)
	second := newSlowSocket()

	reg.Register("s1", first)
	reg.Register("s1", second)
	reg.Unregister("s1", first)

	assert.Equal(t, 1, reg.Count())
	reg.Unregister("s1", second)
	assert.Equal(t, 0, reg.Count())
}
