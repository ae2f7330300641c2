package smtp

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConnectionLimiter_Acquire(t *testing.T) {
	t.Run("超出并发上限立即拒绝", func(t *testing.T) {
		l := NewConnectionLimiter(2, 0, 0)

		ok, _ := l.Acquire()
		assert.True(t, ok)
		ok, _ = l.Acquire()
		assert.True(t, ok)

		ok, reason := l.Acquire()
		assert.False(t, ok)
		assert.Equal(t, refusedCapacity, reason)
		assert.Equal(t, 2, l.Current())

		l.Release()
		ok, _ = l.Acquire()
		assert.True(t, ok)
	})

	t.Run("超出新建速率拒绝", func(t *testing.T) {
		l := NewConnectionLimiter(10, 0.001, 1)

		ok, _ := l.Acquire()
		assert.True(t, ok)

		ok, reason := l.Acquire()
		assert.False(t, ok)
		assert.Equal(t, refusedRate, reason)
		assert.Equal(t, 1, l.Current())
	})

	t.Run("多余的 Release 不会变为负数", func(t *testing.T) {
		l := NewConnectionLimiter(1, 0, 0)
		l.Release()
		assert.Equal(t, 0, l.Current())
	})
}

func TestConnectionLimiter_Listener(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	limiter := NewConnectionLimiter(1, 0, 0)
	ln := limiter.Listener(inner, zap.NewNop(), nil)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	first, err := net.Dial("tcp", inner.Addr().String())
	require.NoError(t, err)
	defer first.Close()

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("first connection was not accepted")
	}
	assert.Equal(t, 1, limiter.Current())

	second, err := net.Dial("tcp", inner.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(second).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, refuseReply, line)

	// 关闭两次只归还一次许可
	require.NoError(t, server.Close())
	_ = server.Close()
	assert.Equal(t, 0, limiter.Current())
}
