package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(nilWriter{})
	return log
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

// recordingDispatcher counts Dispatch calls per fd and drains one datagram
// from the socket so the same datagram doesn't make it readable forever.
type recordingDispatcher struct {
	mu    sync.Mutex
	calls map[int]int
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{calls: make(map[int]int)}
}

func (d *recordingDispatcher) Dispatch(fd int) error {
	d.mu.Lock()
	d.calls[fd]++
	d.mu.Unlock()
	buf := make([]byte, 65507)
	unix.Read(fd, buf)
	return nil
}

func (d *recordingDispatcher) count(fd int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[fd]
}

func newBoundUDPSocket(t *testing.T) int {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fd, true))
	require.NoError(t, unix.Bind(fd, &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}))
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func localPortOf(t *testing.T, fd int) int {
	t.Helper()
	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	sa4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	return sa4.Port
}

func TestLoopDispatchesReadyIngressSocket(t *testing.T) {
	ingressFD := newBoundUDPSocket(t)
	ingressPort := localPortOf(t, ingressFD)

	senderFD, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer unix.Close(senderFD)
	require.NoError(t, unix.Sendto(senderFD, []byte("x"), 0, &unix.SockaddrInet4{Port: ingressPort, Addr: [4]byte{127, 0, 0, 1}}))

	d := newRecordingDispatcher()
	loop := New(d, discardLogger(), Config{}, []int{ingressFD}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return d.count(ingressFD) >= 1 }, time.Second, 10*time.Millisecond)

	cancel()
	// Unblock the poll(-1) call by waking the loop with a second wakeup pass;
	// ctx is checked once per pass, so nudge it with another datagram.
	unix.Sendto(senderFD, []byte("y"), 0, &unix.SockaddrInet4{Port: ingressPort, Addr: [4]byte{127, 0, 0, 1}})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after context cancellation")
	}
}

func TestLoopIgnoresEgressSocketByDefault(t *testing.T) {
	ingressFD := newBoundUDPSocket(t)
	egressFD := newBoundUDPSocket(t)
	egressPort := localPortOf(t, egressFD)

	senderFD, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer unix.Close(senderFD)
	require.NoError(t, unix.Sendto(senderFD, []byte("stray"), 0, &unix.SockaddrInet4{Port: egressPort, Addr: [4]byte{127, 0, 0, 1}}))

	d := newRecordingDispatcher()
	loop := New(d, discardLogger(), Config{PollEgressSockets: false}, []int{ingressFD}, []int{egressFD})
	require.Len(t, loop.pollFDs, 1, "egress fd must not be registered when PollEgressSockets is false")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, d.count(egressFD))
}

func TestLoopPollsEgressSocketWhenConfigured(t *testing.T) {
	ingressFD := newBoundUDPSocket(t)
	egressFD := newBoundUDPSocket(t)

	d := newRecordingDispatcher()
	loop := New(d, discardLogger(), Config{PollEgressSockets: true}, []int{ingressFD}, []int{egressFD})
	require.Len(t, loop.pollFDs, 2)
}

func TestLoopReturnsErrorWithNoRegisteredSockets(t *testing.T) {
	loop := New(newRecordingDispatcher(), discardLogger(), Config{}, nil, nil)
	err := loop.Run(context.Background())
	require.Error(t, err)
}
