package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var testPortCounter atomic.Uint32

func nextPort() int {
	return 26000 + int(testPortCounter.Add(1))
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(nilWriter{})
	return log
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// TestStartForegroundForwardsASingleDatagramEndToEnd exercises the entire
// Bootstrap -> Event Loop -> Dispatcher path against real loopback sockets,
// mirroring the single-forward scenario from the original repeater's own
// integration tests.
func TestStartForegroundForwardsASingleDatagramEndToEnd(t *testing.T) {
	listenPort := nextPort()
	dstPort := nextPort()

	dstFD, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer unix.Close(dstFD)
	require.NoError(t, unix.Bind(dstFD, &unix.SockaddrInet4{Port: dstPort, Addr: [4]byte{127, 0, 0, 1}}))

	configPath := writeConfig(t, fmt.Sprintf(`{
		"listen": [{"id": 1, "address": "*", "port": "%d"}],
		"transmit": [{"id": 1, "address": "*", "port": "*"}],
		"target": [{"id": 1, "address": "127.0.0.1", "port": "%d", "transmitter": 1}],
		"map": [{"source": 1, "target": [1], "address": "*", "port": "*"}]
	}`, listenPort, dstPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Start(ctx, Options{ConfigPath: configPath, LogPath: "/dev/null", Foreground: true}, discardLogger())
	}()

	// Give the foreground loop time to bind and start polling.
	time.Sleep(150 * time.Millisecond)

	senderFD, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer unix.Close(senderFD)
	require.NoError(t, unix.Sendto(senderFD, []byte("ping"), 0, &unix.SockaddrInet4{Port: listenPort, Addr: [4]byte{127, 0, 0, 1}}))

	require.Eventually(t, func() bool {
		fds := []unix.PollFd{{Fd: int32(dstFD), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 20)
		return err == nil && n > 0
	}, 2*time.Second, 20*time.Millisecond)

	buf := make([]byte, 64)
	n, _, err := unix.Recvfrom(dstFD, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))

	cancel()
	// The event loop checks ctx only between poll(-1) calls, so wake it with
	// one more datagram.
	require.NoError(t, unix.Sendto(senderFD, []byte("ping"), 0, &unix.SockaddrInet4{Port: listenPort, Addr: [4]byte{127, 0, 0, 1}}))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

func TestStartRejectsConfigurationThatFailsValidation(t *testing.T) {
	listenPort := nextPort()
	configPath := writeConfig(t, fmt.Sprintf(`{
		"listen": [{"id": 1, "address": "*", "port": "%d"}],
		"transmit": [{"id": 1, "address": "*", "port": "*"}],
		"target": [{"id": 1, "address": "127.0.0.1", "port": "9999", "transmitter": 1}],
		"map": [{"source": 1, "target": [999], "address": "*", "port": "*"}]
	}`, listenPort))

	err := Start(context.Background(), Options{ConfigPath: configPath, LogPath: "/dev/null", Foreground: true}, discardLogger())
	require.Error(t, err)
}

func TestStartPropagatesConfigLoadError(t *testing.T) {
	err := Start(context.Background(), Options{ConfigPath: "/nonexistent/rules.json", LogPath: "/dev/null", Foreground: true}, discardLogger())
	require.Error(t, err)
}
