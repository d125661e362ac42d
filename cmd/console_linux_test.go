//go:build linux
// +build linux

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fzft/go-fdwatch/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New(reactor.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errCh)
	})
	return r
}

func TestConsoleBatchCommands(t *testing.T) {
	r := startReactor(t)
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})

	script := fmt.Sprintf("help\nstats\n\ninterest %d read on\nhandlers\nbogus\n", fds[0])
	out := &lockedBuffer{}
	c := NewConsole(r, WithIO(strings.NewReader(script), out), WithLogger(zaptest.NewLogger(t)))

	require.NoError(t, c.Run(context.Background()), "end of input leaves the daemon running")

	got := out.String()
	assert.Contains(t, got, "commands:")
	assert.Contains(t, got, "handlers:0 descriptors:0")
	assert.Contains(t, got, fmt.Sprintf("watching fd %d for readable", fds[0]))
	assert.Contains(t, got, fmt.Sprintf("*cmd.probe fd=%d:readable", fds[0]))
	assert.Contains(t, got, `(error) unknown command "bogus"`)
	assert.Equal(t, 1, r.Stats().Registry.Readable)

	_, err := unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), fmt.Sprintf("fd %d is readable", fds[0]))
	}, 5*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return r.Stats().Registry.Readable == 0
	}, 5*time.Second, 5*time.Millisecond, "probe interest is one-shot")
}

func TestConsoleQuit(t *testing.T) {
	r := startReactor(t)
	out := &lockedBuffer{}
	c := NewConsole(r, WithIO(strings.NewReader("version\nquit\nstats\n"), out))

	assert.ErrorIs(t, c.Run(context.Background()), ErrQuit)
	assert.Contains(t, out.String(), version)
	assert.NotContains(t, out.String(), "handlers:", "nothing runs after quit")
}

func TestConsoleInterestAfterStop(t *testing.T) {
	r, err := reactor.New(reactor.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background()) }()
	r.Stop()
	require.NoError(t, <-errCh)

	c := NewConsole(r, WithIO(strings.NewReader("interest 0 read on\n"), &lockedBuffer{}))
	assert.ErrorIs(t, c.Run(context.Background()), reactor.ErrStopped)
}
