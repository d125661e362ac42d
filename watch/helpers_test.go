package watch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type call struct {
	Kind Kind
	FD   int
}

type testHandler struct {
	name  string
	calls []call

	// onReadable, when set, runs after the call is recorded.
	onReadable func(fd int)
}

func (h *testHandler) OnReadable(fd int) {
	h.calls = append(h.calls, call{Readable, fd})
	if h.onReadable != nil {
		h.onReadable(fd)
	}
}

func (h *testHandler) OnWritable(fd int) {
	h.calls = append(h.calls, call{Writable, fd})
}

func (h *testHandler) OnException(fd int) {
	h.calls = append(h.calls, call{ExceptionPending, fd})
}

type watchCall struct {
	Node Node
	FD   int
	Kind Kind
	On   bool
}

type recordingWatcher struct {
	calls []watchCall
	err   error
}

func (w *recordingWatcher) Watch(node Node, fd int, kind Kind, on bool) error {
	if w.err != nil {
		return w.err
	}
	w.calls = append(w.calls, watchCall{node, fd, kind, on})
	return nil
}

var errWatch = errors.New("epoll_ctl: no space left on device")

func newTestRegistry(opts ...Option) (*Registry, *recordingWatcher) {
	w := &recordingWatcher{}
	return NewRegistry(append([]Option{WithWatcher(w)}, opts...)...), w
}

// requireInvariantPanic runs fn and fails unless it panics with an *InvariantError.
func requireInvariantPanic(t *testing.T, fn func()) *InvariantError {
	t.Helper()
	var got any
	func() {
		defer func() { got = recover() }()
		fn()
	}()
	require.NotNil(t, got, "expected an invariant violation")
	require.True(t, IsInvariantViolation(got), "panic value %v is not an invariant violation", got)
	return got.(*InvariantError)
}
