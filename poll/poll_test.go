package poll

import (
	"errors"
	"testing"
	"time"

	"github.com/fzft/go-fdwatch/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type update struct {
	FD       int
	Old, New watch.Interest
}

type fakeBackend struct {
	updates []update
	ready   []readiness
	err     error
	woken   int
	closed  bool
}

func (b *fakeBackend) update(fd int, old, new watch.Interest) error {
	if b.err != nil {
		return b.err
	}
	b.updates = append(b.updates, update{fd, old, new})
	return nil
}

func (b *fakeBackend) wait(time.Duration) ([]readiness, error) {
	r := b.ready
	b.ready = nil
	return r, nil
}

func (b *fakeBackend) wake() error {
	b.woken++
	return nil
}

func (b *fakeBackend) close() error {
	b.closed = true
	return nil
}

// nodes allocates real registry nodes so tests never build them by hand.
func nodes(t *testing.T, n int) []watch.Node {
	t.Helper()
	reg := watch.NewRegistry()
	out := make([]watch.Node, n)
	for i := range out {
		out[i] = reg.Register(&nopHandler{})
	}
	return out
}

type nopHandler struct{ _ byte }

func (nopHandler) OnReadable(int)  {}
func (nopHandler) OnWritable(int)  {}
func (nopHandler) OnException(int) {}

func TestWatchInstallsUnionOfNodes(t *testing.T) {
	b := &fakeBackend{}
	p := newPoller(b)
	ns := nodes(t, 2)

	require.NoError(t, p.Watch(ns[0], 5, watch.Readable, true))
	require.NoError(t, p.Watch(ns[1], 5, watch.Writable, true))
	require.NoError(t, p.Watch(ns[1], 5, watch.Readable, true))
	require.NoError(t, p.Watch(ns[0], 5, watch.Readable, false))
	require.NoError(t, p.Watch(ns[1], 5, watch.Writable, false))
	require.NoError(t, p.Watch(ns[1], 5, watch.Readable, false))

	assert.Equal(t, []update{
		{5, watch.InterestNone, watch.InterestRead},
		{5, watch.InterestRead, watch.InterestRead | watch.InterestWrite},
		{5, watch.InterestRead | watch.InterestWrite, watch.InterestRead},
		{5, watch.InterestRead, watch.InterestNone},
	}, b.updates)
	assert.Equal(t, 0, p.Len())
}

func TestWatchRepeatedCallsAreNoops(t *testing.T) {
	b := &fakeBackend{}
	p := newPoller(b)
	n := nodes(t, 1)[0]

	require.NoError(t, p.Watch(n, 3, watch.ExceptionPending, true))
	require.NoError(t, p.Watch(n, 3, watch.ExceptionPending, true))
	require.NoError(t, p.Watch(n, 4, watch.Readable, false))

	assert.Len(t, b.updates, 1)
	assert.Equal(t, watch.InterestException, p.Installed(3))
	assert.Equal(t, watch.InterestNone, p.Installed(4))
}

func TestWatchRollsBackOnBackendError(t *testing.T) {
	b := &fakeBackend{err: errors.New("epoll_ctl add: bad file descriptor")}
	p := newPoller(b)
	n := nodes(t, 1)[0]

	require.Error(t, p.Watch(n, 9, watch.Readable, true))
	assert.Equal(t, 0, p.Len())
	assert.False(t, p.Subscribed(watch.Event{Node: n, FD: 9, Kind: watch.Readable}))
}

func TestWatchFailedWithdrawalDropsNode(t *testing.T) {
	b := &fakeBackend{}
	p := newPoller(b)
	n := nodes(t, 1)[0]

	require.NoError(t, p.Watch(n, 9, watch.Readable, true))
	b.err = errors.New("epoll_ctl del: operation not permitted")

	require.Error(t, p.Watch(n, 9, watch.Readable, false))
	assert.False(t, p.Subscribed(watch.Event{Node: n, FD: 9, Kind: watch.Readable}))
	assert.Equal(t, 0, p.Len(), "no subscription outlives the withdrawal")
}

func TestWaitFansOutToSubscribedNodes(t *testing.T) {
	b := &fakeBackend{}
	p := newPoller(b)
	ns := nodes(t, 3)

	require.NoError(t, p.Watch(ns[0], 7, watch.Readable, true))
	require.NoError(t, p.Watch(ns[1], 7, watch.Writable, true))
	require.NoError(t, p.Watch(ns[2], 7, watch.Readable, true))
	require.NoError(t, p.Watch(ns[2], 7, watch.ExceptionPending, true))

	b.ready = []readiness{
		{fd: 7, ready: watch.InterestRead | watch.InterestException},
		{fd: 8, ready: watch.InterestRead},
	}
	events, err := p.Wait(0)
	require.NoError(t, err)

	assert.Equal(t, []watch.Event{
		{Node: ns[0], FD: 7, Kind: watch.Readable},
		{Node: ns[2], FD: 7, Kind: watch.Readable},
		{Node: ns[2], FD: 7, Kind: watch.ExceptionPending},
	}, events)
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	b := &fakeBackend{}
	p := newPoller(b)
	n := nodes(t, 1)[0]

	require.NoError(t, p.Wake())
	require.NoError(t, p.Close())
	assert.True(t, b.closed)
	assert.Equal(t, 1, b.woken)

	assert.ErrorIs(t, p.Watch(n, 1, watch.Readable, true), ErrClosed)
	_, err := p.Wait(0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.Close(), ErrClosed)
	assert.ErrorIs(t, p.Wake(), ErrClosed)
}
