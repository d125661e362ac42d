package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchRoutesToOwner(t *testing.T) {
	reg, _ := newTestRegistry()
	h, other := &testHandler{name: "h"}, &testHandler{name: "other"}
	node := reg.Register(h)
	reg.Register(other)
	require.NoError(t, reg.ReadInterestIs(h, 7, true))
	require.NoError(t, reg.ReadInterestIs(other, 7, true))

	assert.True(t, reg.Dispatch(Event{Node: node, FD: 7, Kind: Readable}))

	assert.Equal(t, []call{{Readable, 7}}, h.calls)
	assert.Empty(t, other.calls)
}

func TestDispatchTypedCallbacks(t *testing.T) {
	reg, _ := newTestRegistry()
	h := &testHandler{}
	node := reg.Register(h)
	require.NoError(t, reg.ReadInterestIs(h, 2, true))
	require.NoError(t, reg.WriteInterestIs(h, 2, true))
	require.NoError(t, reg.ExceptionInterestIs(h, 2, true))

	for _, k := range Kinds {
		reg.Dispatch(Event{Node: node, FD: 2, Kind: k})
	}
	assert.Equal(t, []call{{Readable, 2}, {Writable, 2}, {ExceptionPending, 2}}, h.calls)
}

func TestDispatchDropsWithdrawnInterest(t *testing.T) {
	reg, _ := newTestRegistry()
	h := &testHandler{}
	node := reg.Register(h)
	require.NoError(t, reg.ReadInterestIs(h, 3, true))
	require.NoError(t, reg.WriteInterestIs(h, 3, true))
	require.NoError(t, reg.WriteInterestIs(h, 3, false))

	assert.False(t, reg.Dispatch(Event{Node: node, FD: 3, Kind: Writable}))
	assert.False(t, reg.Dispatch(Event{Node: node, FD: 4, Kind: Readable}))
	assert.Empty(t, h.calls)
}

func TestDispatchCallbackMayWithdrawInterest(t *testing.T) {
	reg, _ := newTestRegistry()
	h := &testHandler{}
	node := reg.Register(h)
	h.onReadable = func(fd int) {
		require.NoError(t, reg.ReadInterestIs(h, fd, false))
	}
	require.NoError(t, reg.ReadInterestIs(h, 5, true))

	ev := Event{Node: node, FD: 5, Kind: Readable}
	assert.True(t, reg.Dispatch(ev), "the running callback is not cancelled retroactively")
	assert.False(t, reg.Dispatch(ev), "later events are suppressed")
	assert.Equal(t, []call{{Readable, 5}}, h.calls)
	assert.Equal(t, 0, reg.Stats().Descriptors)
}

func TestDispatchCallbackMayUnregister(t *testing.T) {
	reg, _ := newTestRegistry()
	h := &testHandler{}
	node := reg.Register(h)
	h.onReadable = func(int) {
		require.NoError(t, reg.Unregister(h))
	}
	require.NoError(t, reg.ReadInterestIs(h, 5, true))

	assert.True(t, reg.Dispatch(Event{Node: node, FD: 5, Kind: Readable}))
	_, ok := reg.Lookup(h)
	assert.False(t, ok)
}

func TestDispatchAfterTeardownIsFatal(t *testing.T) {
	reg, _ := newTestRegistry()
	h := &testHandler{}
	node := reg.Register(h)
	require.NoError(t, reg.ReadInterestIs(h, 7, true))
	require.NoError(t, reg.Unregister(h))

	ie := requireInvariantPanic(t, func() {
		reg.Dispatch(Event{Node: node, FD: 7, Kind: Readable})
	})
	assert.Equal(t, "dispatch", ie.Op)
	assert.Empty(t, h.calls)
}

func TestDispatchUnknownKindIsFatal(t *testing.T) {
	reg, _ := newTestRegistry()
	h := &testHandler{}
	node := reg.Register(h)
	requireInvariantPanic(t, func() {
		reg.Dispatch(Event{Node: node, FD: 1, Kind: Kind(7)})
	})
}

func TestWriteInterestScenario(t *testing.T) {
	reg, w := newTestRegistry()
	h := &testHandler{}
	node := reg.Register(h)

	require.NoError(t, reg.WriteInterestIs(h, 5, true))
	got, ok := reg.Interest(h, 5)
	require.True(t, ok)
	assert.Equal(t, InterestWrite, got)
	assert.Equal(t, []watchCall{{node, 5, Writable, true}}, w.calls)

	require.NoError(t, reg.WriteInterestIs(h, 5, false))
	_, ok = reg.Interest(h, 5)
	assert.False(t, ok)
	assert.Equal(t, watchCall{node, 5, Writable, false}, w.calls[1])

	require.NoError(t, reg.Unregister(h))
	_, ok = reg.Lookup(h)
	assert.False(t, ok)
	assert.Equal(t, Stats{}, reg.Stats())
	assert.Len(t, w.calls, 2)
	require.NoError(t, reg.verify())
}
