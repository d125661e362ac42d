/*
Package watch keeps track of which handlers want to hear about which file descriptors,
and routes readiness notifications back to them.

A handler is registered once and gets a Node. Interest is declared per descriptor and per
kind (readable, writable, exception) through ReadInterestIs, WriteInterestIs and
ExceptionInterestIs. The first call for a (handler, fd) pair creates a DescriptorState;
the call that clears the last of its three flags deletes it again. Every change is
propagated to a Watcher, the OS-level polling mechanism, which later hands events back
through Dispatch.

Typical usage:

	reg := watch.NewRegistry(watch.WithWatcher(poller))
	reg.Register(h)
	if err := reg.ReadInterestIs(h, fd, true); err != nil {
		...
	}
	...
	reg.Dispatch(ev) // calls h.OnReadable(fd)
	...
	reg.Unregister(h)

Broken invariants, such as an event for a node whose handler is gone, panic with an
*InvariantError instead of returning an error.
*/
package watch
