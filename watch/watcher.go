package watch

// Handler receives readiness callbacks. Implementations must be comparable values,
// normally pointers, because the registry keys on handler identity.
type Handler interface {
	OnReadable(fd int)
	OnWritable(fd int)
	OnException(fd int)
}

// Watcher is the polling mechanism that watches descriptors at the OS level.
// Watch starts (on=true) or stops watching kind on fd for node. It is called
// synchronously from the interest operations and must tolerate repeated calls
// with the same arguments.
type Watcher interface {
	Watch(node Node, fd int, kind Kind, on bool) error
}

// WatcherFunc adapts a function to the Watcher interface.
type WatcherFunc func(node Node, fd int, kind Kind, on bool) error

func (f WatcherFunc) Watch(node Node, fd int, kind Kind, on bool) error {
	return f(node, fd, kind, on)
}

type nopWatcher struct{}

func (nopWatcher) Watch(Node, int, Kind, bool) error { return nil }

// Event is one readiness notification delivered by the polling mechanism.
type Event struct {
	Node Node
	FD   int
	Kind Kind
}
