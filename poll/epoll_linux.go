//go:build linux
// +build linux

package poll

import (
	"errors"
	"os"
	"time"

	"github.com/fzft/go-fdwatch/watch"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// https://copyconstruct.medium.com/the-method-to-epolls-madness-d9d2d6378642

const (
	readEvents   = unix.EPOLLIN | unix.EPOLLRDHUP
	writeEvents  = unix.EPOLLOUT
	exceptEvents = unix.EPOLLPRI
)

var wakeBytes = []byte{1, 0, 0, 0, 0, 0, 0, 0}

type epoll struct {
	epollFd int
	efd     int // eventfd used to interrupt EpollWait
	events  []unix.EpollEvent
}

func newBackend(maxEvents int) (backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	ep := &epoll{
		epollFd: epfd,
		efd:     efd,
		events:  make([]unix.EpollEvent, maxEvents),
	}
	if err := ep.add(efd, unix.EPOLLIN); err != nil {
		_ = unix.Close(efd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return ep, nil
}

func toEpoll(i watch.Interest) uint32 {
	var ev uint32
	if i.Has(watch.Readable) {
		ev |= readEvents
	}
	if i.Has(watch.Writable) {
		ev |= writeEvents
	}
	if i.Has(watch.ExceptionPending) {
		ev |= exceptEvents
	}
	return ev
}

// fromEpoll maps reported epoll bits to readiness. Errors and hangups make a
// descriptor readable so the owner observes them on its next read; errors also
// make it writable.
func fromEpoll(ev uint32) watch.Interest {
	var i watch.Interest
	if ev&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		i |= watch.InterestRead
	}
	if ev&(unix.EPOLLOUT|unix.EPOLLERR) != 0 {
		i |= watch.InterestWrite
	}
	if ev&unix.EPOLLPRI != 0 {
		i |= watch.InterestException
	}
	return i
}

func (ep *epoll) update(fd int, old, new watch.Interest) error {
	switch {
	case old == watch.InterestNone:
		return ep.add(fd, toEpoll(new))
	case new == watch.InterestNone:
		return ep.del(fd)
	default:
		return ep.mod(fd, toEpoll(new))
	}
}

// registrationGone reports whether err means the kernel no longer holds a
// registration for the descriptor: closing a descriptor drops it from epoll.
func registrationGone(err error) bool {
	return errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT)
}

func (ep *epoll) add(fd int, events uint32) error {
	return os.NewSyscallError("epoll_ctl add",
		unix.EpollCtl(ep.epollFd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events}))
}

func (ep *epoll) mod(fd int, events uint32) error {
	return os.NewSyscallError("epoll_ctl mod",
		unix.EpollCtl(ep.epollFd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events}))
}

func (ep *epoll) del(fd int) error {
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(ep.epollFd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (ep *epoll) wait(timeout time.Duration) ([]readiness, error) {
	// level triggered
	n, err := unix.EpollWait(ep.epollFd, ep.events, waitMillis(timeout))
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, os.NewSyscallError("epoll_wait", err)
	}

	ready := make([]readiness, 0, n)
	for i := 0; i < n; i++ {
		ev := &ep.events[i]
		fd := int(ev.Fd)
		if fd == ep.efd {
			ep.drainWake()
			continue
		}
		ready = append(ready, readiness{fd: fd, ready: fromEpoll(ev.Events)})
	}

	if n == len(ep.events) {
		ep.events = make([]unix.EpollEvent, n+n/2)
	}
	return ready, nil
}

// waitMillis converts timeout for epoll_wait, rounding up so that a positive
// timeout below one millisecond still blocks.
func waitMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}

func (ep *epoll) wake() error {
	_, err := unix.Write(ep.efd, wakeBytes)
	if err == unix.EAGAIN {
		// counter saturated, a wakeup is already pending
		return nil
	}
	return os.NewSyscallError("eventfd write", err)
}

func (ep *epoll) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(ep.efd, buf[:])
}

// close order: eventfd, epoll
func (ep *epoll) close() error {
	err := multierr.Append(ep.del(ep.efd), os.NewSyscallError("close eventfd", unix.Close(ep.efd)))
	return multierr.Append(err, os.NewSyscallError("close epoll", unix.Close(ep.epollFd)))
}
