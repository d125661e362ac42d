//go:build darwin || freebsd
// +build darwin freebsd

package poll

import (
	"errors"
	"os"
	"time"

	"github.com/fzft/go-fdwatch/watch"
	"golang.org/x/sys/unix"
)

// kqueue has no separate filter for out-of-band data on every platform, so
// exception interest rides on the read filter and is reported for EV_ERROR and
// for EOF carrying a socket error.
type kqueue struct {
	fd     int
	events []unix.Kevent_t
}

func newBackend(maxEvents int) (backend, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(fd)

	var ev unix.Kevent_t
	unix.SetKevent(&ev, 0, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(fd, []unix.Kevent_t{ev}, nil, nil); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("kevent add user", err)
	}

	return &kqueue{fd: fd, events: make([]unix.Kevent_t, maxEvents)}, nil
}

func needsRead(i watch.Interest) bool {
	return i.Has(watch.Readable) || i.Has(watch.ExceptionPending)
}

func (kq *kqueue) update(fd int, old, new watch.Interest) error {
	var changes []unix.Kevent_t
	change := func(filter, flags int) {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, fd, filter, flags)
		changes = append(changes, ev)
	}

	if r0, r1 := needsRead(old), needsRead(new); r0 != r1 {
		if r1 {
			change(unix.EVFILT_READ, unix.EV_ADD)
		} else {
			change(unix.EVFILT_READ, unix.EV_DELETE)
		}
	}
	if w0, w1 := old.Has(watch.Writable), new.Has(watch.Writable); w0 != w1 {
		if w1 {
			change(unix.EVFILT_WRITE, unix.EV_ADD)
		} else {
			change(unix.EVFILT_WRITE, unix.EV_DELETE)
		}
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(kq.fd, changes, nil, nil)
	return os.NewSyscallError("kevent", err)
}

// registrationGone reports whether err means the kernel no longer holds the
// filters for the descriptor. kqueue drops them when the descriptor is closed.
func registrationGone(err error) bool {
	return errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT)
}

func (kq *kqueue) wait(timeout time.Duration) ([]readiness, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	n, err := unix.Kevent(kq.fd, nil, kq.events, ts)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, os.NewSyscallError("kevent wait", err)
	}

	byFD := make(map[int]watch.Interest, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ev := &kq.events[i]
		if int(ev.Filter) == unix.EVFILT_USER {
			continue
		}
		fd := int(ev.Ident)
		var ready watch.Interest
		switch int(ev.Filter) {
		case unix.EVFILT_READ:
			ready |= watch.InterestRead
		case unix.EVFILT_WRITE:
			ready |= watch.InterestWrite
		}
		if ev.Flags&unix.EV_ERROR != 0 || (ev.Flags&unix.EV_EOF != 0 && ev.Fflags != 0) {
			ready |= watch.InterestException
		}
		if _, seen := byFD[fd]; !seen {
			order = append(order, fd)
		}
		byFD[fd] |= ready
	}

	ready := make([]readiness, 0, len(order))
	for _, fd := range order {
		ready = append(ready, readiness{fd: fd, ready: byFD[fd]})
	}

	if n == len(kq.events) {
		kq.events = make([]unix.Kevent_t, n+n/2)
	}
	return ready, nil
}

func (kq *kqueue) wake() error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, 0, unix.EVFILT_USER, 0)
	ev.Fflags = unix.NOTE_TRIGGER
	_, err := unix.Kevent(kq.fd, []unix.Kevent_t{ev}, nil, nil)
	return os.NewSyscallError("kevent trigger", err)
}

func (kq *kqueue) close() error {
	return os.NewSyscallError("close kqueue", unix.Close(kq.fd))
}
