package poll

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fzft/go-fdwatch/log"
	"github.com/fzft/go-fdwatch/watch"
	"go.uber.org/zap"
)

var (
	ErrClosed      = errors.New("poll: poller closed")
	ErrUnsupported = errors.New("poll: no readiness backend for this platform")
)

// DefaultMaxEvents is the initial size of the kernel event buffer.
const DefaultMaxEvents = 128

// readiness is one descriptor reported ready by the backend.
type readiness struct {
	fd    int
	ready watch.Interest
}

// backend is the OS readiness mechanism. update installs the union of interest on
// fd, going from old to new; wait blocks for at most timeout (forever if negative)
// and swallows wakeups.
type backend interface {
	update(fd int, old, new watch.Interest) error
	wait(timeout time.Duration) ([]readiness, error)
	wake() error
	close() error
}

// subscription tracks which nodes watch one descriptor and what is installed in the
// kernel for it.
type subscription struct {
	nodes     map[watch.Node]watch.Interest
	installed watch.Interest
}

func (s *subscription) union() watch.Interest {
	var u watch.Interest
	for _, i := range s.nodes {
		u |= i
	}
	return u
}

// Poller watches descriptors for readiness on behalf of registry nodes. Several
// nodes may watch the same descriptor; the kernel sees the union of their interest
// and readiness is fanned out to each node that asked for it.
type Poller struct {
	mu      sync.Mutex
	logger  *zap.Logger
	backend backend
	subs    map[int]*subscription
	closed  bool
}

type Option func(*Poller)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// New creates a poller on the platform backend.
func New(maxEvents int, opts ...Option) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	b, err := newBackend(maxEvents)
	if err != nil {
		return nil, err
	}
	return newPoller(b, opts...), nil
}

func newPoller(b backend, opts ...Option) *Poller {
	p := &Poller{
		logger:  log.Logger,
		backend: b,
		subs:    make(map[int]*subscription),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Watch implements watch.Watcher.
func (p *Poller) Watch(node watch.Node, fd int, kind watch.Kind, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	s, ok := p.subs[fd]
	if !ok {
		if !on {
			return nil
		}
		s = &subscription{nodes: make(map[watch.Node]watch.Interest)}
	}

	cur := s.nodes[node]
	next := cur.With(kind, on)
	if next == cur {
		return nil
	}

	if next == watch.InterestNone {
		delete(s.nodes, node)
	} else {
		s.nodes[node] = next
	}

	err := p.install(fd, s, !on)
	if err != nil && on {
		// roll back the node's entry
		if cur == watch.InterestNone {
			delete(s.nodes, node)
		} else {
			s.nodes[node] = cur
		}
	}

	if len(s.nodes) == 0 {
		delete(p.subs, fd)
	} else {
		p.subs[fd] = s
	}
	return err
}

// install brings the kernel registration of fd in line with the union of s. A
// registration the kernel already dropped, because fd was closed or closed and
// reused, is installed afresh. A withdrawal whose registration is gone succeeds.
func (p *Poller) install(fd int, s *subscription, withdraw bool) error {
	want := s.union()
	if want == s.installed {
		return nil
	}

	err := p.backend.update(fd, s.installed, want)
	if err != nil && s.installed != watch.InterestNone && registrationGone(err) {
		p.logger.Debug("kernel registration already gone",
			zap.Int("fd", fd), zap.Stringer("installed", s.installed), zap.Error(err))
		s.installed = watch.InterestNone
		if want == watch.InterestNone {
			return nil
		}
		if err = p.backend.update(fd, watch.InterestNone, want); err != nil && withdraw {
			// the remaining nodes watch a dead descriptor until they withdraw too
			p.logger.Warn("failed to reinstall interest after withdrawal",
				zap.Int("fd", fd), zap.Stringer("interest", want), zap.Error(err))
			return nil
		}
	}
	if err != nil {
		return err
	}

	p.logger.Debug("descriptor interest installed",
		zap.Int("fd", fd), zap.Stringer("from", s.installed), zap.Stringer("to", want))
	s.installed = want
	return nil
}

// Wait blocks until at least one watched descriptor is ready, the poller is woken,
// or timeout passes, and returns one event per (node, descriptor, kind) that is
// both ready and subscribed. A negative timeout waits forever.
func (p *Poller) Wait(timeout time.Duration) ([]watch.Event, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ready, err := p.backend.wait(timeout)
	if err != nil {
		return nil, fmt.Errorf("poll wait: %w", err)
	}
	if len(ready) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var events []watch.Event
	for _, r := range ready {
		s, ok := p.subs[r.fd]
		if !ok {
			continue
		}
		nodes := make([]watch.Node, 0, len(s.nodes))
		for n := range s.nodes {
			nodes = append(nodes, n)
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Less(nodes[j]) })

		for _, n := range nodes {
			want := s.nodes[n]
			for _, k := range watch.Kinds {
				if want.Has(k) && r.ready.Has(k) {
					events = append(events, watch.Event{Node: n, FD: r.fd, Kind: k})
				}
			}
		}
	}
	return events, nil
}

// Subscribed reports whether ev's node still watches ev's kind on ev's descriptor.
func (p *Poller) Subscribed(ev watch.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.subs[ev.FD]
	if !ok {
		return false
	}
	return s.nodes[ev.Node].Has(ev.Kind)
}

// Installed returns the interest currently installed in the kernel for fd.
func (p *Poller) Installed(fd int) watch.Interest {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.subs[fd]; ok {
		return s.installed
	}
	return watch.InterestNone
}

// Len returns the number of watched descriptors.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Wake interrupts a blocked Wait.
func (p *Poller) Wake() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	return p.backend.wake()
}

// Close releases the backend. Descriptors being watched are not closed; they
// belong to their handlers.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	p.closed = true
	if n := len(p.subs); n > 0 {
		p.logger.Debug("closing poller with descriptors still watched", zap.Int("count", n))
	}
	p.subs = make(map[int]*subscription)
	return p.backend.close()
}
