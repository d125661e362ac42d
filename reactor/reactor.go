package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/fzft/go-fdwatch/poll"
	"github.com/fzft/go-fdwatch/watch"
	"go.uber.org/zap"
)

var (
	ErrStopped = errors.New("reactor: stopped")
	ErrRunning = errors.New("reactor: already running")
)

// Reactor drives one registry from one goroutine: it waits on the poller, queues
// the readiness events it gets back, and dispatches them one at a time. Work from
// other goroutines is handed to the loop with Do.
type Reactor struct {
	registry *watch.Registry
	poller   *poll.Poller
	logger   *zap.Logger
	timeout  time.Duration

	pending *queue.Queue // of watch.Event, loop goroutine only

	mu       sync.Mutex
	tasks    []func()
	stopping bool

	running    atomic.Bool
	dispatched atomic.Uint64
	dropped    atomic.Uint64
	done       chan struct{}
}

// New creates a reactor with its own poller and registry.
func New(opts ...Option) (*Reactor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	poller, err := poll.New(o.maxEvents, poll.WithLogger(o.logger))
	if err != nil {
		o.logger.Error("failed to create poller", zap.Error(err))
		return nil, err
	}

	r := &Reactor{
		poller:  poller,
		logger:  o.logger,
		timeout: o.waitTimeout,
		pending: queue.New(),
		done:    make(chan struct{}),
	}
	r.registry = watch.NewRegistry(
		watch.WithWatcher(poller),
		watch.WithLogger(o.logger),
		watch.WithTombstones(o.tombstones),
	)
	return r, nil
}

// Registry returns the registry this reactor dispatches for. Outside of handler
// callbacks, use it through Do so that changes happen on the loop goroutine.
func (r *Reactor) Registry() *watch.Registry {
	return r.registry
}

// Run blocks running the event loop until ctx is cancelled or Stop is called.
// The poller is closed when Run returns.
func (r *Reactor) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(r.done)
	defer r.close()

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-stopWatch:
		}
	}()

	r.logger.Info("reactor running")
	for {
		r.runTasks()
		if r.isStopping() {
			return nil
		}

		events, err := r.poller.Wait(r.timeout)
		if err != nil {
			if r.isStopping() {
				return nil
			}
			r.logger.Error("poll wait error", zap.Error(err))
			return err
		}
		for _, ev := range events {
			r.pending.Add(ev)
		}
		r.drain()
	}
}

// drain dispatches queued events in order. An event whose subscription was
// withdrawn by an earlier callback in the same batch is skipped.
func (r *Reactor) drain() {
	for r.pending.Length() > 0 {
		ev := r.pending.Remove().(watch.Event)
		if !r.poller.Subscribed(ev) {
			r.dropped.Add(1)
			r.logger.Debug("skipping stale event",
				zap.Stringer("node", ev.Node), zap.Int("fd", ev.FD), zap.Stringer("kind", ev.Kind))
			continue
		}
		if r.registry.Dispatch(ev) {
			r.dispatched.Add(1)
		} else {
			r.dropped.Add(1)
		}
	}
}

// Do schedules fn to run on the loop goroutine between dispatches.
func (r *Reactor) Do(fn func()) error {
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		return ErrStopped
	}
	r.tasks = append(r.tasks, fn)
	r.mu.Unlock()

	if err := r.poller.Wake(); err != nil && !errors.Is(err, poll.ErrClosed) {
		return err
	}
	return nil
}

// DoWait runs fn on the loop goroutine and waits for it to finish.
func (r *Reactor) DoWait(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	if err := r.Do(func() { errCh <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-r.done:
		// the loop may have run fn right before exiting
		select {
		case err := <-errCh:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reactor) runTasks() {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.mu.Unlock()

	for _, fn := range tasks {
		fn()
	}
}

// Stop asks the loop to exit after the current batch.
func (r *Reactor) Stop() {
	r.mu.Lock()
	already := r.stopping
	r.stopping = true
	r.mu.Unlock()

	if !already {
		r.logger.Info("reactor stopping")
		_ = r.poller.Wake()
	}
}

// Done is closed once Run has returned.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

func (r *Reactor) isStopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

func (r *Reactor) close() {
	st := r.Stats()
	if err := r.poller.Close(); err != nil && !errors.Is(err, poll.ErrClosed) {
		r.logger.Warn("failed to close poller", zap.Error(err))
	}
	r.logger.Info("reactor closed",
		zap.Int("handlers", st.Registry.Handlers),
		zap.Uint64("dispatched", st.Dispatched),
		zap.Uint64("dropped", st.Dropped))
}

// Stats summarizes the reactor and its registry.
type Stats struct {
	Registry   watch.Stats
	Watched    int
	Dispatched uint64
	Dropped    uint64
}

func (r *Reactor) Stats() Stats {
	return Stats{
		Registry:   r.registry.Stats(),
		Watched:    r.poller.Len(),
		Dispatched: r.dispatched.Load(),
		Dropped:    r.dropped.Load(),
	}
}
