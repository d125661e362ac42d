package watch

import (
	"fmt"
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Node refers to a HandlerState slot in the registry arena. A node stays valid for
// as long as the handler that owns it is registered. Once the slot is reused the
// generation differs and the old node no longer resolves.
type Node struct {
	slot uint32
	gen  uint32
}

func (n Node) IsZero() bool {
	return n.gen == 0
}

func (n Node) String() string {
	return fmt.Sprintf("node(%d#%d)", n.slot, n.gen)
}

// Less orders nodes by slot, then generation.
func (n Node) Less(o Node) bool {
	if n.slot != o.slot {
		return n.slot < o.slot
	}
	return n.gen < o.gen
}

type slot struct {
	gen     uint32
	handler Handler
	state   *HandlerState
}

// Registry tracks handlers, their descriptor states, and the interest each has
// declared. All entry points are serialized by a single mutex; callbacks run
// with the mutex released so they may call back into the registry.
type Registry struct {
	mu         sync.Mutex
	logger     *zap.Logger
	watcher    Watcher
	slots      []slot
	free       []uint32
	nodes      map[Handler]Node
	tombstones *lru.Cache[Node, string]
}

func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		logger:  o.logger,
		watcher: o.watcher,
		nodes:   make(map[Handler]Node),
	}
	if o.tombstones > 0 {
		// only fails on a non-positive size
		r.tombstones, _ = lru.New[Node, string](o.tombstones)
	}
	return r
}

// Register creates the HandlerState for h and returns its node.
func (r *Registry) Register(h Handler) Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == nil {
		r.fatal("register", "nil handler")
	}
	if !reflect.TypeOf(h).Comparable() {
		r.fatal("register", "handler type %T is not comparable", h)
	}
	if n, ok := r.nodes[h]; ok {
		r.fatal("register", "handler %T already registered at %v", h, n)
	}

	var idx uint32
	if k := len(r.free); k > 0 {
		idx = r.free[k-1]
		r.free = r.free[:k-1]
	} else {
		r.slots = append(r.slots, slot{})
		idx = uint32(len(r.slots) - 1)
	}

	s := &r.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen++
	}
	node := Node{slot: idx, gen: s.gen}
	s.state = newHandlerState(node)
	s.handler = h
	r.nodes[h] = node

	r.logger.Debug("handler registered", zap.Stringer("node", node), zap.String("handler", handlerType(h)))
	return node
}

// Unregister destroys the HandlerState of h. Interest still declared on any of its
// descriptors is withdrawn from the watcher first; the returned error collects
// whatever the watcher reported while doing so. The registry entries are removed
// regardless.
func (r *Registry) Unregister(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[h]
	if !ok {
		r.fatal("unregister", "handler %T is not registered", h)
	}
	s := &r.slots[node.slot]
	err := r.withdrawAll(s.state)

	s.handler = nil
	s.state = nil
	r.free = append(r.free, node.slot)
	delete(r.nodes, h)

	if r.tombstones != nil {
		r.tombstones.Add(node, handlerType(h))
	}
	if err != nil {
		r.logger.Warn("failed to withdraw interest on unregister", zap.Stringer("node", node), zap.Error(err))
	}
	r.logger.Debug("handler unregistered", zap.Stringer("node", node))
	return err
}

// withdrawAll stops watching everything hs still has interest in.
func (r *Registry) withdrawAll(hs *HandlerState) error {
	var errs error
	for _, fd := range hs.FDs() {
		d := hs.descriptors[fd]
		for _, k := range Kinds {
			if !d.interest.Has(k) {
				continue
			}
			if err := r.watcher.Watch(hs.node, fd, k, false); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("unwatch %s on fd %d: %w", k, fd, err))
			}
		}
		hs.deleteDescriptorState(fd)
	}
	return errs
}

// Resolve returns the handler owning node. A node that does not resolve is an
// invariant violation.
func (r *Registry) Resolve(node Node) Handler {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, _ := r.resolve("resolve", node)
	return h
}

// Lookup returns the node of h if h is registered.
func (r *Registry) Lookup(h Handler) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[h]
	return n, ok
}

func (r *Registry) resolve(op string, node Node) (Handler, *HandlerState) {
	if node.IsZero() || int(node.slot) >= len(r.slots) {
		r.fatal(op, "%v was never allocated", node)
	}
	s := &r.slots[node.slot]
	if s.gen != node.gen || s.handler == nil {
		if r.tombstones != nil {
			if owner, ok := r.tombstones.Peek(node); ok {
				r.fatal(op, "%v belonged to %s, which has been unregistered", node, owner)
			}
		}
		r.fatal(op, "%v has no live handler", node)
	}
	return s.handler, s.state
}

// stateOf returns the HandlerState of a registered handler.
func (r *Registry) stateOf(op string, h Handler) *HandlerState {
	node, ok := r.nodes[h]
	if !ok {
		r.fatal(op, "handler %T is not registered", h)
	}
	return r.slots[node.slot].state
}

// verify checks that the handler and node mappings are exact inverses.
func (r *Registry) verify() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := 0
	for i := range r.slots {
		s := &r.slots[i]
		if s.handler == nil {
			if s.state != nil {
				return fmt.Errorf("slot %d has state but no handler", i)
			}
			continue
		}
		live++
		n, ok := r.nodes[s.handler]
		if !ok {
			return fmt.Errorf("slot %d handler %T missing from node map", i, s.handler)
		}
		if n.slot != uint32(i) || n.gen != s.gen {
			return fmt.Errorf("slot %d handler maps to %v, want %d#%d", i, n, i, s.gen)
		}
		if s.state == nil || s.state.node != n {
			return fmt.Errorf("slot %d state does not point back at %v", i, n)
		}
	}
	if live != len(r.nodes) {
		return fmt.Errorf("%d live slots but %d mapped handlers", live, len(r.nodes))
	}
	return nil
}

func handlerType(h Handler) string {
	return fmt.Sprintf("%T", h)
}
