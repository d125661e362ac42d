package watch

import "go.uber.org/zap"

// Dispatch routes ev to the typed callback of the handler owning ev.Node. It reports
// whether a callback ran: an event for a kind the handler no longer watches on that
// descriptor is dropped. An event for a node without a live handler is an invariant
// violation.
//
// The callback runs without the registry lock held and may change interest itself.
func (r *Registry) Dispatch(ev Event) bool {
	h, ok := r.route(ev)
	if !ok {
		return false
	}

	switch ev.Kind {
	case Readable:
		h.OnReadable(ev.FD)
	case Writable:
		h.OnWritable(ev.FD)
	case ExceptionPending:
		h.OnException(ev.FD)
	}
	return true
}

func (r *Registry) route(ev Event) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Kind > ExceptionPending {
		r.fatal("dispatch", "unknown event kind %d for fd %d", ev.Kind, ev.FD)
	}
	h, hs := r.resolve("dispatch", ev.Node)

	d, ok := hs.DescriptorState(ev.FD)
	if !ok || !d.interest.Has(ev.Kind) {
		r.logger.Debug("dropping event for withdrawn interest",
			zap.Stringer("node", ev.Node), zap.Int("fd", ev.FD), zap.Stringer("kind", ev.Kind))
		return nil, false
	}
	return h, true
}
