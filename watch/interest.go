package watch

import (
	"fmt"

	"go.uber.org/zap"
)

// ReadInterestIs declares or withdraws h's interest in fd becoming readable.
func (r *Registry) ReadInterestIs(h Handler, fd int, interest bool) error {
	return r.interestIs(h, fd, Readable, interest)
}

// WriteInterestIs declares or withdraws h's interest in fd becoming writable.
func (r *Registry) WriteInterestIs(h Handler, fd int, interest bool) error {
	return r.interestIs(h, fd, Writable, interest)
}

// ExceptionInterestIs declares or withdraws h's interest in exceptional conditions on fd.
func (r *Registry) ExceptionInterestIs(h Handler, fd int, interest bool) error {
	return r.interestIs(h, fd, ExceptionPending, interest)
}

// InterestIs is the kind-parameterized form of the three operations above.
func (r *Registry) InterestIs(h Handler, fd int, kind Kind, interest bool) error {
	if kind > ExceptionPending {
		return fmt.Errorf("watch: unknown kind %d", kind)
	}
	return r.interestIs(h, fd, kind, interest)
}

func (r *Registry) interestIs(h Handler, fd int, kind Kind, interest bool) error {
	if fd < 0 {
		return fmt.Errorf("%w: %d", ErrBadDescriptor, fd)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	hs := r.stateOf("interest", h)
	d, created := hs.descriptorStateFor(fd)
	if created {
		r.logger.Debug("descriptor state created", zap.Stringer("node", hs.node), zap.Int("fd", fd))
	}

	if err := r.watcher.Watch(hs.node, fd, kind, interest); err != nil {
		// leave the flag as it was, but never keep an empty record around
		if d.quiet() {
			hs.deleteDescriptorState(fd)
		}
		return fmt.Errorf("watch %s on fd %d: %w", kind, fd, err)
	}
	d.set(kind, interest)

	if !interest {
		r.maybeCleanup(hs, fd)
	}
	return nil
}

// maybeCleanup deletes the record for fd once nothing is watched on it anymore.
// The record must exist: interestIs has just created or found it.
func (r *Registry) maybeCleanup(hs *HandlerState, fd int) {
	d, ok := hs.DescriptorState(fd)
	if !ok {
		r.fatal("cleanup", "%v has no descriptor state for fd %d", hs.node, fd)
	}
	if d.quiet() {
		hs.deleteDescriptorState(fd)
		r.logger.Debug("descriptor state deleted", zap.Stringer("node", hs.node), zap.Int("fd", fd))
	}
}
