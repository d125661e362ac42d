package watch

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var ErrBadDescriptor = errors.New("watch: bad file descriptor")

// InvariantError reports a broken registry invariant. It is raised with panic: the registry
// is no longer consistent and dispatching on would reach destroyed state.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("watch: invariant violation in %s: %s", e.Op, e.Detail)
}

// IsInvariantViolation reports whether v, typically a recovered panic value, is an
// *InvariantError.
func IsInvariantViolation(v any) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	var ie *InvariantError
	return errors.As(err, &ie)
}

func (r *Registry) fatal(op, format string, args ...any) {
	err := &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
	r.logger.Error("registry invariant violated", zap.String("op", op), zap.Error(err))
	panic(err)
}
