package watch

import (
	"github.com/fzft/go-fdwatch/log"
	"go.uber.org/zap"
)

// DefaultTombstones is how many unregistered nodes the registry remembers for
// diagnostics.
const DefaultTombstones = 256

type options struct {
	logger     *zap.Logger
	watcher    Watcher
	tombstones int
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithWatcher sets the polling mechanism interest changes are propagated to.
func WithWatcher(w Watcher) Option {
	return func(o *options) {
		o.watcher = w
	}
}

// WithTombstones bounds the cache of recently unregistered nodes. Zero or less
// disables it.
func WithTombstones(n int) Option {
	return func(o *options) {
		o.tombstones = n
	}
}

func defaultOptions() options {
	return options{
		logger:     log.Logger,
		watcher:    nopWatcher{},
		tombstones: DefaultTombstones,
	}
}
