package reactor

import (
	"time"

	"github.com/fzft/go-fdwatch/log"
	"github.com/fzft/go-fdwatch/poll"
	"github.com/fzft/go-fdwatch/watch"
	"go.uber.org/zap"
)

type options struct {
	logger      *zap.Logger
	maxEvents   int
	tombstones  int
	waitTimeout time.Duration
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMaxEvents sets the initial kernel event buffer size.
func WithMaxEvents(n int) Option {
	return func(o *options) {
		o.maxEvents = n
	}
}

func WithTombstones(n int) Option {
	return func(o *options) {
		o.tombstones = n
	}
}

// WithWaitTimeout bounds each poll wait. Negative waits until an event or wakeup.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) {
		o.waitTimeout = d
	}
}

func defaultOptions() options {
	return options{
		logger:      log.Logger,
		maxEvents:   poll.DefaultMaxEvents,
		tombstones:  watch.DefaultTombstones,
		waitTimeout: -1,
	}
}
