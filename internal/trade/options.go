package trade

import (
	"log/slog"
	"time"

	"github.com/ariefcatur/go-group-buy/internal/clock"
	"github.com/ariefcatur/go-group-buy/internal/redisx"
	"github.com/prometheus/client_golang/prometheus"
)

type options struct {
	clock          clock.Clock
	log            *slog.Logger
	metrics        *Metrics
	timeouts       TimeoutScheduler
	timeoutDelay   time.Duration
	notify         NotifySink
	blacklist      map[string]bool
	unpaidWindow   time.Duration
	releaseLockTTL time.Duration
	releaseTimeout time.Duration
}

type Option func(*options)

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

func WithMetrics(m *Metrics) Option { return func(o *options) { o.metrics = m } }

// WithTimeoutScheduler enables the deferred "still unpaid?" check after a lock.
func WithTimeoutScheduler(s TimeoutScheduler, delay time.Duration) Option {
	return func(o *options) {
		o.timeouts = s
		o.timeoutDelay = delay
	}
}

func WithNotifySink(n NotifySink) Option { return func(o *options) { o.notify = n } }

func WithChannelBlacklist(channels []string) Option {
	return func(o *options) {
		for _, c := range channels {
			o.blacklist[c] = true
		}
	}
}

// WithUnpaidRefundWindow bounds how long after creation a user may cancel an unpaid order.
func WithUnpaidRefundWindow(d time.Duration) Option { return func(o *options) { o.unpaidWindow = d } }

func WithReleaseLockTTL(d time.Duration) Option { return func(o *options) { o.releaseLockTTL = d } }

// WithReleaseTimeout bounds one composite release, which runs detached from
// the caller's cancellation.
func WithReleaseTimeout(d time.Duration) Option { return func(o *options) { o.releaseTimeout = d } }

func buildOptions(opts []Option) options {
	o := options{
		clock:          clock.NewSystem(),
		log:            slog.Default(),
		timeoutDelay:   15 * time.Minute,
		blacklist:      map[string]bool{},
		unpaidWindow:   30 * time.Minute,
		releaseLockTTL: redisx.TTLReleaseLock,
		releaseTimeout: 5 * time.Second,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return o
}
