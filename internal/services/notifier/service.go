// Package notifier fans agent events out to the configured sinks.
package notifier

import (
	"context"
	"time"

	"github.com/fgeck/wol-power-agent/internal/metrics"
	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/rs/zerolog"
)

const (
	// DefaultQueueSize is the number of events buffered for the worker.
	DefaultQueueSize = 32

	// DefaultTimeout bounds a single delivery to a single sink.
	DefaultTimeout = 10 * time.Second
)

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev models.Event) error
}

// Dispatcher queues events and delivers them from a single worker, so
// callers never wait on a slow sink. Fatal restart events are the exception:
// they are delivered before Notify returns, since the process is about to go
// away.
type Dispatcher struct {
	sinks   []Sink
	queue   chan models.Event
	timeout time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a dispatcher. With no sinks every event is dropped silently.
func New(logger zerolog.Logger, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	return NewWithOptions(logger, m, DefaultQueueSize, DefaultTimeout, sinks...)
}

// NewWithOptions creates a dispatcher with a custom queue size and timeout (for testing).
func NewWithOptions(logger zerolog.Logger, m *metrics.Metrics, queueSize int, timeout time.Duration, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan models.Event, queueSize),
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// Notify queues ev for delivery. A full queue drops the event.
func (d *Dispatcher) Notify(ctx context.Context, ev models.Event) {
	if len(d.sinks) == 0 {
		return
	}

	if ev.Kind == models.EventFatalRestart {
		d.deliver(context.WithoutCancel(ctx), ev)
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.logger.Warn().Str("event", string(ev.Kind)).Msg("notification queue full, dropping event")
	}
}

// Run delivers queued events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev models.Event) {
	for _, sink := range d.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Deliver(sinkCtx, ev)
		cancel()

		d.metrics.Notification(sink.Name(), err == nil)
		if err != nil {
			d.logger.Warn().
				Err(err).
				Str("sink", sink.Name()).
				Str("event", string(ev.Kind)).
				Msg("failed to deliver notification")
			continue
		}
		d.logger.Debug().
			Str("sink", sink.Name()).
			Str("event", string(ev.Kind)).
			Msg("notification delivered")
	}
}
