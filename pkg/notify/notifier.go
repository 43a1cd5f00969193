package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Notifier delivers a text alert to one external sink.
type Notifier interface {
	Name() string
	Send(ctx context.Context, message string) error
}

// NotifyError wraps a delivery failure of a single sink.
type NotifyError struct {
	Sink string
	Err  error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Sink, e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}

// ResultFunc observes the outcome of every delivery attempt.
type ResultFunc func(sink string, err error)

// Dispatcher fans a message out to every configured sink. Delivery is best-effort:
// failures are logged and never returned to the caller.
type Dispatcher struct {
	sinks    []Notifier
	logger   zerolog.Logger
	onResult ResultFunc
}

// NewDispatcher creates a Dispatcher. With no sinks Notify is a no-op.
func NewDispatcher(logger zerolog.Logger, sinks ...Notifier) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: logger}
}

// OnResult registers a callback invoked after every delivery attempt.
func (d *Dispatcher) OnResult(fn ResultFunc) {
	d.onResult = fn
}

// Enabled reports whether at least one sink is configured.
func (d *Dispatcher) Enabled() bool {
	return len(d.sinks) > 0
}

// Notify sends message to all sinks, swallowing errors.
func (d *Dispatcher) Notify(ctx context.Context, message string) {
	for _, sink := range d.sinks {
		err := sink.Send(ctx, message)
		if err != nil {
			var notifyErr *NotifyError
			if !errors.As(err, &notifyErr) {
				err = &NotifyError{Sink: sink.Name(), Err: err}
			}
			d.logger.Warn().Err(err).Str("sink", sink.Name()).Msg("Failed to deliver notification")
		} else {
			d.logger.Debug().Str("sink", sink.Name()).Msg("Notification delivered")
		}
		if d.onResult != nil {
			d.onResult(sink.Name(), err)
		}
	}
}
