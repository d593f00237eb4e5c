// Package supervisor restarts a dispatcher across transport failures. It
// sits outside the dispatcher's own goroutine (§5): the dispatcher itself
// has no retry logic, by design (§7, a transport read failure terminates
// Run outright) — reconnection is a policy decision layered above it.
package supervisor

import (
	"context"
	"time"

	"github.com/skywing-dev/msplink/dispatcher"
	"github.com/skywing-dev/msplink/internal/logging"
	"github.com/skywing-dev/msplink/internal/transport"
	"github.com/skywing-dev/msplink/msp"
)

// Reconnector owns a Transport factory and keeps a Dispatcher running over
// it, reopening the transport and rebuilding the Dispatcher whenever Run
// returns while ctx is still live (with an error, or nil after the Handle
// was closed). Grounded on internal/device.Manager's reconnect()
// (select on ctx.Done()/time.After(delay), bounded attempt count, re-enter
// the connect path on success).
type Reconnector struct {
	open           func() (transport.Transport, error)
	version        msp.Version
	defaultTimeout time.Duration
	delay          time.Duration
	maxAttempts    int // 0 = unlimited
	dispatcherOpts []dispatcher.Option
	onHandle       func(*dispatcher.Handle)
}

// Option configures a Reconnector.
type Option func(*Reconnector)

// WithMaxAttempts bounds the total number of connection attempts over the
// life of Run, successful connections included; the count never resets.
// 0 (default) means unlimited.
func WithMaxAttempts(n int) Option {
	return func(r *Reconnector) { r.maxAttempts = n }
}

// WithDispatcherOptions forwards options to every dispatcher.New call.
func WithDispatcherOptions(opts ...dispatcher.Option) Option {
	return func(r *Reconnector) { r.dispatcherOpts = opts }
}

// WithOnHandle registers a callback invoked with the new Handle every time
// a Dispatcher is (re)constructed, so callers can swap in the live handle
// they issue requests against.
func WithOnHandle(fn func(*dispatcher.Handle)) Option {
	return func(r *Reconnector) { r.onHandle = fn }
}

// New builds a Reconnector. open must return a fresh Transport each call
// (e.g. transport.NewSerialTransport(port, baud)). Run calls the
// transport's Open before use, which is a no-op if it is already open.
func New(open func() (transport.Transport, error), version msp.Version, defaultTimeout, delay time.Duration, opts ...Option) *Reconnector {
	r := &Reconnector{
		open:           open,
		version:        version,
		defaultTimeout: defaultTimeout,
		delay:          delay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run connects, drives a Dispatcher until it fails, and reconnects with a
// fixed delay between attempts, until ctx is cancelled or maxAttempts is
// exhausted. It returns the last connection error, or nil if ctx was
// cancelled.
func (r *Reconnector) Run(ctx context.Context) error {
	attempts := 0
	for {
		t, err := r.open()
		if err != nil {
			logging.L().Warn("supervisor_open_failed", "error", err)
		} else if err = t.Open(); err != nil {
			logging.L().Warn("supervisor_transport_open_failed", "error", err)
		} else {
			handle, d := dispatcher.New(t, r.version, r.defaultTimeout, r.dispatcherOpts...)
			if r.onHandle != nil {
				r.onHandle(handle)
			}
			logging.L().Info("supervisor_connected")
			err = d.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			logging.L().Warn("supervisor_dispatcher_exited", "error", err)
		}

		attempts++
		if r.maxAttempts > 0 && attempts >= r.maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.delay):
		}
	}
}
