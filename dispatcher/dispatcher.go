// Package dispatcher implements the async request/response multiplexer
// described in §4.4: a single background goroutine owns the transport
// reader, the transport writer, the frame parser and the pending-request
// queue, and correlates incoming frames to outstanding requests by command
// code, in FIFO order, with per-request timeouts.
package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skywing-dev/msplink/internal/logging"
	"github.com/skywing-dev/msplink/internal/transport"
	"github.com/skywing-dev/msplink/msp"
)

// result is what a delivery channel carries: exactly one of a matched
// Frame or an Error, never both.
type result struct {
	frame msp.Frame
	err   error
}

// submission is what Handle.Request sends across the submission channel.
type submission struct {
	frame    msp.Frame
	delivery chan result
}

// pendingRequest is an in-flight request awaiting correlation (§3).
type pendingRequest struct {
	command  uint16
	deadline time.Time
	delivery chan result
}

// Observer receives dispatcher lifecycle events, for metrics or logging.
// All methods must return promptly: they are called from the dispatcher's
// single goroutine and block the whole loop while running.
type Observer interface {
	FrameSent()
	FrameReceived()
	FrameDelivered()
	FrameDropped()
	ParseError(kind string)
	RequestTimedOut()
	RequestCancelled()
	PendingDepthChanged(n int)
}

type noopObserver struct{}

func (noopObserver) FrameSent()              {}
func (noopObserver) FrameReceived()          {}
func (noopObserver) FrameDelivered()         {}
func (noopObserver) FrameDropped()           {}
func (noopObserver) ParseError(string)       {}
func (noopObserver) RequestTimedOut()        {}
func (noopObserver) RequestCancelled()       {}
func (noopObserver) PendingDepthChanged(int) {}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithObserver attaches an Observer. A nil Observer leaves the default
// no-op observer in place.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithLogger overrides the logger used for non-fatal parse/transport
// events. Defaults to logging.L().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithReaperInterval overrides the periodic timeout-sweep tick (§4.4,
// "periodic timer tick (interval ≤ shortest pending deadline)"). Defaults
// to defaultTimeout/4, clamped to [10ms, 1s].
func WithReaperInterval(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.reaperInterval = d }
}

// Dispatcher owns the transport, the parser and the pending-request queue
// for the lifetime of one Run call. It must not be used from more than one
// goroutine concurrently; all synchronization happens through its channels.
type Dispatcher struct {
	transport      transport.Transport
	version        msp.Version
	defaultTimeout time.Duration
	reaperInterval time.Duration

	submissions chan submission
	closed      chan struct{}
	closeOnce   sync.Once

	observer Observer
	logger   *slog.Logger

	stats localStats
}

// localStats mirrors the cheap, non-Prometheus local-counter snapshot the
// teacher's own metrics package keeps alongside its Prometheus counters:
// plain atomics updated from the single dispatcher goroutine, read from any
// goroutine via Handle.Stats.
type localStats struct {
	framesSent     uint64
	framesReceived uint64
	crcErrors      uint64
	pendingDepth   int64
}

// Stats is a point-in-time snapshot of dispatcher activity.
type Stats struct {
	PendingDepth   int
	FramesSent     uint64
	FramesReceived uint64
	CRCErrors      uint64
}

func (s *localStats) snap() Stats {
	return Stats{
		PendingDepth:   int(atomic.LoadInt64(&s.pendingDepth)),
		FramesSent:     atomic.LoadUint64(&s.framesSent),
		FramesReceived: atomic.LoadUint64(&s.framesReceived),
		CRCErrors:      atomic.LoadUint64(&s.crcErrors),
	}
}

// Handle is the caller-facing side of a Dispatcher: a submission channel
// and a close signal. Callers may share one Handle across goroutines.
type Handle struct {
	submissions chan<- submission
	closed      chan struct{}
	closeOnce   *sync.Once
	stats       *localStats
}

// Stats returns a cheap, point-in-time snapshot of dispatcher activity. Safe
// to call from any goroutine while Run is active.
func (h *Handle) Stats() Stats {
	return h.stats.snap()
}

// New constructs a Dispatcher and its Handle (§6, "new(reader, writer,
// version, default_timeout) → (Handle, RunFuture)"). The caller spawns the
// returned Run method on their own goroutine; this mirrors "caller spawns
// RunFuture on their executor" for a language without async/await.
func New(t transport.Transport, version msp.Version, defaultTimeout time.Duration, opts ...Option) (*Handle, *Dispatcher) {
	reaperInterval := defaultTimeout / 4
	if reaperInterval < 10*time.Millisecond {
		reaperInterval = 10 * time.Millisecond
	}
	if reaperInterval > time.Second {
		reaperInterval = time.Second
	}

	d := &Dispatcher{
		transport:      t,
		version:        version,
		defaultTimeout: defaultTimeout,
		reaperInterval: reaperInterval,
		submissions:    make(chan submission),
		closed:         make(chan struct{}),
		observer:       noopObserver{},
		logger:         logging.L(),
	}
	for _, opt := range opts {
		opt(d)
	}

	h := &Handle{
		submissions: d.submissions,
		closed:      d.closed,
		closeOnce:   &d.closeOnce,
		stats:       &d.stats,
	}
	return h, d
}

// Request submits frame and waits for a correlated response, a timeout, a
// transport failure, or ctx cancellation, whichever comes first (§4.4,
// "submission path").
func (h *Handle) Request(ctx context.Context, frame msp.Frame) (msp.Frame, error) {
	delivery := make(chan result, 1)
	sub := submission{frame: frame, delivery: delivery}

	select {
	case h.submissions <- sub:
	case <-h.closed:
		return msp.Frame{}, msp.ErrCancelled
	case <-ctx.Done():
		return msp.Frame{}, ctx.Err()
	}

	select {
	case r := <-delivery:
		return r.frame, r.err
	case <-h.closed:
		return msp.Frame{}, msp.ErrCancelled
	case <-ctx.Done():
		return msp.Frame{}, ctx.Err()
	}
}

// Close initiates orderly shutdown (§4.4, "Drop of Handle"): Run, once it
// observes the close signal, drains the pending queue with Cancelled and
// returns. Close is idempotent and safe to call from any goroutine.
func (h *Handle) Close() {
	h.closeOnce.Do(func() { close(h.closed) })
}

// Run drives the dispatcher's main loop until ctx is cancelled, the Handle
// is closed, or the transport reader fails (§4.4, "dispatcher main loop").
// It returns the terminating error, or nil on orderly shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	parser := msp.NewParser()
	pending := make([]*pendingRequest, 0, 16)

	chunkCh := make(chan []byte)
	readErrCh := make(chan error, 1)

	readCtx, cancelRead := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.readLoop(readCtx, chunkCh, readErrCh)
	}()

	ticker := time.NewTicker(d.reaperInterval)
	defer ticker.Stop()

	defer func() {
		cancelRead()
		_ = d.transport.Close()
		wg.Wait()
		for _, p := range pending {
			d.deliver(p, msp.Frame{}, msp.ErrCancelled)
			d.observer.RequestCancelled()
		}
		if len(pending) > 0 {
			d.setPendingDepth(0)
		}
	}()

	var runErr error
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			return runErr

		case <-d.closed:
			return nil

		case err := <-readErrCh:
			d.logger.Warn("msp_transport_read_failed", "error", err)
			for _, p := range pending {
				d.deliver(p, msp.Frame{}, msp.TransportError(err))
			}
			pending = pending[:0]
			return err

		case sub, ok := <-d.submissions:
			if !ok {
				return nil
			}
			var fatal error
			pending, fatal = d.handleSubmission(sub, pending)
			if fatal != nil {
				d.logger.Warn("msp_transport_write_unrecoverable", "error", fatal)
				for _, p := range pending {
					d.deliver(p, msp.Frame{}, msp.TransportError(fatal))
				}
				pending = pending[:0]
				return fatal
			}

		case chunk := <-chunkCh:
			pending = d.feedChunk(parser, chunk, pending)

		case <-ticker.C:
			pending = d.reapExpired(pending)
		}
	}
}

// readLoop reads from the transport in small chunks and forwards each
// non-empty read to chunkCh, exactly once per successful Read call, so
// the main loop can feed bytes to the parser without the reader goroutine
// blocking on channel backpressure mid-read (§5, "no suspension occurs
// between receiving a byte and advancing the parser by that byte").
func (d *Dispatcher) readLoop(ctx context.Context, chunkCh chan<- []byte, errCh chan<- error) {
	buf := make([]byte, 256)
	for {
		n, err := d.transport.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunkCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case errCh <- err:
			case <-ctx.Done():
			}
			return
		}
	}
}

// feedChunk advances the parser one byte at a time over chunk, handling
// each completed frame or parse error as it is produced.
func (d *Dispatcher) feedChunk(parser *msp.Parser, chunk []byte, pending []*pendingRequest) []*pendingRequest {
	for _, b := range chunk {
		frame, err := parser.Feed(b)
		if err != nil {
			d.observer.ParseError(errorKind(err))
			var mspErr *msp.Error
			if errors.As(err, &mspErr) && mspErr.Kind == msp.KindCRCMismatch {
				atomic.AddUint64(&d.stats.crcErrors, 1)
			}
			d.logger.Debug("msp_parse_error", "error", err)
			continue
		}
		if frame == nil {
			continue
		}
		atomic.AddUint64(&d.stats.framesReceived, 1)
		d.observer.FrameReceived()
		pending = d.reapExpired(pending)
		pending = d.correlate(*frame, pending)
	}
	return pending
}

// errorKind extracts the taxonomy Kind string from a parse error, falling
// back to "unknown" for anything that is not an *msp.Error.
func errorKind(err error) string {
	var mspErr *msp.Error
	if errors.As(err, &mspErr) {
		return mspErr.Kind.String()
	}
	return "unknown"
}

// handleSubmission serializes and writes one outgoing frame, then pushes
// it onto the tail of the pending queue (§4.4, "new submission").
// Serialization and write failures are delivered to the caller immediately
// and never enter the queue. A write error is also returned as fatal when
// it is classified as unrecoverable (§7, "minimally, EOF is unrecoverable"),
// telling Run to fail every other pending request and terminate rather than
// keep retrying writes against a dead transport.
func (d *Dispatcher) handleSubmission(sub submission, pending []*pendingRequest) ([]*pendingRequest, error) {
	buf, err := d.serialize(sub.frame)
	if err != nil {
		d.deliverResult(sub.delivery, msp.Frame{}, err)
		return pending, nil
	}

	if _, err := d.transport.Write(buf); err != nil {
		d.deliverResult(sub.delivery, msp.Frame{}, msp.TransportError(err))
		d.logger.Warn("msp_transport_write_failed", "error", err)
		if isUnrecoverableWriteErr(err) {
			return pending, err
		}
		return pending, nil
	}
	atomic.AddUint64(&d.stats.framesSent, 1)
	d.observer.FrameSent()

	pending = append(pending, &pendingRequest{
		command:  sub.frame.Command,
		deadline: time.Now().Add(d.defaultTimeout),
		delivery: sub.delivery,
	})
	d.setPendingDepth(len(pending))
	return pending, nil
}

// isUnrecoverableWriteErr reports whether a write failure means the
// transport is dead and Run should stop rather than keep accepting
// submissions it can no longer deliver (§7). EOF on a write means the peer
// closed its read side; every other write will fail the same way.
func isUnrecoverableWriteErr(err error) bool {
	return errors.Is(err, io.EOF)
}

// setPendingDepth updates both the Observer-visible depth and the cheap
// local snapshot counter in lockstep.
func (d *Dispatcher) setPendingDepth(n int) {
	atomic.StoreInt64(&d.stats.pendingDepth, int64(n))
	d.observer.PendingDepthChanged(n)
}

// serialize encodes frame per the dispatcher's configured wire version
// (§4.4, "version is a dispatcher configuration option").
func (d *Dispatcher) serialize(frame msp.Frame) ([]byte, error) {
	if d.version == msp.V1 {
		return msp.AppendV1(frame)
	}
	return msp.AppendV2(frame)
}

// correlate matches frame against the first pending request sharing its
// command code (§3, §4.4, §9 "head-reap + linear scan") and delivers it.
// An unmatched frame is unsolicited and silently dropped.
func (d *Dispatcher) correlate(frame msp.Frame, pending []*pendingRequest) []*pendingRequest {
	for i, p := range pending {
		if p.command == frame.Command {
			d.deliver(p, frame, nil)
			d.observer.FrameDelivered()
			pending = append(pending[:i:i], pending[i+1:]...)
			d.setPendingDepth(len(pending))
			return pending
		}
	}
	d.observer.FrameDropped()
	return pending
}

// reapExpired removes expired requests from the head of the queue,
// delivering TimedOut to each, and stops at the first non-expired head
// (§3, "Reaping is strictly from the head while the head is expired").
func (d *Dispatcher) reapExpired(pending []*pendingRequest) []*pendingRequest {
	now := time.Now()
	i := 0
	for i < len(pending) && !pending[i].deadline.After(now) {
		d.deliver(pending[i], msp.Frame{}, msp.ErrTimedOut)
		d.observer.RequestTimedOut()
		i++
	}
	if i == 0 {
		return pending
	}
	remaining := pending[i:]
	d.setPendingDepth(len(remaining))
	return remaining
}

func (d *Dispatcher) deliver(p *pendingRequest, frame msp.Frame, err error) {
	d.deliverResult(p.delivery, frame, err)
}

// deliverResult sends into a capacity-1 delivery channel without blocking.
// Each request receives at most one result, so the slot is free and the
// send succeeds even when the caller has stopped waiting; such a result is
// simply never read. The request leaves the queue at that delivery, as for
// any other request.
func (d *Dispatcher) deliverResult(ch chan result, frame msp.Frame, err error) {
	select {
	case ch <- result{frame: frame, err: err}:
	default:
	}
}
