package dispatcher

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywing-dev/msplink/internal/transport"
	"github.com/skywing-dev/msplink/msp"
)

// rig wires a Dispatcher to a PipeTransport and hands back the peer ends a
// test drives directly: peerW injects "incoming" bytes (as if from the
// flight controller), peerR observes bytes the dispatcher wrote.
type rig struct {
	handle *Handle
	run    func(ctx context.Context) error
	peerR  interface{ Read([]byte) (int, error) }
	peerW  interface{ Write([]byte) (int, error) }
}

func newRig(t *testing.T, version msp.Version, timeout time.Duration, opts ...Option) (*rig, context.Context, context.CancelFunc) {
	t.Helper()
	tp, peerR, peerW := transport.NewPipeTransport()
	handle, d := New(tp, version, timeout, opts...)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &rig{handle: handle, peerR: peerR, peerW: peerW}, ctx, cancel
}

func readFrame(t *testing.T, r interface{ Read([]byte) (int, error) }) msp.Frame {
	t.Helper()
	p := msp.NewParser()
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		require.NoError(t, err)
		if n == 0 {
			continue
		}
		f, err := p.Feed(buf[0])
		require.NoError(t, err)
		if f != nil {
			return *f
		}
	}
}

// §8 "Dispatcher match": a single request is correlated to its response.
func TestDispatcher_MatchesResponse(t *testing.T) {
	r, _, _ := newRig(t, msp.V2, time.Second)

	respDone := make(chan struct{})
	go func() {
		wireFrame := readFrame(t, r.peerR)
		assert.Equal(t, uint16(42), wireFrame.Command)

		resp := msp.Frame{Command: 42, Direction: msp.Response, Payload: []byte{0x01}}
		buf, err := msp.AppendV2(resp)
		require.NoError(t, err)
		_, err = r.peerW.Write(buf)
		require.NoError(t, err)
		close(respDone)
	}()

	got, err := r.handle.Request(context.Background(), msp.Frame{Command: 42, Direction: msp.Request})
	require.NoError(t, err)
	assert.Equal(t, uint16(42), got.Command)
	assert.Equal(t, []byte{0x01}, got.Payload)
	<-respDone
}

// §8 "Dispatcher FIFO": two outstanding requests sharing a command code are
// paired with responses in submission order.
func TestDispatcher_FIFOCorrelation(t *testing.T) {
	r, _, _ := newRig(t, msp.V2, time.Second)

	type outcome struct {
		frame msp.Frame
		err   error
	}
	r1ch := make(chan outcome, 1)
	r2ch := make(chan outcome, 1)

	go func() {
		f, err := r.handle.Request(context.Background(), msp.Frame{Command: 7, Direction: msp.Request, Payload: []byte{0x01}})
		r1ch <- outcome{f, err}
	}()
	wireFrame1 := readFrame(t, r.peerR)
	require.Equal(t, uint16(7), wireFrame1.Command)

	go func() {
		f, err := r.handle.Request(context.Background(), msp.Frame{Command: 7, Direction: msp.Request, Payload: []byte{0x02}})
		r2ch <- outcome{f, err}
	}()
	wireFrame2 := readFrame(t, r.peerR)
	require.Equal(t, uint16(7), wireFrame2.Command)

	sendResponse := func(payload byte) {
		buf, err := msp.AppendV2(msp.Frame{Command: 7, Direction: msp.Response, Payload: []byte{payload}})
		require.NoError(t, err)
		_, err = r.peerW.Write(buf)
		require.NoError(t, err)
	}
	sendResponse(0xA1)
	sendResponse(0xA2)

	o1 := <-r1ch
	o2 := <-r2ch
	require.NoError(t, o1.err)
	require.NoError(t, o2.err)
	assert.Equal(t, []byte{0xA1}, o1.frame.Payload, "first submitted request must pair with first response")
	assert.Equal(t, []byte{0xA2}, o2.frame.Payload, "second submitted request must pair with second response")
}

// §8 "Dispatcher timeout": silence on the reader resolves the request with
// TimedOut once its deadline passes.
func TestDispatcher_Timeout(t *testing.T) {
	r, _, _ := newRig(t, msp.V2, 30*time.Millisecond, WithReaperInterval(10*time.Millisecond))
	// Drain the written request so the pipe write completes.
	go func() { _, _ = io.Copy(io.Discard, r.peerR) }()

	start := time.Now()
	_, err := r.handle.Request(context.Background(), msp.Frame{Command: 99})
	elapsed := time.Since(start)

	require.Error(t, err)
	var mspErr *msp.Error
	require.ErrorAs(t, err, &mspErr)
	assert.Equal(t, msp.KindTimedOut, mspErr.Kind)
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

// Unsolicited frames (no matching pending request) are silently dropped
// and never delivered to an unrelated caller.
func TestDispatcher_DropsUnsolicitedFrame(t *testing.T) {
	r, _, _ := newRig(t, msp.V2, time.Second)
	// Drain the written request so the pipe write completes.
	go func() { _, _ = io.Copy(io.Discard, r.peerR) }()

	buf, err := msp.AppendV2(msp.Frame{Command: 500, Direction: msp.Response})
	require.NoError(t, err)
	_, err = r.peerW.Write(buf)
	require.NoError(t, err)

	// No request was ever submitted for command 500; a late request for a
	// different command must not be satisfied by it.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.handle.Request(ctx, msp.Frame{Command: 999})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// A CRC error on the wire does not fail any pending request directly; the
// request instead times out naturally (§7).
func TestDispatcher_CRCErrorDoesNotFailPendingRequest(t *testing.T) {
	r, _, _ := newRig(t, msp.V2, 40*time.Millisecond, WithReaperInterval(10*time.Millisecond))

	go func() {
		_ = readFrame(t, r.peerR)
		buf, err := msp.AppendV2(msp.Frame{Command: 3, Direction: msp.Response})
		require.NoError(t, err)
		buf[len(buf)-1] ^= 0xFF // corrupt the checksum
		_, _ = r.peerW.Write(buf)
	}()

	_, err := r.handle.Request(context.Background(), msp.Frame{Command: 3, Direction: msp.Request})
	require.Error(t, err)
	var mspErr *msp.Error
	require.ErrorAs(t, err, &mspErr)
	assert.Equal(t, msp.KindTimedOut, mspErr.Kind, "a corrupted frame must surface as a timeout, not a direct failure")
}

// Closing the Handle cancels outstanding requests and causes Run to return.
func TestDispatcher_CloseCancelsPending(t *testing.T) {
	tp, peerR, _ := transport.NewPipeTransport()
	handle, d := New(tp, msp.V2, time.Hour)
	// Drain the written request so the pipe write completes.
	go func() { _, _ = io.Copy(io.Discard, peerR) }()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- d.Run(context.Background()) }()

	reqErrCh := make(chan error, 1)
	go func() {
		_, err := handle.Request(context.Background(), msp.Frame{Command: 1})
		reqErrCh <- err
	}()

	// Give the submission time to reach the pending queue before closing.
	time.Sleep(20 * time.Millisecond)
	handle.Close()

	err := <-reqErrCh
	require.ErrorIs(t, err, msp.ErrCancelled)

	runErr := <-runErrCh
	require.NoError(t, runErr)
}

// v1 serialization errors (payload or command too large) are surfaced to
// the caller immediately and never reach the wire.
func TestDispatcher_V1SerializeErrorSurfacesToCaller(t *testing.T) {
	r, _, _ := newRig(t, msp.V1, time.Second)

	_, err := r.handle.Request(context.Background(), msp.Frame{Command: 300})
	require.ErrorIs(t, err, msp.ErrPayloadTooLarge)
}

// ctx cancellation on the caller's side unblocks Request even while the
// dispatcher is otherwise healthy and the request remains pending.
func TestDispatcher_CallerContextCancellation(t *testing.T) {
	r, _, _ := newRig(t, msp.V2, time.Hour)
	// Drain the written request so the pipe write completes.
	go func() { _, _ = io.Copy(io.Discard, r.peerR) }()

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan error, 1)
	go func() {
		_, err := r.handle.Request(ctx, msp.Frame{Command: 1})
		doneCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-doneCh
	require.ErrorIs(t, err, context.Canceled)
}

// Handle.Stats reflects frames sent/received and pending depth as a cheap
// point-in-time snapshot, mirroring the request/response lifecycle.
func TestDispatcher_Stats(t *testing.T) {
	r, _, _ := newRig(t, msp.V2, time.Second)

	before := r.handle.Stats()
	assert.Equal(t, uint64(0), before.FramesSent)

	respDone := make(chan struct{})
	go func() {
		_ = readFrame(t, r.peerR)
		resp := msp.Frame{Command: 55, Direction: msp.Response}
		buf, err := msp.AppendV2(resp)
		require.NoError(t, err)
		_, err = r.peerW.Write(buf)
		require.NoError(t, err)
		close(respDone)
	}()

	_, err := r.handle.Request(context.Background(), msp.Frame{Command: 55, Direction: msp.Request})
	require.NoError(t, err)
	<-respDone

	require.Eventually(t, func() bool {
		s := r.handle.Stats()
		return s.FramesSent == 1 && s.FramesReceived == 1 && s.PendingDepth == 0
	}, time.Second, time.Millisecond, "stats did not converge")
}

// eofWriteTransport reads normally from an underlying pipe but fails every
// Write with io.EOF, simulating a peer that closed its read side.
type eofWriteTransport struct {
	*transport.PipeTransport
}

func (t *eofWriteTransport) Write([]byte) (int, error) { return 0, io.EOF }

// An unrecoverable write error (EOF) fails the writing request, fails every
// other pending request, and terminates Run rather than retrying writes
// against a dead transport (§7).
func TestDispatcher_UnrecoverableWriteErrorFailsAllPendingAndStops(t *testing.T) {
	tp, _, _ := transport.NewPipeTransport()
	handle, d := New(&eofWriteTransport{tp}, msp.V2, time.Hour)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- d.Run(context.Background()) }()

	_, err := handle.Request(context.Background(), msp.Frame{Command: 1})
	require.Error(t, err)
	var mspErr *msp.Error
	require.ErrorAs(t, err, &mspErr)
	assert.Equal(t, msp.KindTransport, mspErr.Kind)

	select {
	case runErr := <-runErrCh:
		require.ErrorIs(t, runErr, io.EOF, "Run must terminate with the unrecoverable write error")
	case <-time.After(time.Second):
		t.Fatal("Run did not terminate after an unrecoverable write error")
	}
}

// A transport read failure fails every pending request and terminates Run.
func TestDispatcher_ReadFailureFailsAllPending(t *testing.T) {
	tp, peerR, peerW := transport.NewPipeTransport()
	handle, d := New(tp, msp.V2, time.Hour)
	// Drain the written request so the pipe write completes.
	go func() { _, _ = io.Copy(io.Discard, peerR) }()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- d.Run(context.Background()) }()

	reqErrCh := make(chan error, 1)
	go func() {
		_, err := handle.Request(context.Background(), msp.Frame{Command: 1})
		reqErrCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, peerW.Close())

	err := <-reqErrCh
	require.Error(t, err)
	var mspErr *msp.Error
	require.ErrorAs(t, err, &mspErr)
	assert.Equal(t, msp.KindTransport, mspErr.Kind)

	runErr := <-runErrCh
	require.Error(t, runErr, "Run must terminate when the reader fails")
}
