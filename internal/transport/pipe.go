package transport

import "io"

// PipeTransport is an in-process Transport backed by io.Pipe, used by the
// dispatcher's own tests and by callers who want to feed a synthetic byte
// stream (replay, fuzzing) without real hardware. It is always "open".
type PipeTransport struct {
	r *io.PipeReader
	w *io.PipeWriter
}

// NewPipeTransport returns a PipeTransport and the peer ends a test drives
// directly: writes to peerW arrive on Read, and Write is observed on peerR.
func NewPipeTransport() (t *PipeTransport, peerR *io.PipeReader, peerW *io.PipeWriter) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	return &PipeTransport{r: inR, w: outW}, outR, inW
}

// Open is a no-op; a PipeTransport is always open.
func (p *PipeTransport) Open() error { return nil }

// Close closes both pipe halves, unblocking any in-flight Read.
func (p *PipeTransport) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

// IsOpen always reports true.
func (p *PipeTransport) IsOpen() bool { return true }

// Read reads bytes written by the peer.
func (p *PipeTransport) Read(buf []byte) (int, error) {
	return p.r.Read(buf)
}

// Write sends bytes the peer can read.
func (p *PipeTransport) Write(buf []byte) (int, error) {
	return p.w.Write(buf)
}

// Type returns the transport type identifier.
func (p *PipeTransport) Type() string {
	return "pipe"
}
