package msp

// Payload is the minimal contract a command-typed payload must satisfy to
// ride inside a Frame (§4.3). The core never inspects payload content; it
// only needs the byte view, which keeps the frame codec independent of the
// ever-growing set of MSP command structs.
type Payload interface {
	// Encode returns the wire bytes for this payload.
	Encode() []byte
	// EncodedLen returns len(Encode()) without necessarily allocating.
	EncodedLen() int
}

// RawPayload is the identity payload: callers who just want the raw bytes
// of a frame, with no command-specific decoding, wrap them in RawPayload.
type RawPayload []byte

// Encode returns p itself; RawPayload never copies.
func (p RawPayload) Encode() []byte { return p }

// EncodedLen returns len(p).
func (p RawPayload) EncodedLen() int { return len(p) }

// FrameFor builds a Frame around an encoded Payload.
func FrameFor(cmd uint16, dir Direction, p Payload) Frame {
	return Frame{Command: cmd, Direction: dir, Payload: p.Encode()}
}
