package msp

// parserState is the frame parser's internal state machine position. It is
// never exposed directly; callers only learn whether they are at a frame
// boundary (AtBoundary) or have just received a frame/error from Feed.
type parserState int

const (
	stateHeader1 parserState = iota
	stateHeader2
	stateDirection
	stateLenV1
	stateCmdV1
	stateDataV1
	stateFlagV2
	stateCmdV2Lo
	stateCmdV2Hi
	stateLenV2Lo
	stateLenV2Hi
	stateDataV2
	stateCRC
)

// Parser is a byte-fed MSP frame decoder. It owns all of its state; a
// Parser must never be shared between goroutines or reused across more
// than one byte stream at a time (§3, "ParserState").
//
// Feed one byte at a time. It never blocks and never looks ahead: a
// complete, valid frame is reported the instant its checksum byte arrives.
type Parser struct {
	state     parserState
	version   Version
	direction Direction
	command   uint16
	length    int
	remaining int
	payload   []byte

	crcV1  byte
	crcV2  byte
	loByte byte
}

// NewParser returns a Parser positioned at a frame boundary.
func NewParser() *Parser {
	return &Parser{state: stateHeader1}
}

// AtBoundary reports whether the parser is between frames — i.e. it has
// not yet committed to decoding one and any byte fed next may freely be
// junk (§3, §4.1 "Header1").
func (p *Parser) AtBoundary() bool {
	return p.state == stateHeader1
}

// Reset returns the parser to a freshly constructed state, discarding any
// partially decoded frame.
func (p *Parser) Reset() {
	*p = Parser{state: stateHeader1}
}

// Feed advances the state machine by one byte. It returns a non-nil *Frame
// exactly when that byte completed a valid frame, in which case the parser
// has already reset to stateHeader1 for the next frame. A non-nil error
// means the byte was rejected; the parser has also already reset, and no
// bytes are ever pushed back (§4.1).
func (p *Parser) Feed(b byte) (*Frame, error) {
	switch p.state {
	case stateHeader1:
		if b == '$' {
			p.state = stateHeader2
		}
		// Any other byte is silently discarded; this is the sole soft
		// transition and tolerates junk between frames (§4.1).
		return nil, nil

	case stateHeader2:
		v, ok := versionFromByte(b)
		if !ok {
			p.Reset()
			return nil, ErrInvalidHeader
		}
		p.version = v
		p.state = stateDirection
		return nil, nil

	case stateDirection:
		d, ok := directionFromByte(b)
		if !ok {
			p.Reset()
			return nil, ErrInvalidDirection
		}
		p.direction = d
		if p.version == V1 {
			p.state = stateLenV1
		} else {
			p.state = stateFlagV2
		}
		return nil, nil

	case stateLenV1:
		p.length = int(b)
		p.remaining = p.length
		p.payload = make([]byte, 0, p.length)
		p.crcV1 = crcV1Update(0, b)
		p.state = stateCmdV1
		return nil, nil

	case stateCmdV1:
		p.command = uint16(b)
		p.crcV1 = crcV1Update(p.crcV1, b)
		if p.remaining == 0 {
			p.state = stateCRC
		} else {
			p.state = stateDataV1
		}
		return nil, nil

	case stateDataV1:
		p.payload = append(p.payload, b)
		p.crcV1 = crcV1Update(p.crcV1, b)
		p.remaining--
		if p.remaining == 0 {
			p.state = stateCRC
		}
		return nil, nil

	case stateFlagV2:
		// Flag usage is undefined; write zero, accept anything on receive
		// (§9). Still digested into the CRC per the wire format.
		p.crcV2 = crc8DVBS2Update(0, b)
		p.state = stateCmdV2Lo
		return nil, nil

	case stateCmdV2Lo:
		p.loByte = b
		p.crcV2 = crc8DVBS2Update(p.crcV2, b)
		p.state = stateCmdV2Hi
		return nil, nil

	case stateCmdV2Hi:
		p.command = uint16(p.loByte) | uint16(b)<<8
		p.crcV2 = crc8DVBS2Update(p.crcV2, b)
		p.state = stateLenV2Lo
		return nil, nil

	case stateLenV2Lo:
		p.loByte = b
		p.crcV2 = crc8DVBS2Update(p.crcV2, b)
		p.state = stateLenV2Hi
		return nil, nil

	case stateLenV2Hi:
		p.length = int(p.loByte) | int(b)<<8
		p.remaining = p.length
		p.payload = make([]byte, 0, p.length)
		p.crcV2 = crc8DVBS2Update(p.crcV2, b)
		if p.remaining == 0 {
			p.state = stateCRC
		} else {
			p.state = stateDataV2
		}
		return nil, nil

	case stateDataV2:
		p.payload = append(p.payload, b)
		p.crcV2 = crc8DVBS2Update(p.crcV2, b)
		p.remaining--
		if p.remaining == 0 {
			p.state = stateCRC
		}
		return nil, nil

	case stateCRC:
		var calculated byte
		if p.version == V1 {
			calculated = p.crcV1
		} else {
			calculated = p.crcV2
		}
		if b != calculated {
			p.Reset()
			return nil, crcMismatchError(b, calculated)
		}
		frame := &Frame{
			Command:   p.command,
			Direction: p.direction,
			Payload:   p.payload,
		}
		p.Reset()
		return frame, nil

	default:
		// Unreachable: every declared state is handled above.
		p.Reset()
		return nil, ErrInvalidHeader
	}
}
