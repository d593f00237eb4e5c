// Package msp implements the MultiWii Serial Protocol frame codec: a
// byte-fed parser and a symmetric serializer for both MSPv1 and MSPv2 wire
// revisions, plus the minimal payload boundary command-typed payloads are
// built on.
package msp

// maxPayloadV1 is the largest payload an MSPv1 frame can carry: the length
// field is a single byte.
const maxPayloadV1 = 255

// maxPayloadV2 is the largest payload an MSPv2 frame can carry: the length
// field is a 16-bit little-endian word.
const maxPayloadV2 = 65535

// Frame is the central decoded value: a command code, a direction and a
// payload. The zero value is a zero-length frame for command 0 whose
// Direction is the byte 0x00, which is none of the three wire directions:
// it serializes, but the parser rejects it with InvalidDirection.
type Frame struct {
	Command   uint16
	Direction Direction
	Payload   []byte
}

// SizeV1 returns the number of bytes SerializeV1 writes for this frame:
// header(3) + length(1) + command(1) + payload + crc(1).
func SizeV1(f Frame) int {
	return 6 + len(f.Payload)
}

// SizeV2 returns the number of bytes SerializeV2 writes for this frame:
// header(3) + flag(1) + command(2) + length(2) + payload + crc(1).
func SizeV2(f Frame) int {
	return 9 + len(f.Payload)
}
