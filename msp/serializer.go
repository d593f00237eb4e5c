package msp

import "encoding/binary"

// SerializeV1 writes the MSPv1 wire encoding of f into buf. buf must be
// exactly SizeV1(f) bytes; any other length is an OutputBufferSizeMismatch.
// v1 cannot carry a payload longer than 255 bytes or a command above 255
// (PayloadTooLarge) since both are single-byte fields on the wire (§4.2).
func SerializeV1(f Frame, buf []byte) error {
	if len(f.Payload) > maxPayloadV1 || f.Command > maxPayloadV1 {
		return ErrPayloadTooLarge
	}
	if len(buf) != SizeV1(f) {
		return ErrOutputBufferSizeMismatch
	}

	buf[0] = '$'
	buf[1] = byte(V1)
	buf[2] = f.Direction.Byte()
	buf[3] = byte(len(f.Payload))
	buf[4] = byte(f.Command)
	copy(buf[5:len(buf)-1], f.Payload)

	crc := crcV1Update(0, buf[3])
	crc = crcV1Update(crc, buf[4])
	for _, b := range f.Payload {
		crc = crcV1Update(crc, b)
	}
	buf[len(buf)-1] = crc
	return nil
}

// SerializeV2 writes the MSPv2 wire encoding of f into buf. buf must be
// exactly SizeV2(f) bytes. MSPv2 has no payload or command size
// restriction beyond the 16-bit length field (§4.2).
func SerializeV2(f Frame, buf []byte) error {
	if len(buf) != SizeV2(f) {
		return ErrOutputBufferSizeMismatch
	}

	buf[0] = '$'
	buf[1] = byte(V2)
	buf[2] = f.Direction.Byte()
	buf[3] = 0 // flag byte: usage undefined, always write zero (§9)
	binary.LittleEndian.PutUint16(buf[4:6], f.Command)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(f.Payload)))
	copy(buf[8:len(buf)-1], f.Payload)

	buf[len(buf)-1] = crc8DVBS2(buf[3 : len(buf)-1])
	return nil
}

// AppendV1 allocates a correctly sized buffer and serializes f as MSPv1.
func AppendV1(f Frame) ([]byte, error) {
	buf := make([]byte, SizeV1(f))
	if err := SerializeV1(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// AppendV2 allocates a correctly sized buffer and serializes f as MSPv2.
func AppendV2(f Frame) ([]byte, error) {
	buf := make([]byte, SizeV2(f))
	if err := SerializeV2(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
