package msp

import "fmt"

// Version identifies the wire revision of an MSP frame.
type Version byte

// Wire bytes for the second header field.
const (
	V1 Version = 'M'
	V2 Version = 'X'
)

func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return fmt.Sprintf("version(0x%02x)", byte(v))
	}
}

// versionFromByte validates the second header byte.
func versionFromByte(b byte) (Version, bool) {
	switch Version(b) {
	case V1, V2:
		return Version(b), true
	default:
		return 0, false
	}
}
