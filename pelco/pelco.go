// Package pelco builds and validates Pelco-D frames for pan/tilt heads.
package pelco

import "errors"

const (
	// Sync is the fixed first byte of every frame.
	Sync = 0xFF
	// FrameLen is the fixed length of a Pelco-D frame.
	FrameLen = 7
)

// Direction bits for the cmd2 byte. Pan and tilt bits are ORed together
// when both axes move.
const (
	PanRight = 0x02
	PanLeft  = 0x04
	TiltUp   = 0x08
	TiltDown = 0x10
)

// ErrFieldRange is returned when a frame field does not fit in a byte.
var ErrFieldRange = errors.New("pelco: frame field out of byte range")

// BuildFrame assembles a 7-byte frame:
//
//	0xFF | address | cmd1 | cmd2 | data1 | data2 | checksum
//
// where checksum is the low byte of address+cmd1+cmd2+data1+data2.
func BuildFrame(addr, cmd1, cmd2, data1, data2 int) ([]byte, error) {
	for _, v := range []int{addr, cmd1, cmd2, data1, data2} {
		if v < 0 || v > 0xFF {
			return nil, ErrFieldRange
		}
	}
	sum := byte((addr + cmd1 + cmd2 + data1 + data2) % 256)
	return []byte{Sync, byte(addr), byte(cmd1), byte(cmd2), byte(data1), byte(data2), sum}, nil
}

// VerifyChecksum reports whether frame is a well-formed Pelco-D frame with
// a valid checksum.
func VerifyChecksum(frame []byte) bool {
	if len(frame) != FrameLen || frame[0] != Sync {
		return false
	}
	var sum byte
	for _, b := range frame[1:6] {
		sum += b
	}
	return sum == frame[6]
}

// MoveFrame builds a motion frame. cmd1 is always zero for this device
// class; data1 carries the pan speed and data2 the tilt speed, zero for an
// idle axis.
func MoveFrame(addr, cmd2, panSpeed, tiltSpeed byte) []byte {
	frame, _ := BuildFrame(int(addr), 0, int(cmd2), int(panSpeed), int(tiltSpeed))
	return frame
}

// StopFrame builds the all-zeroes frame that halts both axes.
func StopFrame(addr byte) []byte {
	frame, _ := BuildFrame(int(addr), 0, 0, 0, 0)
	return frame
}
