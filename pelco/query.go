package pelco

// Position query opcodes and their reply opcodes. Heads that implement the
// query family report angles as hundredths of a degree in data1/data2.
const (
	QueryPan     = 0x51
	QueryTilt    = 0x53
	PanResponse  = 0x59
	TiltResponse = 0x5B
)

// QueryFrame builds a position query for the given axis opcode.
func QueryFrame(addr, opcode byte) []byte {
	frame, _ := BuildFrame(int(addr), 0, int(opcode), 0, 0)
	return frame
}

// ScanFrame searches buf for the first valid frame whose cmd2 byte matches
// want, skipping noise and replies to other queries. It returns the frame
// and the index just past it, or nil if no matching frame is present yet.
func ScanFrame(buf []byte, want byte) ([]byte, int) {
	for i := 0; i+FrameLen <= len(buf); i++ {
		if buf[i] != Sync {
			continue
		}
		cand := buf[i : i+FrameLen]
		if VerifyChecksum(cand) && cand[3] == want {
			return cand, i + FrameLen
		}
	}
	return nil, 0
}

// Centidegrees converts the two data bytes of a query reply to degrees.
func Centidegrees(high, low byte) float64 {
	return float64(uint16(high)<<8|uint16(low)) / 100
}
