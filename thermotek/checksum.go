package thermotek

// the chiller transmits checksums as two uppercase ASCII hex characters;
// encoding/hex emits lowercase
const hexdigits = "0123456789ABCDEF"

func hexEncodeByte(b byte) [2]byte {
	return [2]byte{
		hexdigits[b>>4],
		hexdigits[b&0x0f],
	}
}

// checksum computes the 8 bit summation checksum from the manual,
// the low byte of the sum of the message bytes as ASCII hex.
// The caller must ensure msg begins with SOC or SOR.
func checksum(msg []byte) [2]byte {
	var accumulator uint16
	for _, b := range msg {
		accumulator += uint16(b)
	}
	accumulator &= 0x00FF // kill off the upper byte
	return hexEncodeByte(byte(accumulator))
}
