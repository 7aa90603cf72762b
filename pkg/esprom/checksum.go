package esprom

// Checksum computes the XOR checksum carried in the frame header, seeded
// with ChecksumSeed. The ROM only verifies it on data commands, where the
// scope is the raw transfer bytes and never the 16-byte data header.
func Checksum(data []byte) uint32 {
	sum := byte(ChecksumSeed)
	for _, b := range data {
		sum ^= b
	}
	return uint32(sum)
}
