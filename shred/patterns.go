package shred

import "crypto/rand"

// passPatterns is the DoD-5220.22-M style overwrite sequence: zeros,
// ones, two alternating-bit patterns, and two complex byte patterns.
// The final pass of any profile is always fresh random bytes.
var passPatterns = [][]byte{
	{0x00},
	{0xFF},
	{0x55},
	{0xAA},
	{0x92, 0x49, 0x24},
	{0x6D, 0xB6, 0xDB},
}

// passPattern returns the fill pattern for pass i of total. A nil
// return means the pass uses fresh random bytes.
func passPattern(i, total int) []byte {
	if i == total-1 {
		return nil
	}
	return passPatterns[i%len(passPatterns)]
}

// fillPattern fills buf with the given pattern as it appears at the
// given absolute file offset, so multi-byte patterns continue
// unbroken across chunk boundaries. A nil pattern means random bytes;
// if the system random source fails the buffer is zeroed instead, and
// an overwrite with zeros still destroys the previous content.
func fillPattern(buf, pattern []byte, offset int64) {
	if pattern == nil {
		if _, err := rand.Read(buf); err != nil {
			pattern = []byte{0x00}
		} else {
			return
		}
	}
	n := int64(len(pattern))
	for i := range buf {
		buf[i] = pattern[(offset+int64(i))%n]
	}
}
