package quad

import "encoding/binary"

// Size is the encoded size of one quad-duplicated u16 field.
const Size = 8

// Majority returns the value shared by at least two of the four candidates.
// The candidates are checked pairwise in a fixed order, so with two disjoint
// agreeing pairs the first pair wins. ok is false when all four differ.
func Majority(a, b, c, d uint16) (v uint16, ok bool) {
	switch {
	case a == b, a == c, a == d:
		return a, true
	case b == c, b == d:
		return b, true
	case c == d:
		return c, true
	}
	return 0, false
}

// Put writes v four times into dst[:Size].
func Put(dst []byte, v uint16) {
	_ = dst[Size-1]
	for i := 0; i < Size; i += 2 {
		binary.BigEndian.PutUint16(dst[i:], v)
	}
}

// Decode majority-votes the four copies stored in src[:Size].
func Decode(src []byte) (uint16, bool) {
	_ = src[Size-1]
	return Majority(
		binary.BigEndian.Uint16(src[0:]),
		binary.BigEndian.Uint16(src[2:]),
		binary.BigEndian.Uint16(src[4:]),
		binary.BigEndian.Uint16(src[6:]),
	)
}
