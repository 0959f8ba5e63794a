// Package bigint256 implements the 256-bit modular multiply behind the
// BIGINT ecall, built on github.com/holiman/uint256 for the widening
// 256x256->512 multiply and reduction.
package bigint256

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"
)

// WidthWords is the width, in 32-bit little-endian words, of the
// operands and result.
const WidthWords = 8

// ErrOverflow is returned when n == 0 and x*y does not fit in 256
// bits.
var ErrOverflow = errors.New("bigint256: x*y overflows 256 bits with n=0")

// WordsToInt assembles a [8]uint32, little-endian-word encoded 256-bit
// integer (as loaded word-by-word from guest memory) into a uint256.Int.
func WordsToInt(words [WidthWords]uint32) *uint256.Int {
	var le [32]byte
	for i, w := range words {
		binary.LittleEndian.PutUint32(le[i*4:], w)
	}
	var be [32]byte
	for i := range be {
		be[i] = le[31-i]
	}
	z := new(uint256.Int)
	z.SetBytes32(be[:])
	return z
}

// IntToWords is the inverse of WordsToInt, used to store a result back
// as WidthWords little-endian 32-bit words.
func IntToWords(v *uint256.Int) [WidthWords]uint32 {
	be := v.Bytes32()
	var words [WidthWords]uint32
	for i := range words {
		var wb [4]byte
		for b := 0; b < 4; b++ {
			wb[b] = be[31-(i*4+b)]
		}
		words[i] = binary.LittleEndian.Uint32(wb[:])
	}
	return words
}

// MulMod computes z for the BIGINT ecall: if n is zero, z = x*y as an
// unchecked 256-bit product (ErrOverflow if it doesn't fit); otherwise
// z = (x*y) mod n, with the multiplication carried out at full 512-bit
// precision before reduction (uint256.Int.MulMod performs the widening
// multiply internally).
func MulMod(x, y, n *uint256.Int) (*uint256.Int, error) {
	if n.IsZero() {
		z, overflow := new(uint256.Int).MulOverflow(x, y)
		if overflow {
			return nil, ErrOverflow
		}
		return z, nil
	}
	z := new(uint256.Int).MulMod(x, y, n)
	return z, nil
}
