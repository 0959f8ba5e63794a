package bigint256

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordsToInt(t *testing.T) {
	// Little-endian words: value = 2 + 3*2^32.
	words := [WidthWords]uint32{2, 3}
	v := WordsToInt(words)
	want := new(uint256.Int).SetUint64(3)
	want.Lsh(want, 32)
	want.Add(want, uint256.NewInt(2))
	assert.Equal(t, want, v)
}

func TestWordsRoundTrip(t *testing.T) {
	words := [WidthWords]uint32{
		0x01020304, 0x05060708, 0x090a0b0c, 0x0d0e0f10,
		0x11121314, 0x15161718, 0x191a1b1c, 0x1d1e1f20,
	}
	assert.Equal(t, words, IntToWords(WordsToInt(words)))
}

func TestMulMod(t *testing.T) {
	cases := []struct {
		name    string
		x, y, n uint64
		want    uint64
	}{
		{"2*3 mod 5", 2, 3, 5, 1},
		{"7*8 mod 5", 7, 8, 5, 1},
		{"mod 1", 9, 9, 1, 0},
		{"plain product", 6, 7, 0, 42},
		{"identity", 12345, 1, 0, 12345},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			z, err := MulMod(
				uint256.NewInt(tc.x), uint256.NewInt(tc.y), uint256.NewInt(tc.n),
			)
			require.NoError(t, err)
			assert.Equal(t, uint256.NewInt(tc.want), z)
		})
	}
}

func TestMulMod_WideReduction(t *testing.T) {
	// x*y overflows 256 bits; the reduction must still be exact.
	x := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	y := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	n := uint256.NewInt(1000003)
	z, err := MulMod(x, y, n)
	require.NoError(t, err)

	// 2^300 mod 1000003, computed by repeated squaring on uint64s.
	want := uint64(1)
	base := uint64(2)
	for e := 300; e > 0; e >>= 1 {
		if e&1 == 1 {
			want = want * base % 1000003
		}
		base = base * base % 1000003
	}
	assert.Equal(t, uint256.NewInt(want), z)
}

func TestMulMod_OverflowWithoutModulus(t *testing.T) {
	x := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	y := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	_, err := MulMod(x, y, uint256.NewInt(0))
	assert.ErrorIs(t, err, ErrOverflow)
}
