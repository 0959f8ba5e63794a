package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemoryImage_Geometry(t *testing.T) {
	cases := []struct {
		name     string
		memSize  uint32
		pageSize uint32
		ok       bool
	}{
		{"default", MemSize, PageSize, true},
		{"small", 4096, 1024, true},
		{"zero page size", 4096, 0, false},
		{"zero mem size", 0, 1024, false},
		{"not a multiple", 4097, 1024, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img, err := NewMemoryImage(tc.memSize, tc.pageSize)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.memSize, img.MemSize())
				assert.Equal(t, tc.pageSize, img.PageSize())
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestMemoryImage_ReadsDefaultToZero(t *testing.T) {
	img := NewDefaultImage()
	w, err := img.ReadWord(0x1000)
	require.NoError(t, err)
	assert.Zero(t, w)
	b, err := img.ReadByte(0x1003)
	require.NoError(t, err)
	assert.Zero(t, b)
}

func TestMemoryImage_SeedAndRead(t *testing.T) {
	img := NewDefaultImage()
	require.NoError(t, img.SeedWord(0x100, 0xdeadbeef))
	w, err := img.ReadWord(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), w)

	b, err := img.ReadByte(0x100)
	require.NoError(t, err)
	assert.Equal(t, byte(0xef), b)

	h, err := img.ReadHalfword(0x102)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xdead), h)
}

func TestMemoryImage_Bounds(t *testing.T) {
	img := NewDefaultImage()
	_, err := img.ReadWord(MemSize)
	assert.Error(t, err)
	_, err = img.ReadWord(0x101)
	assert.Error(t, err, "misaligned")
	assert.Error(t, img.SeedWord(MemSize-2, 1))
}

func TestMemoryImage_CloneIsCopyOnWrite(t *testing.T) {
	img := NewDefaultImage()
	require.NoError(t, img.SeedWord(0x40, 0x11111111))

	clone := img.Clone()

	// Mutating the original must not leak into the clone.
	require.NoError(t, img.SeedWord(0x40, 0x22222222))
	w, err := clone.ReadWord(0x40)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11111111), w)

	// And the other way around.
	require.NoError(t, clone.SeedWord(0x44, 0x33333333))
	w, err = img.ReadWord(0x44)
	require.NoError(t, err)
	assert.Zero(t, w)
}

func TestMemoryImage_ComputeID(t *testing.T) {
	a := NewDefaultImage()
	b := NewDefaultImage()
	require.NoError(t, a.SeedWord(0x80, 42))
	require.NoError(t, b.SeedWord(0x80, 42))
	assert.Equal(t, a.ComputeID(), b.ComputeID())

	require.NoError(t, b.SeedWord(0x80, 43))
	assert.NotEqual(t, a.ComputeID(), b.ComputeID())
}

func TestMemoryImage_CloneSharesID(t *testing.T) {
	img := NewDefaultImage()
	require.NoError(t, img.SeedWord(0x80, 7))
	assert.Equal(t, img.ComputeID(), img.Clone().ComputeID())
}
