package wordimage

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	image, entry, err := Load(strings.NewReader(
		"0x00500513\t# addi a0, x0, 5\n" +
			"\n" +
			"# a comment line\n" +
			"0x00000073\n",
	))
	require.NoError(t, err)
	assert.Equal(t, Entry, entry)

	w, err := image.ReadWord(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00500513), w)
	w, err = image.ReadWord(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00000073), w)
	w, err = image.ReadWord(8)
	require.NoError(t, err)
	assert.Zero(t, w)
}

func TestLoad_BadLine(t *testing.T) {
	_, _, err := Load(strings.NewReader("0x1\nnot-a-number\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestDumpLoadRoundTrip(t *testing.T) {
	words := []uint32{0x00500513, 0x00000073, 0xdeadbeef}
	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, words))

	image, _, err := Load(&buf)
	require.NoError(t, err)
	for i, want := range words {
		w, err := image.ReadWord(uint32(i * 4))
		require.NoError(t, err)
		assert.Equal(t, want, w)
	}
}
