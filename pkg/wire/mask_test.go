package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskHex(t *testing.T) {
	words := []uint32{0x00000005, 0x80000000}
	s := FormatMaskHex(words)
	assert.Equal(t, "8000000000000005", s)

	got, err := ParseMaskHex(s, 2)
	require.NoError(t, err)
	assert.Equal(t, words, got)
}

func TestMaskHexInvalid(t *testing.T) {
	_, err := ParseMaskHex("0000003", 1)
	assert.ErrorIs(t, err, EINVAL)

	_, err = ParseMaskHex("0000000300000001", 1)
	assert.ErrorIs(t, err, EINVAL)

	_, err = ParseMaskHex("zzzzzzzz", 1)
	assert.ErrorIs(t, err, EINVAL)
}

func TestMaskBinary(t *testing.T) {
	words := []uint32{0x3, 0x1}
	b := EncodeMask(words)
	assert.Equal(t, []byte{3, 0, 0, 0, 1, 0, 0, 0}, b)
	assert.Equal(t, words, DecodeMask(b))
	assert.Equal(t, 1, MaskWords(32))
	assert.Equal(t, 2, MaskWords(33))
	assert.Equal(t, 0, MaskWords(0))
}
