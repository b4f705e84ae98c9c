package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackAttrs(t *testing.T) {
	vals := []AttrValue{
		{Data: []byte("1000")},
		{Code: ENOENT.Code()},
		{Data: []byte("ab")},
	}

	b := PackAttrs(vals)
	assert.Equal(t, []byte{
		0, 0, 0, 4, '1', '0', '0', '0',
		0xff, 0xff, 0xff, 0xfe,
		0, 0, 0, 2, 'a', 'b', 0, 0,
	}, b)

	got, err := UnpackAttrs(3, b)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []byte("1000"), got[0].Data)
	assert.Equal(t, int32(-2), got[1].Code)
	assert.Nil(t, got[1].Data)
	assert.Equal(t, []byte("ab"), got[2].Data)
}

func TestUnpackAttrsInvalid(t *testing.T) {
	tests := []struct {
		name string
		nb   int
		b    []byte
	}{
		{"short header", 1, []byte{0, 0}},
		{"length past end", 1, []byte{0, 0, 0, 8, 'a'}},
		{"trailing bytes", 1, []byte{0, 0, 0, 0, 1}},
		{"missing padding", 1, []byte{0, 0, 0, 2, 'a', 'b'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnpackAttrs(tt.nb, tt.b)
			assert.ErrorIs(t, err, EINVAL)
		})
	}
}
