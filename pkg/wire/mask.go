package wire

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// MaskWords returns the number of 32-bit words needed for nbChannels bits.
func MaskWords(nbChannels int) int {
	return (nbChannels + 31) / 32
}

// EncodeMask encodes channel mask words for a binary payload.
func EncodeMask(words []uint32) []byte {
	b := make([]byte, 0, len(words)*4)
	for _, w := range words {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return b
}

// DecodeMask decodes channel mask words from a binary payload.
func DecodeMask(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

// FormatMaskHex renders mask words for the text protocol: 8 hex digits per
// word, most significant word first.
func FormatMaskHex(words []uint32) string {
	var sb strings.Builder
	sb.Grow(len(words) * 8)
	for i := len(words) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%08x", words[i])
	}
	return sb.String()
}

// ParseMaskHex parses a text protocol mask of exactly nbWords words.
func ParseMaskHex(s string, nbWords int) ([]uint32, error) {
	if len(s) != nbWords*8 {
		return nil, EINVAL
	}

	words := make([]uint32, nbWords)
	for i := 0; i < nbWords; i++ {
		chunk := s[i*8 : i*8+8]
		v, err := strconv.ParseUint(chunk, 16, 32)
		if err != nil {
			return nil, EINVAL
		}
		words[nbWords-1-i] = uint32(v)
	}
	return words, nil
}
