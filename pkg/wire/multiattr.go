package wire

import "encoding/binary"

// AttrValue is one entry of a multi-attribute transfer. Code is the value
// length, or a negative error code for an attribute that failed.
type AttrValue struct {
	Code int32
	Data []byte
}

func align4(n int) int {
	return (n + 3) &^ 3
}

// PackAttrs encodes the values of all attributes of an object. Each entry
// is a big-endian int32 length followed by the value padded to 4 bytes.
func PackAttrs(vals []AttrValue) []byte {
	size := 0
	for _, v := range vals {
		size += 4
		if v.Code > 0 {
			size += align4(int(v.Code))
		}
	}

	b := make([]byte, 0, size)
	for _, v := range vals {
		code := v.Code
		if code >= 0 {
			code = int32(len(v.Data))
		}
		b = binary.BigEndian.AppendUint32(b, uint32(code))
		if code > 0 {
			b = append(b, v.Data...)
			b = append(b, make([]byte, align4(len(v.Data))-len(v.Data))...)
		}
	}
	return b
}

// UnpackAttrs decodes nb entries produced by PackAttrs. The buffer must be
// consumed exactly, otherwise EINVAL is returned.
func UnpackAttrs(nb int, b []byte) ([]AttrValue, error) {
	vals := make([]AttrValue, 0, nb)
	for i := 0; i < nb; i++ {
		if len(b) < 4 {
			return nil, EINVAL
		}
		code := int32(binary.BigEndian.Uint32(b))
		b = b[4:]

		v := AttrValue{Code: code}
		if code > 0 {
			if int(code) > len(b) {
				return nil, EINVAL
			}
			v.Data = b[:code]
			n := align4(int(code))
			if n > len(b) {
				return nil, EINVAL
			}
			b = b[n:]
		}
		vals = append(vals, v)
	}

	if len(b) != 0 {
		return nil, EINVAL
	}
	return vals, nil
}
