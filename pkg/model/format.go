package model

import (
	"fmt"
	"strconv"
	"strings"
)

// DataFormat describes how one channel is stored in a sample.
type DataFormat struct {
	BigEndian bool
	Signed    bool

	// FullyDefined is set when the value is already in physical units
	// and needs no scaling.
	FullyDefined bool

	// Bits is the number of valid bits, Length the storage size in bits.
	Bits   uint
	Length uint

	// Repeat is the number of consecutive values per sample, at least 1.
	Repeat uint
	Shift  uint

	WithScale bool
	Scale     float64
}

// StorageBytes returns the size in bytes of one value.
func (f DataFormat) StorageBytes() int {
	return int(f.Length / 8)
}

// SampleBytes returns the size in bytes of all repeated values.
func (f DataFormat) SampleBytes() int {
	r := f.Repeat
	if r == 0 {
		r = 1
	}
	return f.StorageBytes() * int(r)
}

// String returns the scan-element format, e.g. "le:s12/16>>4".
func (f DataFormat) String() string {
	endian := 'l'
	if f.BigEndian {
		endian = 'b'
	}
	sign := 'u'
	if f.Signed {
		sign = 's'
	}
	if f.FullyDefined {
		sign -= 'a' - 'A'
	}
	repeat := ""
	if f.Repeat > 1 {
		repeat = fmt.Sprintf("X%d", f.Repeat)
	}
	return fmt.Sprintf("%ce:%c%d/%d%s>>%d", endian, sign, f.Bits, f.Length, repeat, f.Shift)
}

// ParseDataFormat parses a scan-element format string.
func ParseDataFormat(s string) (DataFormat, error) {
	var f DataFormat
	bad := fmt.Errorf("model: invalid data format %q", s)

	if len(s) < 4 || s[1:3] != "e:" {
		return f, bad
	}
	switch s[0] {
	case 'l':
	case 'b':
		f.BigEndian = true
	default:
		return f, bad
	}

	switch s[3] {
	case 'u':
	case 's':
		f.Signed = true
	case 'U':
		f.FullyDefined = true
	case 'S':
		f.Signed = true
		f.FullyDefined = true
	default:
		return f, bad
	}

	rest := s[4:]
	bitsStr, rest, ok := strings.Cut(rest, "/")
	if !ok {
		return f, bad
	}
	lenStr, shiftStr, ok := strings.Cut(rest, ">>")
	if !ok {
		return f, bad
	}

	f.Repeat = 1
	if l, r, found := strings.Cut(lenStr, "X"); found {
		n, err := strconv.ParseUint(r, 10, 32)
		if err != nil || n == 0 {
			return f, bad
		}
		f.Repeat = uint(n)
		lenStr = l
	}

	bits, err := strconv.ParseUint(bitsStr, 10, 32)
	if err != nil {
		return f, bad
	}
	length, err := strconv.ParseUint(lenStr, 10, 32)
	if err != nil || length == 0 || length%8 != 0 {
		return f, bad
	}
	shift, err := strconv.ParseUint(shiftStr, 10, 32)
	if err != nil {
		return f, bad
	}

	f.Bits = uint(bits)
	f.Length = uint(length)
	f.Shift = uint(shift)
	return f, nil
}
