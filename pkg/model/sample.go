package model

// Slot locates one enabled channel inside a sample.
type Slot struct {
	Channel int
	Offset  int
	Size    int
}

// Layout is the placement of the enabled channels of a mask in a sample.
type Layout struct {
	Slots      []Slot
	SampleSize int
}

func alignUp(n, a int) int {
	if a <= 1 || n%a == 0 {
		return n
	}
	return n + a - n%a
}

// Layout computes the sample layout for mask. Channels sharing a scan
// index share their storage.
func (d *Device) Layout(mask *ChannelMask) (Layout, error) {
	var l Layout
	if mask.NbWords() != d.NbWords() {
		return l, ErrMaskSize
	}

	size, largest := 0, 1
	prevIndex, prevOffset := -1, 0
	for i, ch := range d.Channels {
		if !ch.ScanElement || ch.Index < 0 || !mask.Test(i) {
			continue
		}

		total := ch.Format.SampleBytes()
		if ch.Index == prevIndex {
			l.Slots = append(l.Slots, Slot{Channel: i, Offset: prevOffset, Size: total})
			continue
		}

		offset := alignUp(size, ch.Format.StorageBytes())
		l.Slots = append(l.Slots, Slot{Channel: i, Offset: offset, Size: total})
		prevIndex, prevOffset = ch.Index, offset

		size = offset + total
		if total > largest {
			largest = total
		}
	}

	l.SampleSize = alignUp(size, largest)
	return l, nil
}

// SampleSize returns the size in bytes of one sample with the channels of
// mask enabled.
func (d *Device) SampleSize(mask *ChannelMask) (int, error) {
	l, err := d.Layout(mask)
	if err != nil {
		return 0, err
	}
	return l.SampleSize, nil
}

func (l Layout) find(ch int) (Slot, bool) {
	for _, s := range l.Slots {
		if s.Channel == ch {
			return s, true
		}
	}
	return Slot{}, false
}

// Demux extracts the channels of dstMask from src, a block laid out for
// srcMask. Padding in the output is zeroed. Channels of dstMask missing
// from srcMask read as zero.
func (d *Device) Demux(src []byte, srcMask, dstMask *ChannelMask) ([]byte, error) {
	sl, err := d.Layout(srcMask)
	if err != nil {
		return nil, err
	}
	dl, err := d.Layout(dstMask)
	if err != nil {
		return nil, err
	}
	if sl.SampleSize == 0 || dl.SampleSize == 0 {
		return nil, ErrEmptyMask
	}

	n := len(src) / sl.SampleSize
	out := make([]byte, n*dl.SampleSize)
	for i := 0; i < n; i++ {
		in := src[i*sl.SampleSize:]
		o := out[i*dl.SampleSize:]
		for _, ds := range dl.Slots {
			ss, ok := sl.find(ds.Channel)
			if !ok {
				continue
			}
			copy(o[ds.Offset:ds.Offset+ds.Size], in[ss.Offset:ss.Offset+ss.Size])
		}
	}
	return out, nil
}

// Mux spreads src, samples laid out for srcMask, into dst, a block laid
// out for dstMask. Channels of dst that src does not carry are left
// untouched. It returns the number of samples written.
func (d *Device) Mux(dst []byte, dstMask *ChannelMask, src []byte, srcMask *ChannelMask) (int, error) {
	sl, err := d.Layout(srcMask)
	if err != nil {
		return 0, err
	}
	dl, err := d.Layout(dstMask)
	if err != nil {
		return 0, err
	}
	if sl.SampleSize == 0 || dl.SampleSize == 0 {
		return 0, ErrEmptyMask
	}

	n := min(len(src)/sl.SampleSize, len(dst)/dl.SampleSize)
	for i := 0; i < n; i++ {
		in := src[i*sl.SampleSize:]
		o := dst[i*dl.SampleSize:]
		for _, ss := range sl.Slots {
			ds, ok := dl.find(ss.Channel)
			if !ok {
				continue
			}
			copy(o[ds.Offset:ds.Offset+ds.Size], in[ss.Offset:ss.Offset+ss.Size])
		}
	}
	return n, nil
}
