package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDevice() *Device {
	s16 := DataFormat{Signed: true, Bits: 12, Length: 16, Repeat: 1, Shift: 4}
	ts := DataFormat{Signed: true, Bits: 64, Length: 64, Repeat: 1}
	d := &Device{
		ID:   "iio:device0",
		Name: "adc",
		Channels: []*Channel{
			{ID: "voltage0", ScanElement: true, Index: 0, Format: s16},
			{ID: "voltage1", ScanElement: true, Index: 1, Format: s16},
			{ID: "timestamp", ScanElement: true, Index: 2, Format: ts},
			{ID: "temp", Index: -1, Attrs: []Attr{{Name: "input"}}},
		},
		Attrs:       []Attr{{Name: "sampling_frequency"}},
		BufferAttrs: []Attr{{Name: "length"}},
	}
	for i, ch := range d.Channels {
		ch.Number = i
	}
	return d
}

func maskOf(d *Device, chans ...int) *ChannelMask {
	m := d.NewMask()
	for _, c := range chans {
		d.EnableChannel(m, c)
	}
	return m
}

func TestParseDataFormat(t *testing.T) {
	tests := []struct {
		in   string
		want DataFormat
	}{
		{"le:s12/16>>4", DataFormat{Signed: true, Bits: 12, Length: 16, Repeat: 1, Shift: 4}},
		{"be:u8/8>>0", DataFormat{BigEndian: true, Bits: 8, Length: 8, Repeat: 1}},
		{"le:S24/32X4>>0", DataFormat{Signed: true, FullyDefined: true, Bits: 24, Length: 32, Repeat: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDataFormat(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}

	for _, bad := range []string{"", "xe:s12/16>>0", "le:q12/16>>0", "le:s12>>0", "le:s12/12>>0", "le:s12/16"} {
		_, err := ParseDataFormat(bad)
		assert.Error(t, err, bad)
	}
}

func TestSampleSize(t *testing.T) {
	d := testDevice()

	tests := []struct {
		name  string
		chans []int
		want  int
	}{
		{"empty", nil, 0},
		{"one", []int{0}, 2},
		{"two", []int{0, 1}, 4},
		{"second only", []int{1}, 2},
		{"with timestamp", []int{0, 2}, 16},
		{"all", []int{0, 1, 2}, 16},
		{"non scan ignored", []int{3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.SampleSize(maskOf(d, tt.chans...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := d.SampleSize(NewChannelMask(64))
	assert.ErrorIs(t, err, ErrMaskSize)
}

func TestDemux(t *testing.T) {
	d := testDevice()
	union := maskOf(d, 0, 1)

	// Two samples: (a0, b0), (a1, b1).
	block := []byte{0xa0, 0x00, 0xb0, 0x00, 0xa1, 0x00, 0xb1, 0x00}

	onlyB, err := d.Demux(block, union, maskOf(d, 1))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xb0, 0x00, 0xb1, 0x00}, onlyB)

	same, err := d.Demux(block, union, union)
	require.NoError(t, err)
	assert.Equal(t, block, same)

	_, err = d.Demux(block, union, d.NewMask())
	assert.ErrorIs(t, err, ErrEmptyMask)
}

func TestDemuxPadding(t *testing.T) {
	d := testDevice()
	full := maskOf(d, 0, 1, 2)

	block := make([]byte, 16)
	block[0], block[2], block[8] = 1, 2, 3

	out, err := d.Demux(block, full, maskOf(d, 0, 2))
	require.NoError(t, err)
	require.Len(t, out, 16)
	assert.Equal(t, byte(1), out[0])
	assert.Equal(t, byte(0), out[2], "padding must be zero")
	assert.Equal(t, byte(3), out[8])
}

func TestMux(t *testing.T) {
	d := testDevice()
	union := maskOf(d, 0, 1)

	dst := make([]byte, 8)
	n, err := d.Mux(dst, union, []byte{0xb0, 0x00, 0xb1, 0x00}, maskOf(d, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0, 0, 0xb0, 0, 0, 0, 0xb1, 0}, dst)
}

func TestChannelMask(t *testing.T) {
	m := NewChannelMask(40)
	assert.Equal(t, 2, m.NbWords())
	assert.True(t, m.Empty())

	m.Set(0)
	m.Set(33)
	assert.True(t, m.Test(33))
	assert.False(t, m.Test(1))
	assert.False(t, m.Test(100))
	assert.Equal(t, "0000000200000001", m.String())

	o := NewChannelMask(40)
	o.Set(5)
	u := m.Clone()
	u.Or(o)
	assert.True(t, u.Contains(m))
	assert.True(t, u.Contains(o))
	assert.False(t, m.Contains(u))
	assert.False(t, u.Equal(m))

	m.Clear(0)
	assert.Equal(t, []uint32{0, 2}, m.Words())
	assert.True(t, MaskFromWords([]uint32{0, 2}).Equal(m))
}

func TestDeviceLookup(t *testing.T) {
	d := testDevice()
	d.Label = "front"
	ctx := &Context{Devices: []*Device{d, {ID: "trigger0", Name: "sysfstrig0"}}}
	ctx.Index()

	got, ok := ctx.FindDevice("front")
	require.True(t, ok)
	assert.Same(t, d, got)

	got, ok = ctx.FindDevice("sysfstrig0")
	require.True(t, ok)
	assert.Equal(t, 1, got.Index)
	assert.True(t, got.IsTrigger())

	_, ok = ctx.FindDevice("nope")
	assert.False(t, ok)

	ch, ok := d.FindChannel("voltage1", false)
	require.True(t, ok)
	assert.Equal(t, 1, ch.Number)
	_, ok = d.FindChannel("voltage1", true)
	assert.False(t, ok)

	assert.Equal(t, 0, d.FindAttr(AttrBuffer, "length"))
	assert.Equal(t, -1, d.FindAttr(AttrDebug, "length"))
	assert.Equal(t, 0, d.Channels[3].FindAttr("input"))
	assert.False(t, d.IsTx())
	assert.Nil(t, ctx.Device(5))
}

func TestCleanMask(t *testing.T) {
	d := testDevice()
	m := d.NewMask()
	m.Set(0)
	m.Set(3)

	clean := d.CleanMask(m)
	assert.True(t, clean.Test(0))
	assert.False(t, clean.Test(3))
}

func TestXMLRoundTrip(t *testing.T) {
	d := testDevice()
	d.Channels[0].Format.WithScale = true
	d.Channels[0].Format.Scale = 0.5
	out := &Device{
		ID: "iio:device1",
		Channels: []*Channel{
			{ID: "voltage0", Output: true, ScanElement: true, Index: 0,
				Format: DataFormat{Bits: 16, Length: 16, Repeat: 1}},
		},
		DebugAttrs: []Attr{{Name: "direct_reg_access"}},
	}
	ctx := &Context{
		Name:        "local",
		Description: "test context",
		Attrs:       []ContextAttr{{Name: "hw_model", Value: "sim"}},
		Devices:     []*Device{d, out},
	}
	ctx.Index()

	data, err := ctx.XML()
	require.NoError(t, err)
	assert.True(t, len(data) > len(XMLPrefix) && string(data[:len(XMLPrefix)]) == XMLPrefix)
	assert.Contains(t, string(data), `format="le:s12/16&gt;&gt;4"`)

	got, err := ParseXML(data)
	require.NoError(t, err)
	assert.Equal(t, ctx.Name, got.Name)
	assert.Equal(t, ctx.Description, got.Description)
	assert.Equal(t, ctx.Attrs, got.Attrs)
	require.Len(t, got.Devices, 2)

	gd := got.Devices[0]
	assert.Equal(t, "adc", gd.Name)
	require.Len(t, gd.Channels, 4)
	assert.Equal(t, d.Channels[0].Format, gd.Channels[0].Format)
	assert.False(t, gd.Channels[3].ScanElement)
	assert.Equal(t, -1, gd.Channels[3].Index)
	assert.Equal(t, d.BufferAttrs, gd.BufferAttrs)

	assert.True(t, got.Devices[1].IsTx())
	assert.Equal(t, 1, got.Devices[1].Index)
	assert.Equal(t, out.DebugAttrs, got.Devices[1].DebugAttrs)
}

func TestParseXMLInvalid(t *testing.T) {
	_, err := ParseXML([]byte("<context"))
	assert.Error(t, err)

	_, err = ParseXML([]byte(`<context name="x"><device id="d"><channel id="c" type="input"><scan-element index="0" format="bogus"/></channel></device></context>`))
	assert.Error(t, err)
}

func TestEvent(t *testing.T) {
	e := Event{ID: 0x0103_0002_0000_0005, Timestamp: -7}
	b, err := e.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, EventSize)

	var got Event
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, e, got)
	assert.Equal(t, uint8(1), got.Type())
	assert.Equal(t, uint8(3), got.Direction())
	assert.Equal(t, uint8(2), got.ChannelType())
	assert.Equal(t, int16(5), got.Channel())

	assert.Error(t, got.UnmarshalBinary(b[:8]))
}
