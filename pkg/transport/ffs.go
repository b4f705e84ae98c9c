package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// FunctionFS constants, from linux/usb/functionfs.h and linux/usb/ch9.h.
const (
	ffsDescriptorsMagicV2 = 3
	ffsStringsMagic       = 2

	ffsHasFSDesc = 1
	ffsHasHSDesc = 2
	ffsHasSSDesc = 4

	usbDTInterface   = 0x04
	usbDTEndpoint    = 0x05
	usbDTSSEPComp    = 0x30
	usbClassComm     = 0x02
	usbDirIn         = 0x80
	usbXferBulk      = 0x02
	usbLangEnglishUS = 0x0409

	// FFSEventSize is the size of one struct usb_functionfs_event.
	FFSEventSize = 12
)

// FunctionFS event types.
const (
	FFSEventBind = iota
	FFSEventUnbind
	FFSEventEnable
	FFSEventDisable
	FFSEventSetup
	FFSEventSuspend
	FFSEventResume
)

// Vendor requests the host sends on ep0 to manage pipes.
const (
	USBCmdResetPipes = 0
	USBCmdOpenPipe   = 1
	USBCmdClosePipe  = 2
)

// ErrShortEvent is returned when ep0 yields a truncated event.
var ErrShortEvent = errors.New("transport: short FunctionFS event")

// FFSEvent is one event read from ep0.
type FFSEvent struct {
	Type uint8

	// Setup request, valid for FFSEventSetup.
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// ParseFFSEvent decodes a struct usb_functionfs_event.
func ParseFFSEvent(b []byte) (FFSEvent, error) {
	if len(b) < FFSEventSize {
		return FFSEvent{}, ErrShortEvent
	}
	return FFSEvent{
		RequestType: b[0],
		Request:     b[1],
		Value:       binary.LittleEndian.Uint16(b[2:4]),
		Index:       binary.LittleEndian.Uint16(b[4:6]),
		Length:      binary.LittleEndian.Uint16(b[6:8]),
		Type:        b[8],
	}, nil
}

// FFSDescriptors builds the descriptor blob for nbPipes bulk IN/OUT
// endpoint pairs, in full, high and super speed variants.
func FFSDescriptors(nbPipes int) []byte {
	packetSizes := [3]uint16{64, 512, 1024}

	var body bytes.Buffer
	for speed, pkt := range packetSizes {
		body.Write([]byte{9, usbDTInterface, 0, 0, byte(nbPipes * 2), usbClassComm, 0, 0, 1})

		for pipe := 0; pipe < nbPipes; pipe++ {
			for _, dir := range []byte{usbDirIn, 0} {
				ep := []byte{7, usbDTEndpoint, byte(pipe+1) | dir, usbXferBulk, 0, 0, 0}
				binary.LittleEndian.PutUint16(ep[4:6], pkt)
				body.Write(ep)
				if speed == 2 {
					body.Write([]byte{6, usbDTSSEPComp, 0, 0, 0, 0})
				}
			}
		}
	}

	const headerSize = 24
	hdr := make([]byte, 0, headerSize+body.Len())
	hdr = binary.LittleEndian.AppendUint32(hdr, ffsDescriptorsMagicV2)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(headerSize+body.Len()))
	hdr = binary.LittleEndian.AppendUint32(hdr, ffsHasFSDesc|ffsHasHSDesc|ffsHasSSDesc)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(nbPipes*2+1))
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(nbPipes*2+1))
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(nbPipes*4+1))
	return append(hdr, body.Bytes()...)
}

// FFSStrings builds the strings blob naming the interface "IIO".
func FFSStrings() []byte {
	name := []byte("IIO\x00")
	size := 16 + 2 + len(name)

	b := make([]byte, 0, size)
	b = binary.LittleEndian.AppendUint32(b, ffsStringsMagic)
	b = binary.LittleEndian.AppendUint32(b, uint32(size))
	b = binary.LittleEndian.AppendUint32(b, 1) // str_count
	b = binary.LittleEndian.AppendUint32(b, 1) // lang_count
	b = binary.LittleEndian.AppendUint16(b, usbLangEnglishUS)
	return append(b, name...)
}

// FunctionFS is a USB gadget function exposing NbPipes bidirectional pipes.
type FunctionFS struct {
	mount   string
	nbPipes int
	ep0     *os.File
}

// OpenFunctionFS opens ep0 under mount and writes the descriptors.
func OpenFunctionFS(mount string, nbPipes int) (*FunctionFS, error) {
	if nbPipes <= 0 || nbPipes > 7 {
		return nil, fmt.Errorf("invalid number of USB pipes: %d", nbPipes)
	}

	ep0, err := os.OpenFile(filepath.Join(mount, "ep0"), os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open ep0: %w", err)
	}

	if _, err := ep0.Write(FFSDescriptors(nbPipes)); err != nil {
		ep0.Close()
		return nil, fmt.Errorf("failed to write descriptors: %w", err)
	}
	if _, err := ep0.Write(FFSStrings()); err != nil {
		ep0.Close()
		return nil, fmt.Errorf("failed to write strings: %w", err)
	}

	return &FunctionFS{mount: mount, nbPipes: nbPipes, ep0: ep0}, nil
}

// NbPipes returns the number of pipes.
func (f *FunctionFS) NbPipes() int {
	return f.nbPipes
}

// ReadEvent blocks until the host sends an event on ep0.
func (f *FunctionFS) ReadEvent() (FFSEvent, error) {
	var b [FFSEventSize]byte
	if _, err := io.ReadFull(f.ep0, b[:]); err != nil {
		return FFSEvent{}, err
	}
	return ParseFFSEvent(b[:])
}

// OpenPipe opens the endpoint pair of pipe id as a Stream.
func (f *FunctionFS) OpenPipe(id int) (*Stream, error) {
	if id < 0 || id >= f.nbPipes {
		return nil, fmt.Errorf("invalid USB pipe %d", id)
	}

	out, err := os.OpenFile(filepath.Join(f.mount, fmt.Sprintf("ep%d", id*2+1)), os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	in, err := os.OpenFile(filepath.Join(f.mount, fmt.Sprintf("ep%d", id*2+2)), os.O_RDONLY, 0)
	if err != nil {
		out.Close()
		return nil, err
	}

	return NewStream(&endpointPair{in: in, out: out}, fmt.Sprintf("usb:pipe%d", id)), nil
}

// ClearErrors reads zero bytes from ep0. This clears the endpoint errors
// left behind when pipes are closed.
func (f *FunctionFS) ClearErrors() {
	_, _ = unix.Read(int(f.ep0.Fd()), nil)
}

// Close closes ep0, which unblocks ReadEvent.
func (f *FunctionFS) Close() error {
	return f.ep0.Close()
}

type endpointPair struct {
	in, out *os.File
}

func (p *endpointPair) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *endpointPair) Write(b []byte) (int, error) { return p.out.Write(b) }

func (p *endpointPair) Close() error {
	return errors.Join(p.in.Close(), p.out.Close())
}
