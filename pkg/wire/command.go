package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// CommandSize is the size of an encoded Command header.
const CommandSize = 8

// BinaryHandshake is the legacy text command switching a connection to the
// binary protocol. It is exactly CommandSize bytes long, so a binary reader
// can recognise it in place of a header.
const BinaryHandshake = "BINARY\r\n"

// BinaryAck is the server's answer to BinaryHandshake.
const BinaryAck = "0\r\n"

// ErrShortCommand is returned when decoding fewer than CommandSize bytes.
var ErrShortCommand = errors.New("wire: short command header")

// Command is the header of every binary frame.
type Command struct {
	ClientID uint16
	Op       Op
	Dev      uint8
	Code     int32
}

// AppendBinary appends the encoded header to b.
func (c Command) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint16(b, c.ClientID)
	b = append(b, byte(c.Op), c.Dev)
	b = binary.LittleEndian.AppendUint32(b, uint32(c.Code))
	return b, nil
}

// MarshalBinary encodes the header.
func (c Command) MarshalBinary() ([]byte, error) {
	return c.AppendBinary(make([]byte, 0, CommandSize))
}

// UnmarshalBinary decodes a header from the first CommandSize bytes of b.
func (c *Command) UnmarshalBinary(b []byte) error {
	if len(b) < CommandSize {
		return ErrShortCommand
	}
	c.ClientID = binary.LittleEndian.Uint16(b[0:2])
	c.Op = Op(b[2])
	c.Dev = b[3]
	c.Code = int32(binary.LittleEndian.Uint32(b[4:8]))
	return nil
}

// IsBinaryHandshake reports whether a raw header is actually the legacy
// BINARY command.
func IsBinaryHandshake(b []byte) bool {
	return len(b) >= CommandSize && string(b[:CommandSize]) == BinaryHandshake
}

// String returns a human readable representation of the header.
func (c Command) String() string {
	return fmt.Sprintf("%s(client=%d dev=%d code=%d)", c.Op, c.ClientID, c.Dev, c.Code)
}

// AttrCode packs an attribute index and a channel or buffer index into a
// command code.
func AttrCode(attr, idx uint16) int32 {
	return int32(uint32(attr)<<16 | uint32(idx))
}

// SplitAttrCode is the inverse of AttrCode.
func SplitAttrCode(code int32) (attr, idx uint16) {
	return uint16(uint32(code) >> 16), uint16(uint32(code) & 0xffff)
}

// BlockCode packs a buffer index and a block index into a command code.
func BlockCode(buf, block uint16) int32 {
	return int32(uint32(block)<<16 | uint32(buf))
}

// SplitBlockCode is the inverse of BlockCode.
func SplitBlockCode(code int32) (buf, block uint16) {
	return uint16(uint32(code) & 0xffff), uint16(uint32(code) >> 16)
}

// PutUint64 encodes a length or size field of a binary payload.
func PutUint64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, 8), v)
}

// Uint64 decodes a length or size field of a binary payload.
func Uint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
