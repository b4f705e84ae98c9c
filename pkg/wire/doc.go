// Package wire defines the iiod binary wire format.
//
// Every frame starts with an 8-byte command header, encoded little-endian:
//
//	offset 0  uint16  client ID (conversation)
//	offset 2  uint8   opcode
//	offset 3  uint8   device index
//	offset 4  int32   code
//
// The header is followed by an opcode-specific payload. For responses
// (OpResponse) the code is either a negative errno or the number of payload
// bytes that follow.
//
// A connection always starts in the legacy text protocol. A client switches
// to the binary protocol by sending the line "BINARY\r\n"; a server that
// supports it answers "0\r\n".
//
// # Error codes
//
// Errors travel on the wire as negated POSIX errno values. Errno maps them
// to Go errors. The numeric values follow Linux and are fixed by the
// protocol regardless of the host platform.
package wire
