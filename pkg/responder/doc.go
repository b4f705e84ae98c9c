// Package responder multiplexes iiod commands and responses over a single
// duplex byte stream.
//
// Every frame starts with an 8-byte wire.Command header. Frames with the
// RESPONSE opcode are paired with the conversation (IO) that asked for
// them, matched by client ID in FIFO order; every other opcode is handed
// to the Handler. One reader goroutine decodes inbound frames and one
// writer task serializes outbound frames, so frames never interleave.
//
// Both ends of a connection run a Responder: the client drives
// conversations with ExecCommand or the async send/receive pairs, the
// daemon answers from its Handler.
package responder
