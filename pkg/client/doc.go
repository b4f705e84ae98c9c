// Package client talks to a remote iiod.
//
// A Client is created over any byte stream that can read lines (TCP,
// serial, USB). It first tries to switch the connection to the binary
// protocol; if the daemon does not understand BINARY the client stays in
// the legacy text protocol, where only attributes, triggers and the
// OPEN/READBUF/WRITEBUF streaming commands are available.
//
// In binary mode every call maps onto one conversation of a
// responder.Responder: attribute, trigger and buffer management calls share
// the default conversation, every block and every event stream get their
// own so that their transfers can overlap.
//
// Client implements backend.Backend, which lets a daemon re-export a remote
// context.
package client
