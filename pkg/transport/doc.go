// Package transport provides the byte streams iiod runs on.
//
// Every link, whatever its medium, is wrapped in a Stream: a buffered
// reader and writer that can read legacy text lines, skip unwanted bytes
// and capture raw traffic for protocol logging. A Stream satisfies
// responder.Transport, so the same value serves the text interpreter and,
// after the BINARY upgrade, the binary responder.
//
// # Media
//
//   - TCP: Server accepts connections (default port 30431), Dial connects.
//   - Serial: OpenSerial opens a UART described as "/dev/ttyX[,baud[,8n1[x|r]]]".
//   - USB: FunctionFS exposes a number of bulk IN/OUT endpoint pairs on a
//     USB gadget; each opened pair is a Stream.
package transport
