// Package log provides structured protocol logging for iiod connections.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, wire, service).
// It is separate from operational logging (slog): protocol capture gives
// a machine-readable trace of every command header, legacy text line and
// session state change exchanged with a peer.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For field captures: write to a binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/iiod/session.ilog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(a, b)
//
// # Event Types
//
//   - Transport: raw bytes read or written (FrameEvent)
//   - Wire: binary command headers (CommandEvent) and legacy text lines (TextEvent)
//   - Service: session and buffer state changes (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// A capture file starts with a FileHeader record (magic "iiod-capture",
// format version, creating tool and host) followed by CBOR-encoded events
// with integer keys. FileLogger appends to existing files without a second
// header. Reader skips header records and iterates over the events with an
// optional Filter.
package log
