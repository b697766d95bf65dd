// Package log provides structured protocol capture for OPDI sessions.
//
// This package defines the Logger interface and Event types for recording
// protocol events at several layers (transport lines, decoded channel
// messages, session state). It is separate from operational logging
// (slog): a capture is a complete machine-readable trace of a session
// that can be replayed with the opdi-log tool.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For field debugging: write a capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/opdi/master.olog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # File Format
//
// Capture files are a plain concatenation of CBOR-encoded events with
// integer keys, conventionally named with the .olog extension.
package log
