// Package transport provides the line-oriented links an OPDI master uses
// to reach a device.
//
// A Transport opens a Stream for an address. A Stream reads and writes
// single lines: the terminator is stripped on read and appended on write.
// Physical links only need to supply a byte stream with read deadlines;
// LineStream turns any such connection into a Stream.
//
// # Links
//
//	┌────────────────────────────────┐
//	│   Messages (pkg/wire)          │
//	├────────────────────────────────┤
//	│   Lines ("\n" terminated)      │
//	├────────────────────────────────┤
//	│   TCP | serial | RFCOMM        │
//	└────────────────────────────────┘
//
// TCP and Linux serial ports are provided here. Bluetooth RFCOMM is left
// to the embedding application, which can wrap its socket with
// NewLineStream.
package transport
