// Package wire defines the line-oriented wire format of the Open Protocol
// for Device Interaction (OPDI).
//
// Every message occupies one newline-terminated line of UTF-8 text:
//
//	<channel>:<payload>
//	<checksum>:<channel>:<payload>     (checksums negotiated)
//
// The payload is a sequence of parts separated by ':'. Parts that contain
// ':' or '\' are escaped with a backslash; use JoinParts and SplitParts to
// build and dissect payloads.
//
// # Channels
//
// Channel 0 is the control channel used for the handshake, keepalive pings
// and disconnect. Channels above 0 are allocated by the master for
// in-flight requests, or bound permanently to streaming ports.
//
// # Checksums
//
// When enabled, the checksum is the unsigned 16-bit sum of all bytes from
// <channel> to the end of the payload, written as four uppercase hex digits.
package wire
