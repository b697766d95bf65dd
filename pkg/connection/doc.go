// Package connection keeps an OPDI device connected.
//
// A Supervisor connects a device and, when the session is lost
// abnormally, reconnects it with exponential backoff:
//
//  1. The first retry waits Initial (default 1s).
//  2. Each further retry multiplies the delay by Multiplier (default 2).
//  3. The delay is capped at Max (default 60s).
//  4. A successful connect resets the delay to Initial.
//
// Each delay gets up to Jitter (default 25%) added so that masters
// restarted together do not retry in lockstep:
//
//	delay = base + random(0, base*jitter)
//
// Regular disconnects, a Dis from the device and aborted connects do not
// trigger a reconnect.
package connection
