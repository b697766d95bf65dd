// Package router multiplexes OPDI channels over a single stream.
//
// A Router owns the inbound side of a transport.Stream: one reader
// goroutine decodes every line and routes the message by channel.
// Messages on a channel with a waiting request go to that request's
// mailbox; messages on a channel bound to a streaming port go to the
// bound sink; remaining messages on the control channel go to the
// control handler; everything else is dropped with a warning.
//
// Exchange allocates a fresh channel for each request and releases it
// on every exit path, so a late response is never mistaken for the
// answer to a later request.
package router
