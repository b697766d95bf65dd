// Package ports models the ports an OPDI device exposes.
//
// Each port kind (Digital, Analog, Select, Dial, Streaming) caches the
// state last reported by the device. Getters return the cache or load it
// with a single state request; setters validate locally, then send the
// request and cache the device's answer rather than the requested value.
// Refresh drops the cache so that the next getter reloads it.
//
// Ports never talk to the wire themselves. They call a Backend, which the
// protocol implementation provides.
package ports
