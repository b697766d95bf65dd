// Package discovery finds OPDI devices on the local network via mDNS.
//
// Devices that support TCP announce the service type _opdi._tcp. The TXT
// record may carry the device name (name), the protocol magic (magic)
// and the protocol version (ver). A Browser reports each instance once,
// merging the addresses seen on several interfaces.
package discovery
