// Package persistence stores OPDI device descriptors in a YAML file.
//
// The file holds the address, label, pre-shared key, transport kind and,
// when the user chose to remember them, the credentials of each device.
// The core packages never read it; applications load descriptors at
// startup and save them after the device list or credentials change.
package persistence
