// Package device is the public entry point for talking to OPDI devices.
//
// A Device describes one remote device: its transport address, a label,
// optional credentials and an optional pre-shared key. Connect opens the
// transport, runs the handshake, binds the protocol and loads the port
// capabilities. Listener callbacks report the connection lifecycle and the
// device's unsolicited control messages.
//
// A Manager keeps a set of devices and fans events out to listeners
// registered for all devices or for a single device ID.
//
//	m := device.NewManager(device.DefaultConfig())
//	d, _ := m.Create(device.Descriptor{Address: "192.168.1.20:13110"})
//	if err := m.Connect(ctx, d, nil); err != nil {
//		return err
//	}
//	caps, _ := d.Capabilities(ctx)
package device
