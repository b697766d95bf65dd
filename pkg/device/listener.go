package device

import (
	"github.com/leomeyer/OPDI-deprecated/pkg/protocol"
)

// Credentials authenticate the master to a device.
type Credentials = protocol.Credentials

// Listener receives connection lifecycle and control events for a device.
//
// Callbacks other than OnConnectionInitiated, OnConnectionAborted,
// OnConnectionOpened, OnConnectionFailed and GetCredentials may run on
// the device's reader goroutine and must not block on device I/O.
type Listener interface {
	// OnConnectionInitiated is called when Connect starts.
	OnConnectionInitiated(d *Device)

	// OnConnectionAborted is called when AbortConnect or context
	// cancellation stopped Connect.
	OnConnectionAborted(d *Device)

	// OnConnectionOpened is called once the session is bound and the
	// capabilities are loaded.
	OnConnectionOpened(d *Device)

	// OnConnectionFailed is called when Connect fails for any other reason.
	OnConnectionFailed(d *Device, err error)

	// OnConnectionClosed is called when an open session ends.
	OnConnectionClosed(d *Device)

	// OnConnectionError is called before OnConnectionClosed when the
	// session ended abnormally.
	OnConnectionError(d *Device, err error)

	// GetCredentials is asked for credentials when the device requires
	// authentication and none are stored. remember stores them on the
	// device; ok=false aborts the connection.
	GetCredentials(d *Device) (creds Credentials, remember, ok bool)

	OnDebug(d *Device, text string)
	OnDeviceError(d *Device, text string)
	OnReconfigure(d *Device)
	OnRefresh(d *Device, portIDs []string)
}

// NopListener ignores every event and denies credentials. Embed it to
// implement a subset of Listener.
type NopListener struct{}

func (NopListener) OnConnectionInitiated(*Device)     {}
func (NopListener) OnConnectionAborted(*Device)       {}
func (NopListener) OnConnectionOpened(*Device)        {}
func (NopListener) OnConnectionFailed(*Device, error) {}
func (NopListener) OnConnectionClosed(*Device)        {}
func (NopListener) OnConnectionError(*Device, error)  {}
func (NopListener) OnDebug(*Device, string)           {}
func (NopListener) OnDeviceError(*Device, string)     {}
func (NopListener) OnReconfigure(*Device)             {}
func (NopListener) OnRefresh(*Device, []string)       {}

func (NopListener) GetCredentials(*Device) (Credentials, bool, bool) {
	return Credentials{}, false, false
}

// listeners fans events out to several listeners in order. Credentials
// come from the first listener that supplies them.
type listeners []Listener

func (ls listeners) OnConnectionInitiated(d *Device) {
	for _, l := range ls {
		l.OnConnectionInitiated(d)
	}
}

func (ls listeners) OnConnectionAborted(d *Device) {
	for _, l := range ls {
		l.OnConnectionAborted(d)
	}
}

func (ls listeners) OnConnectionOpened(d *Device) {
	for _, l := range ls {
		l.OnConnectionOpened(d)
	}
}

func (ls listeners) OnConnectionFailed(d *Device, err error) {
	for _, l := range ls {
		l.OnConnectionFailed(d, err)
	}
}

func (ls listeners) OnConnectionClosed(d *Device) {
	for _, l := range ls {
		l.OnConnectionClosed(d)
	}
}

func (ls listeners) OnConnectionError(d *Device, err error) {
	for _, l := range ls {
		l.OnConnectionError(d, err)
	}
}

func (ls listeners) GetCredentials(d *Device) (Credentials, bool, bool) {
	for _, l := range ls {
		if creds, remember, ok := l.GetCredentials(d); ok {
			return creds, remember, true
		}
	}
	return Credentials{}, false, false
}

func (ls listeners) OnDebug(d *Device, text string) {
	for _, l := range ls {
		l.OnDebug(d, text)
	}
}

func (ls listeners) OnDeviceError(d *Device, text string) {
	for _, l := range ls {
		l.OnDeviceError(d, text)
	}
}

func (ls listeners) OnReconfigure(d *Device) {
	for _, l := range ls {
		l.OnReconfigure(d)
	}
}

func (ls listeners) OnRefresh(d *Device, portIDs []string) {
	for _, l := range ls {
		l.OnRefresh(d, portIDs)
	}
}

// events adapts a Listener to protocol.Events for one device.
type events struct {
	d *Device
	l Listener
}

func (e events) OnDebug(text string)        { e.l.OnDebug(e.d, text) }
func (e events) OnDeviceError(text string)  { e.l.OnDeviceError(e.d, text) }
func (e events) OnReconfigure()             { e.l.OnReconfigure(e.d) }
func (e events) OnRefresh(portIDs []string) { e.l.OnRefresh(e.d, portIDs) }
