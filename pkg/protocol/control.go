package protocol

import (
	"strings"

	"github.com/leomeyer/OPDI-deprecated/pkg/log"
	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

// handleControl processes unsolicited control messages. It runs on the
// reader goroutine.
func (b *Basic) handleControl(msg wire.Message) {
	parts := msg.Parts()
	text := strings.Join(parts[1:], string(wire.Separator))

	switch parts[0] {
	case wire.Ping:
		b.capture.control(log.ControlMsgPing, "")

	case wire.Disconnect:
		b.capture.control(log.ControlMsgDisconnect, "")
		b.logger.Info("device closed the session")
		if b.state.CompareAndSwap(uint32(StateBound), uint32(StateTerminating)) {
			b.capture.state(StateBound, StateTerminating, "device disconnect")
		}
		b.router.Close(ErrDeviceDisconnected)

	case wire.Debug:
		b.capture.control(log.ControlMsgDebug, text)
		b.events.OnDebug(text)

	case wire.DeviceError:
		b.capture.control(log.ControlMsgError, text)
		b.logger.Warn("device reported an error", "text", text)
		b.events.OnDeviceError(text)

	case wire.Reconfigure:
		b.capture.control(log.ControlMsgReconfigure, "")
		b.reconfigure()
		b.events.OnReconfigure()

	case wire.Refresh:
		b.capture.control(log.ControlMsgRefresh, text)
		b.events.OnRefresh(b.refresh(parts[1:]))

	default:
		b.logger.Warn("ignoring unknown control message", "payload", msg.Payload)
	}
}

// reconfigure drops the capability cache and every streaming binding.
func (b *Basic) reconfigure() {
	b.mu.Lock()
	b.caps = nil
	b.capsGen++
	b.mu.Unlock()
	b.dispatcher.Reset()
}

// refresh refreshes the named ports, or all ports when ids holds no
// name, and returns the names.
func (b *Basic) refresh(ids []string) []string {
	var named []string
	for _, id := range ids {
		if id != "" {
			named = append(named, id)
		}
	}

	caps := b.cachedCapabilities()
	if caps == nil {
		return named
	}
	if len(named) == 0 {
		caps.Refresh()
		return named
	}
	for _, id := range named {
		if p, ok := caps.Find(id); ok {
			p.Refresh()
		} else {
			b.logger.Debug("refresh for unknown port", "port", id)
		}
	}
	return named
}
