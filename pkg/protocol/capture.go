package protocol

import (
	"strconv"
	"time"

	"github.com/leomeyer/OPDI-deprecated/pkg/log"
	"github.com/leomeyer/OPDI-deprecated/pkg/ports"
)

// Capture identifies the session in protocol capture events.
type Capture struct {
	Logger  log.Logger
	ConnID  string
	Address string
}

func (c Capture) event(category log.Category) log.Event {
	return log.Event{
		Timestamp:     time.Now(),
		ConnectionID:  c.ConnID,
		Direction:     log.DirectionIn,
		Layer:         log.LayerSession,
		Category:      category,
		DeviceAddress: c.Address,
	}
}

func (c Capture) state(old, next State, reason string) {
	if c.Logger == nil {
		return
	}
	ev := c.event(log.CategoryState)
	ev.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntitySession,
		OldState: old.String(),
		NewState: next.String(),
		Reason:   reason,
	}
	c.Logger.Log(ev)
}

func (c Capture) streaming(portID string, channel uint32, bound bool) {
	if c.Logger == nil {
		return
	}
	old, next := "BOUND", "UNBOUND"
	if bound {
		old, next = next, old
	}
	ev := c.event(log.CategoryState)
	ev.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityStreaming,
		OldState: old,
		NewState: next,
		Reason:   portID + " channel " + strconv.FormatUint(uint64(channel), 10),
	}
	c.Logger.Log(ev)
}

func (c Capture) control(typ log.ControlMsgType, text string) {
	if c.Logger == nil {
		return
	}
	ev := c.event(log.CategoryControl)
	ev.ControlMsg = &log.ControlMsgEvent{Type: typ, Text: text}
	c.Logger.Log(ev)
}

func (c Capture) portError(pe *ports.PortError, request string) {
	if c.Logger == nil {
		return
	}
	code := int(pe.Code)
	ev := c.event(log.CategoryError)
	ev.Error = &log.ErrorEventData{
		Layer:   log.LayerSession,
		Message: pe.Message,
		Code:    &code,
		Context: request,
	}
	c.Logger.Log(ev)
}
