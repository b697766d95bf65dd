package protocol

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leomeyer/OPDI-deprecated/internal/simdevice"
	"github.com/leomeyer/OPDI-deprecated/pkg/ports"
	"github.com/leomeyer/OPDI-deprecated/pkg/router"
	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

func TestCapabilitiesDeclaredList(t *testing.T) {
	sim, p := connect(t, simdevice.Config{Ports: testPorts()}, Config{}, nil)
	ctx := testContext(t)

	caps, err := p.Capabilities(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, caps.Len())
	for _, port := range caps.Ports() {
		ids = append(ids, port.ID())
	}
	assert.Equal(t, []string{"D1", "A1", "S1", "L1", "ST1"}, ids)

	d := caps.Digital()[0]
	assert.Equal(t, "LED", d.Name())
	assert.Equal(t, ports.DirectionBidi, d.Direction())
	assert.True(t, d.HasPullup())

	s := caps.Select()[0]
	assert.Equal(t, uint16(3), s.PosCount())

	l := caps.Dial()[0]
	assert.Equal(t, int32(0), l.Min())
	assert.Equal(t, int32(100), l.Max())
	assert.Equal(t, int32(5), l.Step())

	assert.Equal(t, "txt", caps.Streaming()[0].DriverID())

	again, err := p.Capabilities(ctx)
	require.NoError(t, err)
	assert.Same(t, caps, again)
	assert.Equal(t, 1, sim.Count(wire.GetCapabilities))

	found, err := p.FindPort(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, ports.KindAnalog, found.Kind())

	_, err = p.FindPort(ctx, "X9")
	assert.ErrorIs(t, err, ErrUnknownPort)
}

func TestCapabilitiesMismatch(t *testing.T) {
	tests := []struct {
		name  string
		magic string
		reply string
	}{
		{"odd capability list", wire.GetCapabilities, "DC:D1"},
		{"unknown port type", wire.GetCapabilities, "DC:D1:9"},
		{"duplicate port", wire.GetCapabilities, "DC:D1:0:D1:0"},
		{"info kind differs", wire.GetPortInfo, "AP:D1:LED:2:0"},
		{"info for other port", wire.GetPortInfo, "DP:D2:LED:2:0"},
		{"unknown direction", wire.GetPortInfo, "DP:D1:LED:7:0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, p := connect(t, simdevice.Config{Ports: testPorts()[:1]}, Config{}, nil)
			sim.Handle(tt.magic, func(wire.Message) (string, bool) { return tt.reply, true })

			_, err := p.Capabilities(testContext(t))
			assert.ErrorIs(t, err, wire.ErrProtocolMismatch)
		})
	}
}

func TestDigitalPortOverSession(t *testing.T) {
	sim, p := connect(t, simdevice.Config{Ports: testPorts()}, Config{}, nil)
	ctx := testContext(t)

	caps, err := p.Capabilities(ctx)
	require.NoError(t, err)
	d := caps.Digital()[0]

	require.NoError(t, d.SetLine(ctx, ports.LineHigh))
	state, ok := sim.Port("D1")
	require.True(t, ok)
	assert.Equal(t, 1, state.Line)

	require.NoError(t, d.SetMode(ctx, ports.ModeInputPullup))
	state, _ = sim.Port("D1")
	assert.Equal(t, 1, state.Mode)

	err = d.SetLine(ctx, ports.LineLow)
	assert.ErrorIs(t, err, ports.ErrInvalidArgument)
}

func TestDigitalModeRejectedWithoutIO(t *testing.T) {
	sim, p := connect(t, simdevice.Config{Ports: []simdevice.Port{
		{ID: "D1", Kind: ports.KindDigital, Direction: ports.DirectionBidi},
	}}, Config{}, nil)
	ctx := testContext(t)

	caps, err := p.Capabilities(ctx)
	require.NoError(t, err)
	before := len(sim.Requests())

	err = caps.Digital()[0].SetMode(ctx, ports.ModeInputPullup)
	assert.ErrorIs(t, err, ports.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "digital port has no pullup")
	assert.Len(t, sim.Requests(), before, "no bytes written")
}

func TestPortErrorAttached(t *testing.T) {
	sim, p := connect(t, simdevice.Config{Ports: testPorts()}, Config{}, nil)
	ctx := testContext(t)

	caps, err := p.Capabilities(ctx)
	require.NoError(t, err)
	d := caps.Digital()[0]

	calls := 0
	sim.Handle(wire.SetPortMode, func(req wire.Message) (string, bool) {
		calls++
		if calls == 1 {
			return "E:D1:2:busy", true
		}
		return "PM:D1:3", true
	})

	err = d.SetMode(ctx, ports.ModeOutput)
	require.ErrorIs(t, err, ports.ErrPortError)
	var pe *ports.PortError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, uint8(2), pe.Code)
	assert.Equal(t, "busy", pe.Message)
	require.NotNil(t, d.Err())
	assert.Equal(t, uint8(2), d.Err().Code)
	assert.Equal(t, "busy", d.Err().Message)

	assert.Equal(t, "sPM:D1:3", sim.Requests()[len(sim.Requests())-1].Payload)

	require.NoError(t, d.SetMode(ctx, ports.ModeOutput))
	assert.Nil(t, d.Err())
}

func TestAccessDenied(t *testing.T) {
	sim, p := connect(t, simdevice.Config{Ports: testPorts()}, Config{}, nil)
	ctx := testContext(t)

	caps, err := p.Capabilities(ctx)
	require.NoError(t, err)
	sim.Handle(wire.SetPosition, func(wire.Message) (string, bool) { return "EAD:S1:locked by operator", true })

	err = caps.Select()[0].SetPosition(ctx, 1)
	assert.ErrorIs(t, err, ports.ErrAccessDenied)
	var ad *ports.AccessDeniedError
	require.True(t, errors.As(err, &ad))
	assert.Equal(t, "locked by operator", ad.Reason)
	assert.Nil(t, caps.Select()[0].Err())
}

func TestReplyMismatch(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"wrong magic", "PL:D1:3:0"},
		{"wrong port", "PS:D2:3:0"},
		{"part count", "PS:D1:3"},
		{"unknown mode", "PS:D1:4:0"},
		{"not a number", "PS:D1:x:0"},
		{"malformed port error", "E:D1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, p := connect(t, simdevice.Config{Ports: testPorts()[:1]}, Config{}, nil)
			ctx := testContext(t)
			caps, err := p.Capabilities(ctx)
			require.NoError(t, err)
			sim.Handle(wire.GetPortState, func(wire.Message) (string, bool) { return tt.reply, true })

			_, err = caps.Digital()[0].Mode(ctx)
			assert.ErrorIs(t, err, wire.ErrProtocolMismatch)
			assert.Equal(t, StateBound, p.State(), "session continues")
		})
	}
}

func TestRequestTimeoutReleasesChannel(t *testing.T) {
	sim, p := connect(t, simdevice.Config{Ports: testPorts()}, Config{RequestTimeout: 100 * time.Millisecond}, nil)
	ctx := testContext(t)
	caps, err := p.Capabilities(ctx)
	require.NoError(t, err)
	a := caps.Analog()[0]

	sim.Silence(wire.GetPortState)
	_, err = a.Value(ctx)
	assert.ErrorIs(t, err, router.ErrTimeout)

	sim.Handle(wire.GetPortState, func(req wire.Message) (string, bool) { return "PS:A1:0:10:0:100", true })
	v, err := a.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(100), v)
}

func TestAnalogSelectDialOverSession(t *testing.T) {
	sim, p := connect(t, simdevice.Config{Ports: testPorts()}, Config{}, nil)
	ctx := testContext(t)
	caps, err := p.Capabilities(ctx)
	require.NoError(t, err)

	a := caps.Analog()[0]
	st, err := a.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, ports.AnalogState{Mode: ports.AnalogInput, Resolution: 10, Reference: ports.ReferenceInternal, Value: 512}, st)

	s := caps.Select()[0]
	labels, err := s.Labels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Off", "Slow", "Fast"}, labels)
	require.NoError(t, s.SetPosition(ctx, 2))
	pos, err := s.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), pos)

	l := caps.Dial()[0]
	require.NoError(t, l.SetPosition(ctx, 35))
	simL1, _ := sim.Port("L1")
	assert.Equal(t, int32(35), simL1.Position)
	assert.ErrorIs(t, l.SetPosition(ctx, 36), ports.ErrInvalidArgument)
}

func TestStreamingBindDeliverUnbind(t *testing.T) {
	sim, p := connect(t, simdevice.Config{Ports: testPorts()}, Config{}, nil)
	ctx := testContext(t)
	caps, err := p.Capabilities(ctx)
	require.NoError(t, err)
	st := caps.Streaming()[0]

	require.NoError(t, st.Bind(ctx))
	assert.Equal(t, uint32(7), st.Channel())

	for _, payload := range []string{"a", "b", "c"} {
		require.NoError(t, sim.PushRaw(7, payload))
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := st.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	require.NoError(t, st.Send("hello"))
	require.Eventually(t, func() bool {
		return len(sim.Streamed(7)) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"hello"}, sim.Streamed(7))

	require.NoError(t, st.Unbind(ctx))
	assert.False(t, st.Bound())
	require.NoError(t, sim.PushRaw(7, "d"))

	// A later exchange orders after the dropped message.
	_, err = caps.Digital()[0].Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Buffered())
	assert.ErrorIs(t, st.Send("x"), ports.ErrNotBound)
}

func TestStreamingDataRightAfterBindReply(t *testing.T) {
	tests := []struct {
		name    string
		channel func(req wire.Message) uint32
	}{
		{"assigned channel", func(wire.Message) uint32 { return 7 }},
		{"request channel", func(req wire.Message) uint32 { return req.Channel }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, p := connect(t, simdevice.Config{Ports: testPorts()}, Config{}, nil)
			ctx := testContext(t)
			caps, err := p.Capabilities(ctx)
			require.NoError(t, err)
			st := caps.Streaming()[0]

			var assigned atomic.Uint32
			sim.Handle(wire.BindStreaming, func(req wire.Message) (string, bool) {
				ch := tt.channel(req)
				assigned.Store(ch)
				sim.PushRaw(req.Channel, wire.JoinParts(wire.BindStreaming, "ST1", fmt.Sprint(ch)))
				sim.PushRaw(ch, "first")
				sim.PushRaw(ch, "second")
				return "", false
			})

			require.NoError(t, st.Bind(ctx))
			assert.Equal(t, assigned.Load(), st.Channel())
			for _, want := range []string{"first", "second"} {
				got, err := st.Receive(ctx)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestStreamingAutobind(t *testing.T) {
	dev := simdevice.Config{Ports: []simdevice.Port{
		{ID: "ST1", Kind: ports.KindStreaming, Direction: ports.DirectionBidi, Flags: ports.FlagAutobind, DriverID: "txt"},
		{ID: "ST2", Kind: ports.KindStreaming, Direction: ports.DirectionBidi},
	}}
	sim, p := connect(t, dev, Config{}, nil)

	caps, err := p.Capabilities(testContext(t))
	require.NoError(t, err)
	streams := caps.Streaming()
	assert.True(t, streams[0].Bound())
	assert.False(t, streams[1].Bound())
	assert.Equal(t, 1, sim.Count(wire.BindStreaming))
}

func TestStreamingDataWithTerminatorRejected(t *testing.T) {
	_, p := connect(t, simdevice.Config{Ports: testPorts()}, Config{}, nil)
	ctx := testContext(t)
	caps, err := p.Capabilities(ctx)
	require.NoError(t, err)
	st := caps.Streaming()[0]
	require.NoError(t, st.Bind(ctx))

	assert.ErrorIs(t, st.Send("two\nlines"), ports.ErrInvalidArgument)
}

func TestDisconnect(t *testing.T) {
	sim, p := connect(t, simdevice.Config{Ports: testPorts()}, Config{}, nil)
	ctx := testContext(t)
	caps, err := p.Capabilities(ctx)
	require.NoError(t, err)
	st := caps.Streaming()[0]
	require.NoError(t, st.Bind(ctx))

	sim.Silence(wire.GetPortState)
	pending := make(chan error, 1)
	go func() {
		_, err := caps.Analog()[0].Load(ctx)
		pending <- err
	}()
	for {
		m, err := sim.Next(time.Second)
		require.NoError(t, err)
		if m.Magic() == wire.GetPortState {
			break
		}
	}

	require.NoError(t, p.Disconnect())
	require.NoError(t, p.Disconnect(), "second disconnect is a no-op")

	select {
	case err := <-pending:
		assert.ErrorIs(t, err, router.ErrDisconnected)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not drained")
	}

	<-sim.Done()
	assert.Equal(t, 1, sim.Count(wire.Disconnect))
	require.Eventually(t, func() bool { return !st.Bound() }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return p.State() == StateClosed }, time.Second, 10*time.Millisecond)
}

func TestExtendedDeviceInfo(t *testing.T) {
	dev := simdevice.Config{Magic: MagicExtended, Info: map[string]string{"fw": "1.2", "name": "bench"}}
	_, p := connect(t, dev, Config{}, nil)

	assert.Equal(t, MagicExtended, p.Magic())
	informer, ok := p.(DeviceInformer)
	require.True(t, ok)

	info, err := informer.DeviceInfo(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"fw": "1.2", "name": "bench"}, info)
}

func TestExtendedDeviceInfoMalformed(t *testing.T) {
	sim, p := connect(t, simdevice.Config{Magic: MagicExtended}, Config{}, nil)
	sim.Handle(wire.GetDeviceInfo, func(wire.Message) (string, bool) { return "DI:novalue", true })

	_, err := p.(DeviceInformer).DeviceInfo(testContext(t))
	assert.ErrorIs(t, err, wire.ErrProtocolMismatch)
}
