package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leomeyer/OPDI-deprecated/internal/simdevice"
	"github.com/leomeyer/OPDI-deprecated/pkg/ports"
	"github.com/leomeyer/OPDI-deprecated/pkg/router"
)

// testPorts is the port set most session tests run against.
func testPorts() []simdevice.Port {
	return []simdevice.Port{
		{ID: "D1", Name: "LED", Kind: ports.KindDigital, Direction: ports.DirectionBidi, Flags: ports.FlagHasPullup, Mode: 3},
		{ID: "A1", Name: "Poti", Kind: ports.KindAnalog, Direction: ports.DirectionInput, Resolution: 10, Value: 512},
		{ID: "S1", Name: "Speed", Kind: ports.KindSelect, Direction: ports.DirectionOutput, Labels: []string{"Off", "Slow", "Fast"}},
		{ID: "L1", Name: "Volume", Kind: ports.KindDial, Direction: ports.DirectionOutput, Min: 0, Max: 100, Step: 5},
		{ID: "ST1", Name: "Console", Kind: ports.KindStreaming, Direction: ports.DirectionBidi, DriverID: "txt"},
	}
}

// recordingEvents records control events.
type recordingEvents struct {
	mu           sync.Mutex
	debug        []string
	errors       []string
	reconfigured int
	refreshed    [][]string
}

func (e *recordingEvents) OnDebug(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.debug = append(e.debug, text)
}

func (e *recordingEvents) OnDeviceError(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, text)
}

func (e *recordingEvents) OnReconfigure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconfigured++
}

func (e *recordingEvents) OnRefresh(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshed = append(e.refreshed, ids)
}

func (e *recordingEvents) snapshot() recordingEvents {
	e.mu.Lock()
	defer e.mu.Unlock()
	return recordingEvents{debug: e.debug, errors: e.errors, reconfigured: e.reconfigured, refreshed: e.refreshed}
}

// newHandshake wires a simulated device to a started router.
func newHandshake(t *testing.T, dev simdevice.Config, cfg Config) (*simdevice.Device, *Handshaker) {
	t.Helper()
	sim := simdevice.New(dev)
	r := router.New(sim.Stream(), router.Config{})
	r.Start()
	t.Cleanup(func() {
		r.Close(nil)
		sim.Close()
	})
	return sim, &Handshaker{Router: r, Config: cfg}
}

// connect runs the handshake and initiates the session.
func connect(t *testing.T, dev simdevice.Config, cfg Config, events Events) (*simdevice.Device, Protocol) {
	t.Helper()
	sim, hs := newHandshake(t, dev, cfg)
	hs.Events = events
	p, err := hs.Run(context.Background())
	require.NoError(t, err)
	p.Initiate()
	return sim, p
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
