package interactive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leomeyer/OPDI-deprecated/internal/simdevice"
	"github.com/leomeyer/OPDI-deprecated/pkg/device"
	"github.com/leomeyer/OPDI-deprecated/pkg/persistence"
	"github.com/leomeyer/OPDI-deprecated/pkg/ports"
	"github.com/leomeyer/OPDI-deprecated/pkg/transport"
	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

// syncBuffer captures output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Take returns the output so far and resets the buffer.
func (b *syncBuffer) Take() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	b.buf.Reset()
	return s
}

type fixedPrompter struct {
	creds    device.Credentials
	remember bool
	asked    int
}

func (p *fixedPrompter) Credentials(string) (device.Credentials, bool, bool) {
	p.asked++
	return p.creds, p.remember, true
}

func simPorts() []simdevice.Port {
	return []simdevice.Port{
		{ID: "D1", Name: "LED", Kind: ports.KindDigital, Direction: ports.DirectionBidi, Mode: 3},
		{ID: "S1", Name: "Fan", Kind: ports.KindSelect, Direction: ports.DirectionOutput, Labels: []string{"off", "low", "high"}},
	}
}

// newTestMaster returns a master whose devices connect to simulated
// devices, and the path of its device file.
func newTestMaster(t *testing.T, sim simdevice.Config) (*Master, *syncBuffer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devices.yaml")
	out := &syncBuffer{}
	m := newMaster(out, Options{Store: persistence.NewDeviceStore(path), CommandTimeout: 5 * time.Second})

	var mu sync.Mutex
	var sims []*simdevice.Device
	t.Cleanup(func() {
		m.Shutdown()
		mu.Lock()
		defer mu.Unlock()
		for _, s := range sims {
			s.Close()
		}
	})

	cfg := device.Config{
		Transport: transport.TransportFunc(func(context.Context, string) (transport.Stream, error) {
			s := simdevice.New(sim)
			mu.Lock()
			sims = append(sims, s)
			mu.Unlock()
			return s.Stream(), nil
		}),
	}
	if err := m.Init(cfg, nil); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return m, out, path
}

func exec(t *testing.T, m *Master, out *syncBuffer, line string) string {
	t.Helper()
	if quit := m.Exec(context.Background(), line); quit {
		t.Fatalf("%q requested quit", line)
	}
	return out.Take()
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input   string
		address string
		kind    string
	}{
		{"192.168.1.20", "192.168.1.20:13110", transport.KindTCP},
		{"192.168.1.20:4000", "192.168.1.20:4000", transport.KindTCP},
		{"tcp:opdi.local", "opdi.local:13110", transport.KindTCP},
		{"/dev/ttyUSB0@115200", "/dev/ttyUSB0@115200", transport.KindSerial},
		{"serial:ttyS1", "ttyS1", transport.KindSerial},
		{"COM3", "COM3", transport.KindSerial},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			address, kind := parseAddress(tt.input)
			if address != tt.address || kind != tt.kind {
				t.Errorf("parseAddress(%q) = %q, %q; want %q, %q", tt.input, address, kind, tt.address, tt.kind)
			}
		})
	}
}

func TestParseValues(t *testing.T) {
	if l, err := parseLine("HIGH"); err != nil || l != ports.LineHigh {
		t.Errorf("parseLine(HIGH) = %v, %v", l, err)
	}
	if l, err := parseLine("0"); err != nil || l != ports.LineLow {
		t.Errorf("parseLine(0) = %v, %v", l, err)
	}
	if _, err := parseLine("maybe"); err == nil {
		t.Error("parseLine(maybe) should fail")
	}

	modes := map[string]ports.DigitalMode{
		"in":       ports.ModeInputFloating,
		"pullup":   ports.ModeInputPullup,
		"pulldown": ports.ModeInputPulldown,
		"output":   ports.ModeOutput,
	}
	for s, want := range modes {
		if got, err := parseDigitalMode(s); err != nil || got != want {
			t.Errorf("parseDigitalMode(%q) = %v, %v; want %v", s, got, err, want)
		}
	}
	if _, err := parseAnalogMode("pullup"); err == nil {
		t.Error("parseAnalogMode(pullup) should fail")
	}
	if r, err := parseReference("ext"); err != nil || r != ports.ReferenceExternal {
		t.Errorf("parseReference(ext) = %v, %v", r, err)
	}
}

func TestDeviceListCommands(t *testing.T) {
	m, out, path := newTestMaster(t, simdevice.Config{})

	if got := exec(t, m, out, "devices"); !strings.Contains(got, "No devices") {
		t.Errorf("empty list output = %q", got)
	}

	if got := exec(t, m, out, "add 10.0.0.5 Living Room"); !strings.Contains(got, "Added Living Room (10.0.0.5:13110)") {
		t.Errorf("add output = %q", got)
	}
	if got := exec(t, m, out, "add 10.0.0.5"); !strings.Contains(got, "already exists") {
		t.Errorf("duplicate add output = %q", got)
	}

	got := exec(t, m, out, "devices")
	for _, want := range []string{"1. Living Room", "10.0.0.5:13110 (tcp)", "Status: DISCONNECTED"} {
		if !strings.Contains(got, want) {
			t.Errorf("devices output lacks %q:\n%s", want, got)
		}
	}

	exec(t, m, out, "label 1 Kitchen")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("device file not written: %v", err)
	}
	if !strings.Contains(string(data), "label: Kitchen") {
		t.Errorf("device file lacks new label:\n%s", data)
	}

	if got := exec(t, m, out, "remove kitchen"); !strings.Contains(got, "Removed") {
		t.Errorf("remove output = %q", got)
	}
	if m.Manager().Len() != 0 {
		t.Errorf("Len() = %d after remove, want 0", m.Manager().Len())
	}
	if got := exec(t, m, out, "remove 1"); !strings.Contains(got, "Unknown device") {
		t.Errorf("remove unknown output = %q", got)
	}
}

func TestPortCommands(t *testing.T) {
	m, out, _ := newTestMaster(t, simdevice.Config{Ports: simPorts()})
	exec(t, m, out, "add sim-host Bench")

	got := exec(t, m, out, "connect 1")
	if !strings.Contains(got, "Connected to Bench (protocol BP v1)") {
		t.Fatalf("connect output = %q", got)
	}

	got = exec(t, m, out, "ports Bench")
	for _, want := range []string{"D1", "LED", "S1", "3 positions"} {
		if !strings.Contains(got, want) {
			t.Errorf("ports output lacks %q:\n%s", want, got)
		}
	}

	if got := exec(t, m, out, "get 1 D1"); !strings.Contains(got, "mode=OUTPUT line=LOW") {
		t.Errorf("get D1 = %q", got)
	}
	if got := exec(t, m, out, "set 1 D1 high"); !strings.Contains(got, "line=HIGH") {
		t.Errorf("set D1 = %q", got)
	}
	if got := exec(t, m, out, "set 1 S1 high"); !strings.Contains(got, "position=2 (high)") {
		t.Errorf("set S1 by label = %q", got)
	}
	if got := exec(t, m, out, "labels 1 S1"); !strings.Contains(got, "1: low") {
		t.Errorf("labels S1 = %q", got)
	}
	if got := exec(t, m, out, "get 1 X9"); !strings.Contains(got, "Error") {
		t.Errorf("get unknown port = %q", got)
	}
	if got := exec(t, m, out, "mode 1 S1 output"); !strings.Contains(got, "have no mode") {
		t.Errorf("mode on select = %q", got)
	}

	got = exec(t, m, out, "disconnect 1")
	if !strings.Contains(got, "Disconnected from Bench") {
		t.Errorf("disconnect output = %q", got)
	}
	if s := m.Manager().Devices()[0].Status(); s != device.StatusDisconnected {
		t.Errorf("Status() = %s, want DISCONNECTED", s)
	}
}

func TestConnectRemembersCredentials(t *testing.T) {
	m, out, path := newTestMaster(t, simdevice.Config{
		Flags:    wire.FlagAuthRequired,
		User:     "admin",
		Password: "secret",
	})
	prompt := &fixedPrompter{creds: device.Credentials{User: "admin", Password: "secret"}, remember: true}
	m.prompt = prompt

	exec(t, m, out, "add sim-host")
	if got := exec(t, m, out, "connect 1"); !strings.Contains(got, "Connected") {
		t.Fatalf("connect output = %q", got)
	}
	if prompt.asked != 1 {
		t.Errorf("prompted %d times, want 1", prompt.asked)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "password: secret") {
		t.Errorf("remembered credentials not saved:\n%s", data)
	}

	// The stored credentials are used without asking again.
	exec(t, m, out, "disconnect 1")
	exec(t, m, out, "connect 1")
	if prompt.asked != 1 {
		t.Errorf("prompted %d times after reconnect, want 1", prompt.asked)
	}

	exec(t, m, out, "forget 1")
	if _, ok := m.Manager().Devices()[0].Credentials(); ok {
		t.Error("credentials still stored after forget")
	}
}

func TestExecMisc(t *testing.T) {
	m, out, _ := newTestMaster(t, simdevice.Config{})

	if got := exec(t, m, out, "frobnicate"); !strings.Contains(got, "Unknown command: frobnicate") {
		t.Errorf("unknown command output = %q", got)
	}
	if got := exec(t, m, out, "discover"); !strings.Contains(got, "not available") {
		t.Errorf("discover without browser = %q", got)
	}
	if got := exec(t, m, out, "connect"); !strings.Contains(got, "Usage: connect <dev>") {
		t.Errorf("connect usage = %q", got)
	}
	if !m.Exec(context.Background(), "quit") {
		t.Error("quit should end the loop")
	}
}
