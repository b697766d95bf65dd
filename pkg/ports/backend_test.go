package ports

import (
	"context"
	"sync"
)

// fakeBackend answers port requests from canned state and counts calls.
type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	digital DigitalState
	analog  AnalogState
	selPos  uint16
	labels  map[uint16]string
	dialPos int32
	channel uint32

	// err, when set, is returned by the next call and then cleared.
	err error

	// override the device answer for set requests
	modeReply  *DigitalMode
	valueReply *uint16

	// hook runs inside a call, before the answer is returned
	hook func()

	sent []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:   make(map[string]int),
		digital: DigitalState{Mode: ModeOutput, Line: LineLow},
		analog:  AnalogState{Mode: AnalogOutput, Resolution: 10, Reference: ReferenceInternal, Value: 512},
		labels:  map[uint16]string{0: "Off", 1: "Low", 2: "High"},
		channel: 7,
	}
}

func (f *fakeBackend) call(name string) error {
	f.mu.Lock()
	f.calls[name]++
	err := f.err
	f.err = nil
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeBackend) DigitalState(_ context.Context, _ string) (DigitalState, error) {
	if err := f.call("gPS"); err != nil {
		return DigitalState{}, err
	}
	return f.digital, nil
}

func (f *fakeBackend) SetDigitalMode(_ context.Context, _ string, mode DigitalMode) (DigitalMode, error) {
	if err := f.call("sPM"); err != nil {
		return 0, err
	}
	if f.modeReply != nil {
		return *f.modeReply, nil
	}
	f.digital.Mode = mode
	return mode, nil
}

func (f *fakeBackend) SetDigitalLine(_ context.Context, _ string, line DigitalLine) (DigitalLine, error) {
	if err := f.call("sPL"); err != nil {
		return 0, err
	}
	f.digital.Line = line
	return line, nil
}

func (f *fakeBackend) AnalogState(_ context.Context, _ string) (AnalogState, error) {
	if err := f.call("gPS"); err != nil {
		return AnalogState{}, err
	}
	return f.analog, nil
}

func (f *fakeBackend) SetAnalogMode(_ context.Context, _ string, mode AnalogMode) (AnalogMode, error) {
	if err := f.call("sPM"); err != nil {
		return 0, err
	}
	f.analog.Mode = mode
	return mode, nil
}

func (f *fakeBackend) SetAnalogValue(_ context.Context, _ string, value uint16) (uint16, error) {
	if err := f.call("sPV"); err != nil {
		return 0, err
	}
	if f.valueReply != nil {
		return *f.valueReply, nil
	}
	f.analog.Value = value
	return value, nil
}

func (f *fakeBackend) SetAnalogResolution(_ context.Context, _ string, bits uint8) (uint8, error) {
	if err := f.call("sPR"); err != nil {
		return 0, err
	}
	f.analog.Value = f.analog.Value >> (f.analog.Resolution - MinResolution) << (bits - MinResolution)
	f.analog.Resolution = bits
	return bits, nil
}

func (f *fakeBackend) SetAnalogReference(_ context.Context, _ string, ref AnalogReference) (AnalogReference, error) {
	if err := f.call("sPRF"); err != nil {
		return 0, err
	}
	f.analog.Reference = ref
	return ref, nil
}

func (f *fakeBackend) SelectPosition(_ context.Context, _ string) (uint16, error) {
	if err := f.call("gP"); err != nil {
		return 0, err
	}
	return f.selPos, nil
}

func (f *fakeBackend) SetSelectPosition(_ context.Context, _ string, pos uint16) (uint16, error) {
	if err := f.call("sP"); err != nil {
		return 0, err
	}
	f.selPos = pos
	return pos, nil
}

func (f *fakeBackend) SelectLabel(_ context.Context, _ string, pos uint16) (string, error) {
	if err := f.call("gL"); err != nil {
		return "", err
	}
	return f.labels[pos], nil
}

func (f *fakeBackend) DialPosition(_ context.Context, _ string) (int32, error) {
	if err := f.call("gP"); err != nil {
		return 0, err
	}
	return f.dialPos, nil
}

func (f *fakeBackend) SetDialPosition(_ context.Context, _ string, pos int32) (int32, error) {
	if err := f.call("sP"); err != nil {
		return 0, err
	}
	f.dialPos = pos
	return pos, nil
}

func (f *fakeBackend) BindStreaming(_ context.Context, _ *Streaming) (uint32, error) {
	if err := f.call("bSP"); err != nil {
		return 0, err
	}
	return f.channel, nil
}

func (f *fakeBackend) UnbindStreaming(_ context.Context, _ *Streaming) error {
	return f.call("uSP")
}

func (f *fakeBackend) SendStreaming(_ *Streaming, data string) error {
	if err := f.call("send"); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, data)
	f.mu.Unlock()
	return nil
}

var _ Backend = (*fakeBackend)(nil)
