package device

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Manager errors.
var (
	// ErrDuplicateDevice indicates Add with an ID already present.
	ErrDuplicateDevice = errors.New("duplicate device")

	// ErrUnknownDevice indicates a device ID the manager does not hold.
	ErrUnknownDevice = errors.New("unknown device")
)

// Manager holds a set of devices and the listeners registered for them.
// Listeners are kept in a side map keyed by device ID, so a device
// created again from the same descriptor reaches the same listeners.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	devices   []*Device
	global    []registration
	perDevice map[string][]registration
	nextReg   Registration
}

// Registration identifies one listener registration. Listeners are not
// compared, so any Listener implementation may be registered.
type Registration uint64

type registration struct {
	id Registration
	l  Listener
}

// NewManager creates an empty manager. Create uses cfg for new devices.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:       cfg,
		perDevice: make(map[string][]registration),
	}
}

// Create builds a device from desc and adds it.
func (m *Manager) Create(desc Descriptor) (*Device, error) {
	d := New(desc, m.cfg)
	if err := m.Add(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Add adds a device.
func (m *Manager) Add(d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.devices {
		if existing.ID() == d.ID() {
			return fmt.Errorf("%w: %s", ErrDuplicateDevice, d.ID())
		}
	}
	m.devices = append(m.devices, d)
	return nil
}

// Remove disconnects and removes the device with the given ID. Its
// listener registrations are dropped.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	i := slices.IndexFunc(m.devices, func(d *Device) bool { return d.ID() == id })
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	d := m.devices[i]
	m.devices = slices.Delete(m.devices, i, i+1)
	delete(m.perDevice, id)
	m.mu.Unlock()

	return d.Disconnect(true)
}

// Devices returns the devices in insertion order.
func (m *Manager) Devices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.devices)
}

// Len returns the number of devices.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// FindByID returns the device with the given ID.
func (m *Manager) FindByID(id string) (*Device, bool) {
	return m.find(func(d *Device) bool { return d.ID() == id })
}

// FindByAddress returns the first device with the given address.
func (m *Manager) FindByAddress(address string) (*Device, bool) {
	return m.find(func(d *Device) bool { return d.Address() == address })
}

func (m *Manager) find(match func(*Device) bool) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := slices.IndexFunc(m.devices, match)
	if i < 0 {
		return nil, false
	}
	return m.devices[i], true
}

// RegisterListener registers a listener for all devices.
func (m *Manager) RegisterListener(l Listener) Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg := m.register(l)
	m.global = append(m.global, reg)
	return reg.id
}

// RegisterListenerForDevice registers a listener for the device with the
// given ID. The device does not need to exist yet.
func (m *Manager) RegisterListenerForDevice(l Listener, id string) Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg := m.register(l)
	m.perDevice[id] = append(m.perDevice[id], reg)
	return reg.id
}

// Unregister removes a registration. Unknown registrations are ignored.
func (m *Manager) Unregister(id Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match := func(r registration) bool { return r.id == id }
	m.global = slices.DeleteFunc(m.global, match)
	for dev, regs := range m.perDevice {
		regs = slices.DeleteFunc(regs, match)
		if len(regs) == 0 {
			delete(m.perDevice, dev)
		} else {
			m.perDevice[dev] = regs
		}
	}
}

// register allocates a registration. m.mu must be held.
func (m *Manager) register(l Listener) registration {
	m.nextReg++
	return registration{id: m.nextReg, l: l}
}

// Connect connects d. Events go to l first, then to the listeners
// registered for all devices, then to those registered for d's ID.
func (m *Manager) Connect(ctx context.Context, d *Device, l Listener) error {
	return d.Connect(ctx, m.fanout(d.ID(), l))
}

// ConnectAll connects every disconnected device concurrently and joins
// the errors.
func (m *Manager) ConnectAll(ctx context.Context, l Listener) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, d := range m.Devices() {
		if d.Status() != StatusDisconnected {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Connect(ctx, d, l); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", d.ID(), err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// DisconnectAll disconnects every connected device.
func (m *Manager) DisconnectAll(regular bool) {
	for _, d := range m.Devices() {
		if err := d.Disconnect(regular); err != nil {
			d.logger.Debug("disconnect failed", "error", err)
		}
	}
}

// fanout returns a listener that resolves the registrations at event time.
func (m *Manager) fanout(id string, l Listener) Listener {
	return &managedListener{m: m, id: id, primary: l}
}

func (m *Manager) listenersFor(id string, primary Listener) listeners {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ls := make(listeners, 0, 1+len(m.global)+len(m.perDevice[id]))
	if primary != nil {
		ls = append(ls, primary)
	}
	for _, r := range m.global {
		ls = append(ls, r.l)
	}
	for _, r := range m.perDevice[id] {
		ls = append(ls, r.l)
	}
	return ls
}

// managedListener delivers each event to the listeners registered at the
// time of the event.
type managedListener struct {
	m       *Manager
	id      string
	primary Listener
}

func (ml *managedListener) all() listeners {
	return ml.m.listenersFor(ml.id, ml.primary)
}

func (ml *managedListener) OnConnectionInitiated(d *Device) { ml.all().OnConnectionInitiated(d) }
func (ml *managedListener) OnConnectionAborted(d *Device)   { ml.all().OnConnectionAborted(d) }
func (ml *managedListener) OnConnectionOpened(d *Device)    { ml.all().OnConnectionOpened(d) }
func (ml *managedListener) OnConnectionClosed(d *Device)    { ml.all().OnConnectionClosed(d) }
func (ml *managedListener) OnReconfigure(d *Device)         { ml.all().OnReconfigure(d) }

func (ml *managedListener) OnConnectionFailed(d *Device, err error) {
	ml.all().OnConnectionFailed(d, err)
}

func (ml *managedListener) OnConnectionError(d *Device, err error) {
	ml.all().OnConnectionError(d, err)
}

func (ml *managedListener) GetCredentials(d *Device) (Credentials, bool, bool) {
	return ml.all().GetCredentials(d)
}

func (ml *managedListener) OnDebug(d *Device, text string)       { ml.all().OnDebug(d, text) }
func (ml *managedListener) OnDeviceError(d *Device, text string) { ml.all().OnDeviceError(d, text) }

func (ml *managedListener) OnRefresh(d *Device, portIDs []string) {
	ml.all().OnRefresh(d, portIDs)
}
