package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leomeyer/OPDI-deprecated/pkg/device"
)

// FileVersion is the current version of the device file format.
const FileVersion = 1

// ErrUnsupportedVersion indicates a device file written by a newer format.
var ErrUnsupportedVersion = errors.New("unsupported device file version")

// DeviceFile is the on-disk layout.
type DeviceFile struct {
	Version int            `yaml:"version"`
	SavedAt time.Time      `yaml:"saved_at"`
	Devices []DeviceRecord `yaml:"devices"`
}

// DeviceRecord is one stored device.
type DeviceRecord struct {
	ID          string             `yaml:"id"`
	Address     string             `yaml:"address"`
	Label       string             `yaml:"label,omitempty"`
	PSK         string             `yaml:"psk,omitempty"`
	Transport   string             `yaml:"transport,omitempty"`
	Credentials *CredentialsRecord `yaml:"credentials,omitempty"`
}

// CredentialsRecord holds remembered credentials.
type CredentialsRecord struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// FromDescriptor converts a device descriptor to a record.
func FromDescriptor(desc device.Descriptor) DeviceRecord {
	r := DeviceRecord{
		ID:        desc.ID,
		Address:   desc.Address,
		Label:     desc.Label,
		PSK:       desc.PSK,
		Transport: desc.Transport,
	}
	if desc.Credentials != nil {
		r.Credentials = &CredentialsRecord{User: desc.Credentials.User, Password: desc.Credentials.Password}
	}
	return r
}

// Descriptor converts the record to a device descriptor.
func (r DeviceRecord) Descriptor() device.Descriptor {
	desc := device.Descriptor{
		ID:        r.ID,
		Address:   r.Address,
		Label:     r.Label,
		PSK:       r.PSK,
		Transport: r.Transport,
	}
	if r.Credentials != nil {
		desc.Credentials = &device.Credentials{User: r.Credentials.User, Password: r.Credentials.Password}
	}
	return desc
}

// DeviceStore reads and writes a device file.
type DeviceStore struct {
	mu   sync.Mutex
	path string
}

// NewDeviceStore creates a store for the file at path.
func NewDeviceStore(path string) *DeviceStore {
	return &DeviceStore{path: path}
}

// Path returns the file path.
func (s *DeviceStore) Path() string { return s.path }

// Load returns the stored descriptors. A missing file yields none.
func (s *DeviceStore) Load() ([]device.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var f DeviceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if f.Version > FileVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, f.Version)
	}

	descs := make([]device.Descriptor, 0, len(f.Devices))
	for _, r := range f.Devices {
		descs = append(descs, r.Descriptor())
	}
	return descs, nil
}

// Save replaces the file with descs. The file is written to a temporary
// name and renamed, and is readable by the owner only since it may hold
// passwords.
func (s *DeviceStore) Save(descs []device.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	f := DeviceFile{Version: FileVersion, SavedAt: time.Now().UTC(), Devices: make([]DeviceRecord, 0, len(descs))}
	for _, d := range descs {
		f.Devices = append(f.Devices, FromDescriptor(d))
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// SaveManager stores every device of m.
func (s *DeviceStore) SaveManager(m *device.Manager) error {
	devices := m.Devices()
	descs := make([]device.Descriptor, 0, len(devices))
	for _, d := range devices {
		descs = append(descs, d.Descriptor())
	}
	return s.Save(descs)
}

// LoadManager adds every stored device to m and returns how many were
// added. Devices already present are skipped.
func (s *DeviceStore) LoadManager(m *device.Manager) (int, error) {
	descs, err := s.Load()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, desc := range descs {
		if _, ok := m.FindByID(desc.ID); ok && desc.ID != "" {
			continue
		}
		if _, err := m.Create(desc); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Clear removes the file.
func (s *DeviceStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
