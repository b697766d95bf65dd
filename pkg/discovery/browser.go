package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// ErrNotFound is returned by Find when no matching device answered.
var ErrNotFound = errors.New("device not found")

// Browser finds OPDI devices.
type Browser interface {
	// Browse reports each discovered device once. The channel is closed
	// when ctx ends or Stop is called.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find returns the first device whose name or instance name matches.
	Find(ctx context.Context, name string) (*Service, error)

	// Stop ends all running browses.
	Stop()
}

// BrowserConfig configures an MDNSBrowser.
type BrowserConfig struct {
	// BrowseTimeout bounds Collect (default BrowseTimeout).
	BrowseTimeout time.Duration

	// Interface restricts browsing to one network interface by name.
	Interface string

	// ServiceType overrides the announced service type.
	ServiceType string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
		ServiceType:   ServiceType,
	}
}

// MDNSBrowser implements Browser with zeroconf.
type MDNSBrowser struct {
	config BrowserConfig

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// NewMDNSBrowser creates an mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	if config.ServiceType == "" {
		config.ServiceType = ServiceType
	}
	return &MDNSBrowser{config: config}
}

// Browse reports newly discovered devices. Addresses announced later on
// other interfaces are merged into the reported Service.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	out := make(chan *Service)

	go aggregate(ctx, entries, removed, out)
	go func() {
		_ = zeroconf.Browse(ctx, b.config.ServiceType, Domain, entries, removed, b.options()...)
	}()
	return out, nil
}

// Collect browses for the configured timeout and returns every device
// found.
func (b *MDNSBrowser) Collect(ctx context.Context) ([]*Service, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.BrowseTimeout)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	var found []*Service
	for svc := range results {
		found = append(found, svc)
	}
	return found, nil
}

// Find returns the first device whose label or instance name is name.
func (b *MDNSBrowser) Find(ctx context.Context, name string) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for svc := range results {
		if svc.Label() == name || svc.InstanceName == name {
			return svc, nil
		}
	}
	return nil, ErrNotFound
}

// Stop ends all running browses.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (b *MDNSBrowser) options() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		if iface, err := net.InterfaceByName(b.config.Interface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// aggregate turns zeroconf entries into Services, one per instance. It
// closes out when ctx ends or entries is closed.
func aggregate(ctx context.Context, entries, removed <-chan *zeroconf.ServiceEntry, out chan<- *Service) {
	defer close(out)

	services := make(map[string]*Service)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			svc := fromEntry(entry)
			if existing, found := services[svc.InstanceName]; found {
				existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
				continue
			}
			services[svc.InstanceName] = svc
			select {
			case out <- svc:
			case <-ctx.Done():
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			existing, found := services[entry.Instance]
			if !found {
				continue
			}
			existing.Addresses = removeAddresses(existing.Addresses, fromEntry(entry).Addresses)
			if len(existing.Addresses) == 0 {
				delete(services, entry.Instance)
			}

		case <-ctx.Done():
			return
		}
	}
}

func fromEntry(entry *zeroconf.ServiceEntry) *Service {
	addrs := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	addrs = append(addrs, entry.AddrIPv4...)
	addrs = append(addrs, entry.AddrIPv6...)
	return newService(entry.Instance, entry.HostName, entry.Port, entry.Text, addrs)
}

var _ Browser = (*MDNSBrowser)(nil)
