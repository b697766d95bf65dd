package discovery

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/leomeyer/OPDI-deprecated/pkg/device"
	"github.com/leomeyer/OPDI-deprecated/pkg/transport"
)

// mDNS constants.
const (
	// ServiceType is the service type OPDI devices announce.
	ServiceType = "_opdi._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// BrowseTimeout is the default duration of a browse.
	BrowseTimeout = 5 * time.Second
)

// TXT record keys.
const (
	TXTKeyName    = "name"
	TXTKeyMagic   = "magic"
	TXTKeyVersion = "ver"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// ParseTXT turns "key=value" strings into a map. Entries without "=" are
// kept with an empty value; later duplicates are ignored.
func ParseTXT(records []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(records))
	for _, r := range records {
		if r == "" {
			continue
		}
		k, v, _ := strings.Cut(r, "=")
		k = strings.ToLower(k)
		if _, dup := txt[k]; dup {
			continue
		}
		txt[k] = v
	}
	return txt
}

// Service is a discovered OPDI device.
type Service struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	// Name, Magic and Version come from the TXT record and may be empty.
	Name    string
	Magic   string
	Version int
}

// Address returns host:port for the first known address, falling back to
// the host name.
func (s *Service) Address() string {
	host := strings.TrimSuffix(s.Host, ".")
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}

// Label returns the device name, or the instance name when the device
// announced none.
func (s *Service) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.InstanceName
}

// Descriptor returns a device descriptor for connecting over TCP.
func (s *Service) Descriptor() device.Descriptor {
	return device.Descriptor{
		Address:   s.Address(),
		Label:     s.Label(),
		Transport: transport.KindTCP,
	}
}

// newService builds a Service from the parts of an mDNS entry.
func newService(instance, host string, port int, text []string, addrs []net.IP) *Service {
	txt := ParseTXT(text)
	svc := &Service{
		InstanceName: instance,
		Host:         host,
		Port:         uint16(port),
		Addresses:    make([]string, 0, len(addrs)),
		Name:         txt[TXTKeyName],
		Magic:        txt[TXTKeyMagic],
	}
	if v, err := strconv.Atoi(txt[TXTKeyVersion]); err == nil {
		svc.Version = v
	}
	for _, ip := range addrs {
		svc.Addresses = append(svc.Addresses, ip.String())
	}
	return svc
}

// mergeAddresses adds new addresses to existing, skipping duplicates.
func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops every address in gone from addresses.
func removeAddresses(addresses, gone []string) []string {
	drop := make(map[string]bool, len(gone))
	for _, addr := range gone {
		drop[addr] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}
