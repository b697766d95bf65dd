package ports

// Capabilities is the ordered list of ports a device declared on connect.
type Capabilities struct {
	ports []Port
	byID  map[string]Port
}

// NewCapabilities builds a capability set. Port order is preserved.
func NewCapabilities(ports []Port) *Capabilities {
	c := &Capabilities{
		ports: append([]Port(nil), ports...),
		byID:  make(map[string]Port, len(ports)),
	}
	for _, p := range ports {
		c.byID[p.ID()] = p
	}
	return c
}

// Ports returns all ports in declaration order.
func (c *Capabilities) Ports() []Port {
	return append([]Port(nil), c.ports...)
}

// Len returns the number of ports.
func (c *Capabilities) Len() int {
	return len(c.ports)
}

// Find returns the port with the given ID.
func (c *Capabilities) Find(id string) (Port, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Refresh drops cached state on every port.
func (c *Capabilities) Refresh() {
	for _, p := range c.ports {
		p.Refresh()
	}
}

// Digital returns the digital ports in declaration order.
func (c *Capabilities) Digital() []*Digital { return ofKind[*Digital](c.ports) }

// Analog returns the analog ports in declaration order.
func (c *Capabilities) Analog() []*Analog { return ofKind[*Analog](c.ports) }

// Select returns the select ports in declaration order.
func (c *Capabilities) Select() []*Select { return ofKind[*Select](c.ports) }

// Dial returns the dial ports in declaration order.
func (c *Capabilities) Dial() []*Dial { return ofKind[*Dial](c.ports) }

// Streaming returns the streaming ports in declaration order.
func (c *Capabilities) Streaming() []*Streaming { return ofKind[*Streaming](c.ports) }

func ofKind[T Port](ports []Port) []T {
	var out []T
	for _, p := range ports {
		if t, ok := p.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// Compile-time interface satisfaction checks.
var (
	_ Port = (*Digital)(nil)
	_ Port = (*Analog)(nil)
	_ Port = (*Select)(nil)
	_ Port = (*Dial)(nil)
	_ Port = (*Streaming)(nil)
)
