package probe

import (
	"fmt"
	"io"
)

// Probe is the identity and transport of the debug probe bound to a session.
type Probe interface {
	UniqueID() string
	VendorName() string
	ProductName() string
	Adapter() Adapter
}

// AdapterProbe exposes an Adapter as a Probe, taking its identity from the
// adapter's reported info.
type AdapterProbe struct {
	adapter Adapter
	info    AdapterInfo
}

// New queries the adapter once for its identity.
func New(adapter Adapter) (*AdapterProbe, error) {
	if adapter == nil {
		return nil, fmt.Errorf("probe: adapter is nil")
	}
	info, err := adapter.Info()
	if err != nil {
		return nil, fmt.Errorf("probe: query adapter info: %w", err)
	}
	return &AdapterProbe{adapter: adapter, info: info}, nil
}

// UniqueID is the adapter serial number, or its name when no serial is known.
func (p *AdapterProbe) UniqueID() string {
	if p.info.SerialNumber != "" {
		return p.info.SerialNumber
	}
	return p.info.Name
}

func (p *AdapterProbe) VendorName() string  { return p.info.Vendor }
func (p *AdapterProbe) ProductName() string { return p.info.Model }
func (p *AdapterProbe) Adapter() Adapter    { return p.adapter }
func (p *AdapterProbe) Info() AdapterInfo   { return p.info }

// Close releases the adapter if it holds resources.
func (p *AdapterProbe) Close() error {
	if c, ok := p.adapter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
