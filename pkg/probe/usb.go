package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// USB identifiers of the Raspberry Pi debug probe running CMSIS-DAP.
const (
	VendorIDRaspberryPi = 0x2E8A
	ProductIDCMSISDAP   = 0x000C

	defaultPacketSize = 64
	defaultTimeout    = 5 * time.Second
)

// USBTransport moves CMSIS-DAP packets over the probe's vendor-class bulk
// endpoints.
type USBTransport struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int
	timeout    time.Duration
}

// OpenUSBTransport opens the first device matching vid/pid, or the one whose
// serial number equals serial when it is not empty.
func OpenUSBTransport(vid, pid uint16, serial string) (*USBTransport, error) {
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vid && uint16(desc.Product) == pid
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("probe: open USB %04X:%04X: %w", vid, pid, err)
	}

	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil {
			if sn, _ := d.SerialNumber(); serial == "" || sn == serial {
				dev = d
				continue
			}
		}
		d.Close()
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("probe: no USB device %04X:%04X (serial %q)", vid, pid, serial)
	}
	// Not supported on every platform.
	_ = dev.SetAutoDetach(true)

	t := &USBTransport{
		ctx:        ctx,
		dev:        dev,
		packetSize: defaultPacketSize,
		timeout:    defaultTimeout,
	}
	if err := t.claim(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *USBTransport) claim() error {
	cfg, err := t.dev.Config(1)
	if err != nil {
		return fmt.Errorf("probe: USB config: %w", err)
	}
	t.cfg = cfg

	num := 0
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == gousb.ClassVendorSpec {
			num = intf.Number
			break
		}
	}
	intf, err := cfg.Interface(num, 0)
	if err != nil {
		return fmt.Errorf("probe: claim interface %d: %w", num, err)
	}
	t.intf = intf

	var outAddr, inAddr int
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch {
		case ep.Direction == gousb.EndpointDirectionOut && outAddr == 0:
			outAddr = ep.Number
		case ep.Direction == gousb.EndpointDirectionIn && inAddr == 0:
			inAddr = ep.Number
			t.packetSize = ep.MaxPacketSize
		}
	}
	if outAddr == 0 || inAddr == 0 {
		return errors.New("probe: bulk endpoints not found")
	}
	if t.epOut, err = intf.OutEndpoint(outAddr); err != nil {
		return fmt.Errorf("probe: open OUT endpoint: %w", err)
	}
	if t.epIn, err = intf.InEndpoint(inAddr); err != nil {
		return fmt.Errorf("probe: open IN endpoint: %w", err)
	}
	return nil
}

// WriteRead sends one zero-padded packet and reads the reply.
func (t *USBTransport) WriteRead(cmd []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	packet := make([]byte, t.packetSize)
	copy(packet, cmd)
	if _, err := t.epOut.WriteContext(ctx, packet); err != nil {
		return nil, fmt.Errorf("probe: USB write: %w", err)
	}
	resp := make([]byte, t.packetSize)
	n, err := t.epIn.ReadContext(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("probe: USB read: %w", err)
	}
	return resp[:n], nil
}

func (t *USBTransport) PacketSize() int {
	return t.packetSize
}

func (t *USBTransport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

// Kind categorizes probe families.
type Kind string

const (
	KindCMSISDAP  Kind = "cmsis-dap"
	KindSimulator Kind = "simulator"
)

// Interface describes a probe found on the host.
type Interface struct {
	Kind        Kind
	Description string
	VendorID    uint16
	ProductID   uint16
	Serial      string
}

// Label returns a user-friendly description.
func (i Interface) Label() string {
	if i.Description != "" {
		return i.Description
	}
	return fmt.Sprintf("%s (%04X:%04X)", i.Kind, i.VendorID, i.ProductID)
}

type knownUSBDevice struct {
	VendorID    uint16
	ProductID   uint16
	Description string
}

var knownCMSISDAP = []knownUSBDevice{
	{VendorID: VendorIDRaspberryPi, ProductID: ProductIDCMSISDAP, Description: "Raspberry Pi CMSIS-DAP"},
	{VendorID: 0x0d28, ProductID: 0x0204, Description: "DAPLink CMSIS-DAP"},
	{VendorID: 0x1366, ProductID: 0x0101, Description: "SEGGER J-Link CMSIS-DAP"},
}

// Discover lists connected CMSIS-DAP probes. The simulator is always
// appended so a session can run without hardware.
func Discover(ctx context.Context) ([]Interface, error) {
	var found []Interface
	usb := gousb.NewContext()
	defer usb.Close()

	devs, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		_, ok := classify(desc)
		return ok
	})
	for _, dev := range devs {
		known, _ := classify(dev.Desc)
		serial, _ := dev.SerialNumber()
		found = append(found, Interface{
			Kind:        KindCMSISDAP,
			Description: known.Description,
			VendorID:    known.VendorID,
			ProductID:   known.ProductID,
			Serial:      serial,
		})
		dev.Close()
	}
	if err != nil && !errors.Is(err, gousb.ErrorAccess) {
		return found, fmt.Errorf("probe: enumerate USB: %w", err)
	}

	found = append(found, Interface{
		Kind:        KindSimulator,
		Description: "Simulator (no hardware)",
	})
	return found, nil
}

func classify(desc *gousb.DeviceDesc) (knownUSBDevice, bool) {
	for _, known := range knownCMSISDAP {
		if uint16(desc.Vendor) == known.VendorID && uint16(desc.Product) == known.ProductID {
			return known, true
		}
	}
	return knownUSBDevice{}, false
}
