package probe

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// CMSIS-DAP command IDs.
const (
	cmdInfo         = 0x00
	cmdConnect      = 0x02
	cmdDisconnect   = 0x03
	cmdResetTarget  = 0x0A
	cmdSWJClock     = 0x11
	cmdJTAGSequence = 0x14
)

// DAP_Info IDs.
const (
	infoVendor   = 0x01
	infoProduct  = 0x02
	infoSerial   = 0x03
	infoFirmware = 0x04
)

const (
	dapPortJTAG = 2
	dapOK       = 0x00

	seqTMS = 0x40
	seqTDO = 0x80
)

// Transport carries one CMSIS-DAP command/response exchange at a time.
type Transport interface {
	WriteRead(cmd []byte) ([]byte, error)
	PacketSize() int
	Close() error
}

// CMSISDAPAdapter drives a CMSIS-DAP probe in JTAG mode.
type CMSISDAPAdapter struct {
	mu        sync.Mutex
	xport     Transport
	info      AdapterInfo
	speedHz   int
	connected bool
}

// OpenCMSISDAP opens the USB probe with the given VID/PID (and serial, when
// not empty) and connects its JTAG port.
func OpenCMSISDAP(vid, pid uint16, serial string) (*CMSISDAPAdapter, error) {
	xport, err := OpenUSBTransport(vid, pid, serial)
	if err != nil {
		return nil, err
	}
	a, err := NewCMSISDAPAdapter(xport)
	if err != nil {
		xport.Close()
		return nil, err
	}
	return a, nil
}

// NewCMSISDAPAdapter queries probe identity over xport, connects the JTAG
// port and sets a 1 MHz clock.
func NewCMSISDAPAdapter(xport Transport) (*CMSISDAPAdapter, error) {
	a := &CMSISDAPAdapter{xport: xport, speedHz: 1_000_000}
	if err := a.queryInfo(); err != nil {
		return nil, fmt.Errorf("probe: query CMSIS-DAP info: %w", err)
	}
	if err := a.connect(); err != nil {
		return nil, fmt.Errorf("probe: connect JTAG port: %w", err)
	}
	if err := a.SetSpeed(a.speedHz); err != nil {
		return nil, fmt.Errorf("probe: set default speed: %w", err)
	}
	return a, nil
}

func (a *CMSISDAPAdapter) exchange(cmd []byte) ([]byte, error) {
	resp, err := a.xport.WriteRead(cmd)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("probe: short response to command 0x%02X", cmd[0])
	}
	if resp[0] != cmd[0] {
		return nil, fmt.Errorf("probe: response id 0x%02X for command 0x%02X", resp[0], cmd[0])
	}
	return resp, nil
}

// command sends cmd and checks the status byte that follows the echoed id.
func (a *CMSISDAPAdapter) command(cmd ...byte) ([]byte, error) {
	resp, err := a.exchange(cmd)
	if err != nil {
		return nil, err
	}
	if resp[1] != dapOK {
		return nil, fmt.Errorf("probe: command 0x%02X failed with status 0x%02X", cmd[0], resp[1])
	}
	return resp, nil
}

func (a *CMSISDAPAdapter) infoString(id byte) (string, error) {
	resp, err := a.exchange([]byte{cmdInfo, id})
	if err != nil {
		return "", err
	}
	n := int(resp[1])
	if len(resp) < 2+n {
		return "", fmt.Errorf("probe: truncated info string 0x%02X", id)
	}
	s := resp[2 : 2+n]
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return string(s), nil
}

func (a *CMSISDAPAdapter) queryInfo() error {
	vendor, err := a.infoString(infoVendor)
	if err != nil {
		return err
	}
	// Optional strings; probes may answer with a zero length.
	product, _ := a.infoString(infoProduct)
	serial, _ := a.infoString(infoSerial)
	firmware, _ := a.infoString(infoFirmware)

	a.info = AdapterInfo{
		Name:         "CMSIS-DAP Probe",
		Vendor:       vendor,
		Model:        product,
		SerialNumber: serial,
		Firmware:     firmware,
		MinFrequency: 1_000,
		MaxFrequency: 10_000_000,
		SupportsSRST: true,
		SupportsTRST: true,
	}
	return nil
}

func (a *CMSISDAPAdapter) connect() error {
	resp, err := a.exchange([]byte{cmdConnect, dapPortJTAG})
	if err != nil {
		return err
	}
	if resp[1] != dapPortJTAG {
		return fmt.Errorf("probe: probe selected port %d instead of JTAG", resp[1])
	}
	a.connected = true
	return nil
}

func (a *CMSISDAPAdapter) Info() (AdapterInfo, error) {
	return a.info, nil
}

func (a *CMSISDAPAdapter) ShiftIR(tms, tdi []byte, bits int) ([]byte, error) {
	return a.shift(tms, tdi, bits)
}

func (a *CMSISDAPAdapter) ShiftDR(tms, tdi []byte, bits int) ([]byte, error) {
	return a.shift(tms, tdi, bits)
}

// run is a stretch of at most 64 clocks sharing one TMS level, the unit a
// DAP_JTAG_Sequence entry can express.
type run struct {
	start, bits int
	tms         bool
}

func splitRuns(tms []byte, bits int) []run {
	var runs []run
	for pos := 0; pos < bits; {
		r := run{start: pos, tms: bitAt(tms, pos)}
		for pos < bits && r.bits < 64 && bitAt(tms, pos) == r.tms {
			r.bits++
			pos++
		}
		runs = append(runs, r)
	}
	return runs
}

func (a *CMSISDAPAdapter) shift(tms, tdi []byte, bits int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	required, err := ValidateShiftBuffers(tms, tdi, bits)
	if err != nil {
		return nil, err
	}
	tdo := make([]byte, required)
	limit := a.xport.PacketSize()

	runs := splitRuns(tms, bits)
	for len(runs) > 0 {
		// Pack as many runs as fit in one request and one response.
		cmd := []byte{cmdJTAGSequence, 0}
		respLen := 2
		var batch []run
		for _, r := range runs {
			n := (r.bits + 7) / 8
			if len(batch) > 0 && (len(cmd)+1+n > limit || respLen+n > limit) {
				break
			}
			info := byte(r.bits&0x3F) | seqTDO
			if r.tms {
				info |= seqTMS
			}
			chunk := make([]byte, n)
			for i := 0; i < r.bits; i++ {
				setBit(chunk, i, bitAt(tdi, r.start+i))
			}
			cmd = append(cmd, info)
			cmd = append(cmd, chunk...)
			respLen += n
			batch = append(batch, r)
		}
		cmd[1] = byte(len(batch))
		runs = runs[len(batch):]

		resp, err := a.command(cmd...)
		if err != nil {
			return nil, fmt.Errorf("probe: JTAG sequence: %w", err)
		}
		if len(resp) < respLen {
			return nil, fmt.Errorf("probe: JTAG sequence returned %d bytes, want %d", len(resp), respLen)
		}
		off := 2
		for _, r := range batch {
			for i := 0; i < r.bits; i++ {
				setBit(tdo, r.start+i, bitAt(resp[off:], i))
			}
			off += (r.bits + 7) / 8
		}
	}
	return tdo, nil
}

// ResetTAP pulses the target reset line when hard is set, otherwise clocks
// five TMS=1 cycles.
func (a *CMSISDAPAdapter) ResetTAP(hard bool) error {
	if hard {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, err := a.command(cmdResetTarget); err != nil {
			return fmt.Errorf("probe: hard reset: %w", err)
		}
		return nil
	}
	if _, err := a.shift([]byte{0x1F}, nil, 5); err != nil {
		return fmt.Errorf("probe: TAP reset: %w", err)
	}
	return nil
}

func (a *CMSISDAPAdapter) SetSpeed(hz int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if hz < a.info.MinFrequency || hz > a.info.MaxFrequency {
		return fmt.Errorf("probe: frequency %d Hz out of range [%d, %d]",
			hz, a.info.MinFrequency, a.info.MaxFrequency)
	}
	cmd := make([]byte, 5)
	cmd[0] = cmdSWJClock
	binary.LittleEndian.PutUint32(cmd[1:], uint32(hz))
	if _, err := a.command(cmd...); err != nil {
		return fmt.Errorf("probe: set speed: %w", err)
	}
	a.speedHz = hz
	return nil
}

// Close disconnects the DAP port and releases the transport.
func (a *CMSISDAPAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		// Best effort; the transport is closed either way.
		_, _ = a.command(cmdDisconnect)
		a.connected = false
	}
	return a.xport.Close()
}
