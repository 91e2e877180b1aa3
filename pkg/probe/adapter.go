// Package probe provides the debug probe layer a board session talks
// through: the low-level JTAG adapter abstraction, concrete backends and the
// identity a board reports for its probe.
package probe

import (
	"errors"
	"fmt"
)

// AdapterInfo describes capabilities reported by an adapter implementation.
type AdapterInfo struct {
	Name         string
	Vendor       string
	Model        string
	SerialNumber string
	Firmware     string
	MinFrequency int // Hertz
	MaxFrequency int // Hertz
	SupportsSRST bool
	SupportsTRST bool
}

// Adapter abstracts a physical or virtual JTAG Test Access Port adapter.
// TMS, TDI and TDO buffers are LSB first; bit i lives in byte i/8.
type Adapter interface {
	Info() (AdapterInfo, error)
	ShiftIR(tms, tdi []byte, bits int) (tdo []byte, err error)
	ShiftDR(tms, tdi []byte, bits int) (tdo []byte, err error)
	ResetTAP(hard bool) error
	SetSpeed(hz int) error
}

// ErrNotImplemented lets backends signal that a capability is unavailable.
var ErrNotImplemented = errors.New("probe: not implemented")

// ValidateShiftBuffers checks that non-empty TMS/TDI buffers cover bits and
// returns the number of bytes a buffer of that many bits needs.
func ValidateShiftBuffers(tms, tdi []byte, bits int) (int, error) {
	if bits <= 0 {
		return 0, fmt.Errorf("probe: bits must be positive, got %d", bits)
	}
	required := (bits + 7) / 8
	if len(tms) > 0 && len(tms) < required {
		return 0, fmt.Errorf("probe: tms buffer too short, need %d bytes", required)
	}
	if len(tdi) > 0 && len(tdi) < required {
		return 0, fmt.Errorf("probe: tdi buffer too short, need %d bytes", required)
	}
	return required, nil
}

func bitAt(buf []byte, i int) bool {
	if i/8 >= len(buf) {
		return false
	}
	return buf[i/8]&(1<<(uint(i)%8)) != 0
}

func setBit(buf []byte, i int, v bool) {
	if v {
		buf[i/8] |= 1 << (uint(i) % 8)
	}
}
