package probe

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/tap"
)

// ShiftRegion identifies whether a shift targets the instruction or data
// register.
type ShiftRegion uint8

const (
	ShiftRegionIR ShiftRegion = iota
	ShiftRegionDR
)

// ShiftHook lets a simulator emulate device-specific TDO behavior.
type ShiftHook func(region ShiftRegion, tms, tdi []byte, bits int) ([]byte, error)

// ShiftOp captures a shift invocation for inspection within tests.
type ShiftOp struct {
	Region ShiftRegion
	TMS    []byte
	TDI    []byte
	Bits   int
}

// SimAdapter is an in-memory adapter for tests and hardware-free sessions.
// Without OnShift it echoes TDI back as TDO.
type SimAdapter struct {
	InfoData AdapterInfo
	SpeedHz  int

	OnShift ShiftHook
	OnReset func(hard bool) error

	lastShift ShiftOp
	resets    int
	hardReset int
}

// NewSimAdapter constructs a simulator reporting info.
func NewSimAdapter(info AdapterInfo) *SimAdapter {
	return &SimAdapter{InfoData: info}
}

// LastShift returns a copy of the most recent shift request.
func (s *SimAdapter) LastShift() ShiftOp {
	return ShiftOp{
		Region: s.lastShift.Region,
		TMS:    append([]byte(nil), s.lastShift.TMS...),
		TDI:    append([]byte(nil), s.lastShift.TDI...),
		Bits:   s.lastShift.Bits,
	}
}

// ResetCounts reports how many resets were requested; hard is a subset of
// total.
func (s *SimAdapter) ResetCounts() (total, hard int) {
	return s.resets, s.hardReset
}

func (s *SimAdapter) Info() (AdapterInfo, error) {
	return s.InfoData, nil
}

func (s *SimAdapter) ShiftIR(tms, tdi []byte, bits int) ([]byte, error) {
	return s.shift(ShiftRegionIR, tms, tdi, bits)
}

func (s *SimAdapter) ShiftDR(tms, tdi []byte, bits int) ([]byte, error) {
	return s.shift(ShiftRegionDR, tms, tdi, bits)
}

func (s *SimAdapter) ResetTAP(hard bool) error {
	s.resets++
	if hard {
		s.hardReset++
	}
	if s.OnReset != nil {
		return s.OnReset(hard)
	}
	return nil
}

func (s *SimAdapter) SetSpeed(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("probe: invalid speed %dHz", hz)
	}
	s.SpeedHz = hz
	return nil
}

func (s *SimAdapter) shift(region ShiftRegion, tms, tdi []byte, bits int) ([]byte, error) {
	required, err := ValidateShiftBuffers(tms, tdi, bits)
	if err != nil {
		return nil, err
	}

	s.lastShift = ShiftOp{
		Region: region,
		TMS:    append([]byte(nil), tms...),
		TDI:    append([]byte(nil), tdi...),
		Bits:   bits,
	}

	if s.OnShift != nil {
		return s.OnShift(region, tms, tdi, bits)
	}

	tdo := make([]byte, required)
	copy(tdo, tdi)
	return tdo, nil
}

// ChainSim simulates a chain of devices that all keep IDCODE selected in
// their data register. It follows the TAP state from the clocked TMS bits, so
// a real IDCODE scan reads back the configured codes, device 0 first.
type ChainSim struct {
	*SimAdapter

	ids []uint32
	fsm *tap.StateMachine
	dr  []bool
}

// NewChainSim builds a simulated chain. An empty id list behaves like a
// chain of BYPASS-only devices that return zeros.
func NewChainSim(info AdapterInfo, ids ...uint32) *ChainSim {
	c := &ChainSim{
		SimAdapter: NewSimAdapter(info),
		ids:        append([]uint32(nil), ids...),
		fsm:        tap.NewStateMachine(),
	}
	c.SimAdapter.OnShift = c.clock
	return c
}

// IDCodes returns the simulated chain contents.
func (c *ChainSim) IDCodes() []uint32 {
	return append([]uint32(nil), c.ids...)
}

// State reports the simulated controller state.
func (c *ChainSim) State() tap.State {
	return c.fsm.State()
}

func (c *ChainSim) ResetTAP(hard bool) error {
	if err := c.SimAdapter.ResetTAP(hard); err != nil {
		return err
	}
	c.fsm = tap.NewStateMachine()
	c.dr = nil
	return nil
}

func (c *ChainSim) clock(_ ShiftRegion, tms, tdi []byte, bits int) ([]byte, error) {
	tdo := make([]byte, (bits+7)/8)
	for i := 0; i < bits; i++ {
		in := bitAt(tdi, i)
		if c.fsm.State() == tap.StateShiftDR {
			out := in
			if len(c.dr) > 0 {
				out = c.dr[0]
				c.dr = append(c.dr[1:], in)
			}
			setBit(tdo, i, out)
		}
		if c.fsm.Clock(bitAt(tms, i)) == tap.StateCaptureDR {
			c.capture()
		}
	}
	return tdo, nil
}

func (c *ChainSim) capture() {
	c.dr = make([]bool, 0, 32*len(c.ids))
	for _, id := range c.ids {
		for bit := 0; bit < 32; bit++ {
			c.dr = append(c.dr, id&(1<<uint(bit)) != 0)
		}
	}
}
