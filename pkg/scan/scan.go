// Package scan walks a JTAG chain through a probe adapter, keeping a local
// TAP state machine in step with the clocked TMS bits.
package scan

import (
	"errors"
	"fmt"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/probe"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/tap"
)

// Scanner issues TAP-level operations through an adapter.
type Scanner struct {
	adapter probe.Adapter
	fsm     *tap.StateMachine
}

// New wraps adapter. The TAP state is unknown until Reset is called.
func New(adapter probe.Adapter) *Scanner {
	return &Scanner{adapter: adapter, fsm: tap.NewStateMachine()}
}

// State reports the tracked TAP state.
func (s *Scanner) State() tap.State {
	return s.fsm.State()
}

// Reset pulses the hardware reset when hard is set and the adapter supports
// it, then clocks the TAP into Test-Logic-Reset.
func (s *Scanner) Reset(hard bool) error {
	if hard {
		if err := s.adapter.ResetTAP(true); err != nil && !errors.Is(err, probe.ErrNotImplemented) {
			return fmt.Errorf("scan: hard reset: %w", err)
		}
	}
	return s.apply(s.fsm.Reset())
}

// GoTo moves the TAP to target.
func (s *Scanner) GoTo(target tap.State) error {
	seq, err := s.fsm.GoTo(target)
	if err != nil {
		return err
	}
	return s.apply(seq)
}

// ReadIDCodes resets the chain and shifts out one IDCODE per device, device 0
// being the one closest to TDO. The TAP is left in Run-Test/Idle.
func (s *Scanner) ReadIDCodes(devices int) ([]uint32, error) {
	if devices <= 0 {
		return nil, fmt.Errorf("scan: device count must be positive, got %d", devices)
	}
	if err := s.Reset(true); err != nil {
		return nil, err
	}
	if err := s.GoTo(tap.StateShiftDR); err != nil {
		return nil, err
	}

	bits := devices * 32
	tms := make([]bool, bits)
	tms[bits-1] = true
	tdo, err := s.shift(tms, nil, false)
	if err != nil {
		return nil, fmt.Errorf("scan: shift IDCODEs: %w", err)
	}
	if err := s.GoTo(tap.StateRunTestIdle); err != nil {
		return nil, err
	}

	ids := make([]uint32, devices)
	for i := range ids {
		ids[i] = bitsToUint32(bytesToBools(tdo, bits)[i*32 : (i+1)*32])
	}
	return ids, nil
}

func (s *Scanner) apply(seq tap.Sequence) error {
	if len(seq.TMS) == 0 {
		return nil
	}
	_, err := s.dispatch(seq.TMS, nil, seq.States[0].IsIR())
	return err
}

func (s *Scanner) shift(tms, tdi []bool, ir bool) ([]byte, error) {
	for _, bit := range tms {
		s.fsm.Clock(bit)
	}
	return s.dispatch(tms, tdi, ir)
}

func (s *Scanner) dispatch(tms, tdi []bool, ir bool) ([]byte, error) {
	tmsBytes := boolsToBytes(tms)
	tdiBytes := boolsToBytes(tdi)
	if len(tdiBytes) == 0 {
		tdiBytes = make([]byte, len(tmsBytes))
	}
	if ir {
		return s.adapter.ShiftIR(tmsBytes, tdiBytes, len(tms))
	}
	return s.adapter.ShiftDR(tmsBytes, tdiBytes, len(tms))
}

func boolsToBytes(bits []bool) []byte {
	if len(bits) == 0 {
		return nil
	}
	out := make([]byte, (len(bits)+7)/8)
	for i, bit := range bits {
		if bit {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

func bytesToBools(buf []byte, bits int) []bool {
	out := make([]bool, bits)
	for i := 0; i < bits && i/8 < len(buf); i++ {
		out[i] = buf[i/8]&(1<<(uint(i)%8)) != 0
	}
	return out
}

func bitsToUint32(bits []bool) uint32 {
	var val uint32
	for i, bit := range bits {
		if bit {
			val |= 1 << uint(i)
		}
	}
	return val
}
