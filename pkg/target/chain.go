package target

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/idcode"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/probe"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/scan"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/session"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/tap"
)

// CortexM is the generic target type used when none is given. It can debug
// any Cortex-M device but knows no flash algorithm.
const CortexM = "cortex_m"

// Definition describes a target type loaded from a pack.
type Definition struct {
	Name     string // normalized target type
	Entity   string // device name as declared in the pack
	IDCode   uint32
	IDMask   uint32
	IRLength int
	Source   string // pack file the definition came from
}

// Matches reports whether raw identifies this device.
func (d Definition) Matches(raw uint32) bool {
	return idcode.Matches(raw, d.IDCode, d.IDMask)
}

// Constructor returns a constructor building chain targets that accept only
// devices matching the definition's IDCODE.
func (d Definition) Constructor() Constructor {
	return func(s *session.Session) (Target, error) {
		return NewChainTarget(s, d.Name, func(id idcode.IDCode) bool {
			return d.Matches(id.Raw)
		})
	}
}

// NewCortexM builds the generic target. Any device reporting a valid IDCODE
// is accepted.
func NewCortexM(s *session.Session) (Target, error) {
	t, err := NewChainTarget(s, CortexM, func(id idcode.IDCode) bool {
		return id.Valid && id.Raw != 0xFFFFFFFF
	})
	if err != nil {
		return nil, err
	}
	t.generic = true
	return t, nil
}

// ChainTarget is a target reached through the session probe's JTAG chain.
// Init scans the chain and selects the first device the accept function
// takes.
type ChainTarget struct {
	name    string
	opts    *session.Options
	adapter probe.Adapter
	scanner *scan.Scanner
	log     *zap.Logger
	accept  func(idcode.IDCode) bool
	generic bool

	ids       []uint32
	position  int
	connected bool
}

// NewChainTarget binds a target to the session probe. It fails when the
// session has no probe.
func NewChainTarget(s *session.Session, name string, accept func(idcode.IDCode) bool) (*ChainTarget, error) {
	if s == nil || s.Probe() == nil {
		return nil, fmt.Errorf("target: %s needs a session probe", name)
	}
	adapter := s.Probe().Adapter()
	if adapter == nil {
		return nil, fmt.Errorf("target: probe %s has no adapter", s.Probe().UniqueID())
	}
	return &ChainTarget{
		name:     name,
		opts:     s.Options(),
		adapter:  adapter,
		scanner:  scan.New(adapter),
		log:      s.Logger().Named("target").With(zap.String("type", name)),
		accept:   accept,
		position: -1,
	}, nil
}

func (t *ChainTarget) Name() string { return t.name }

// IDCodes returns the chain contents read by the last Init.
func (t *ChainTarget) IDCodes() []uint32 {
	return append([]uint32(nil), t.ids...)
}

// Device returns the selected device, or false before a successful Init.
func (t *ChainTarget) Device() (idcode.IDCode, bool) {
	if t.position < 0 {
		return idcode.IDCode{}, false
	}
	return idcode.Parse(t.ids[t.position]), true
}

func (t *ChainTarget) Init() error {
	if hz := t.opts.Int(session.OptFrequency, 0); hz > 0 {
		if err := t.adapter.SetSpeed(hz); err != nil && !errors.Is(err, probe.ErrNotImplemented) {
			return fmt.Errorf("target: set frequency: %w", err)
		}
	}

	ids, err := t.scanner.ReadIDCodes(t.opts.Int(session.OptChainLength, 1))
	if err != nil {
		return fmt.Errorf("target: %s: %w", t.name, err)
	}
	t.ids = ids
	t.position = -1
	for i, raw := range ids {
		if t.accept(idcode.Parse(raw)) {
			t.position = i
			break
		}
	}
	if t.position < 0 {
		return fmt.Errorf("target: no device on the chain matches %s (read %s)", t.name, formatIDs(ids))
	}

	dev := idcode.Parse(ids[t.position])
	t.log.Info("connected",
		zap.Int("position", t.position),
		zap.Stringer("idcode", dev))
	if t.generic && dev.ManufacturerCode != idcode.ARMDesigner {
		t.log.Warn("selected device is not an ARM debug port", zap.Stringer("idcode", dev))
	}
	t.connected = true
	return nil
}

// Disconnect with resume returns the TAP to Test-Logic-Reset so the device
// runs its normal function; without resume the TAP is parked in
// Run-Test/Idle.
func (t *ChainTarget) Disconnect(resume bool) error {
	if !t.connected {
		return nil
	}
	t.connected = false

	var err error
	if resume {
		err = t.scanner.Reset(false)
	} else {
		err = t.scanner.GoTo(tap.StateRunTestIdle)
	}
	if err != nil {
		return fmt.Errorf("target: %s disconnect: %w", t.name, err)
	}
	t.log.Debug("disconnected", zap.Bool("resume", resume))
	return nil
}

func formatIDs(ids []uint32) string {
	s := "["
	for i, id := range ids {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("0x%08X", id)
	}
	return s + "]"
}
