// Package tap tracks the IEEE 1149.1 TAP controller locally so probe backends
// can be told which TMS bits to clock.
package tap

import "fmt"

// State is one of the 16 TAP controller states.
type State uint8

const (
	StateTestLogicReset State = iota
	StateRunTestIdle
	StateSelectDRScan
	StateCaptureDR
	StateShiftDR
	StateExit1DR
	StatePauseDR
	StateExit2DR
	StateUpdateDR
	StateSelectIRScan
	StateCaptureIR
	StateShiftIR
	StateExit1IR
	StatePauseIR
	StateExit2IR
	StateUpdateIR

	numStates
)

var stateNames = [numStates]string{
	"TestLogicReset", "RunTestIdle",
	"SelectDRScan", "CaptureDR", "ShiftDR", "Exit1DR", "PauseDR", "Exit2DR", "UpdateDR",
	"SelectIRScan", "CaptureIR", "ShiftIR", "Exit1IR", "PauseIR", "Exit2IR", "UpdateIR",
}

func (s State) String() string {
	if s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Valid reports whether s names a real controller state.
func (s State) Valid() bool {
	return s < numStates
}

// IsIR reports whether s belongs to the instruction register column.
func (s State) IsIR() bool {
	return s >= StateSelectIRScan && s <= StateUpdateIR
}

// edges[s] = {next on TMS=0, next on TMS=1}
var edges = [numStates][2]State{
	StateTestLogicReset: {StateRunTestIdle, StateTestLogicReset},
	StateRunTestIdle:    {StateRunTestIdle, StateSelectDRScan},
	StateSelectDRScan:   {StateCaptureDR, StateSelectIRScan},
	StateCaptureDR:      {StateShiftDR, StateExit1DR},
	StateShiftDR:        {StateShiftDR, StateExit1DR},
	StateExit1DR:        {StatePauseDR, StateUpdateDR},
	StatePauseDR:        {StatePauseDR, StateExit2DR},
	StateExit2DR:        {StateShiftDR, StateUpdateDR},
	StateUpdateDR:       {StateRunTestIdle, StateSelectDRScan},
	StateSelectIRScan:   {StateCaptureIR, StateTestLogicReset},
	StateCaptureIR:      {StateShiftIR, StateExit1IR},
	StateShiftIR:        {StateShiftIR, StateExit1IR},
	StateExit1IR:        {StatePauseIR, StateUpdateIR},
	StatePauseIR:        {StatePauseIR, StateExit2IR},
	StateExit2IR:        {StateShiftIR, StateUpdateIR},
	StateUpdateIR:       {StateRunTestIdle, StateSelectDRScan},
}

// NextState returns the state reached after one TCK with the given TMS. It
// panics on an out-of-range state.
func NextState(current State, tms bool) State {
	if !current.Valid() {
		panic(fmt.Sprintf("tap: unhandled state %d", current))
	}
	if tms {
		return edges[current][1]
	}
	return edges[current][0]
}

// Sequence is a TMS pattern together with every state it passes through,
// starting with the state it was applied from.
type Sequence struct {
	TMS    []bool
	States []State
}

// StateMachine mirrors the controller of the devices on the far side of a
// probe. It performs no I/O.
type StateMachine struct {
	state State
}

// NewStateMachine returns a machine in Test-Logic-Reset.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateTestLogicReset}
}

func (m *StateMachine) State() State {
	return m.state
}

// Clock advances one TCK cycle.
func (m *StateMachine) Clock(tms bool) State {
	m.state = NextState(m.state, tms)
	return m.state
}

// Reset clocks five TMS=1 cycles, which reaches Test-Logic-Reset from any
// state.
func (m *StateMachine) Reset() Sequence {
	seq := Sequence{States: []State{m.state}}
	for i := 0; i < 5; i++ {
		seq.TMS = append(seq.TMS, true)
		seq.States = append(seq.States, m.Clock(true))
	}
	return seq
}

// GoTo walks to target along the shortest TMS path and returns it.
func (m *StateMachine) GoTo(target State) (Sequence, error) {
	seq, err := Path(m.state, target)
	if err != nil {
		return Sequence{}, err
	}
	m.state = target
	return seq, nil
}

// Path finds the shortest TMS pattern leading from one state to another.
func Path(from, to State) (Sequence, error) {
	if !from.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid start state %d", from)
	}
	if !to.Valid() {
		return Sequence{}, fmt.Errorf("tap: invalid target state %d", to)
	}
	if from == to {
		return Sequence{States: []State{from}}, nil
	}

	type hop struct {
		prev State
		tms  bool
		seen bool
	}
	var hops [numStates]hop
	hops[from].seen = true

	queue := []State{from}
	for len(queue) > 0 && !hops[to].seen {
		cur := queue[0]
		queue = queue[1:]
		for bit, next := range edges[cur] {
			if hops[next].seen {
				continue
			}
			hops[next] = hop{prev: cur, tms: bit == 1, seen: true}
			queue = append(queue, next)
		}
	}
	if !hops[to].seen {
		return Sequence{}, fmt.Errorf("tap: no path from %s to %s", from, to)
	}

	var rev []hop
	for s := to; s != from; s = hops[s].prev {
		rev = append(rev, hops[s])
	}
	seq := Sequence{
		TMS:    make([]bool, 0, len(rev)),
		States: []State{from},
	}
	state := from
	for i := len(rev) - 1; i >= 0; i-- {
		seq.TMS = append(seq.TMS, rev[i].tms)
		state = NextState(state, rev[i].tms)
		seq.States = append(seq.States, state)
	}
	return seq, nil
}
