package board

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/session"
)

// State is the board's connection state.
type State int

const (
	StateUninitialized State = iota
	StateReady

	numStates
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateReady:
		return "Ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type event int

const (
	eventConnected event = iota
	eventDisconnected

	numEvents
)

// transitions[state][event] is the next state. Disconnecting always returns
// to Uninitialized, whatever the disconnect result.
var transitions = [numStates][numEvents]State{
	StateUninitialized: {eventConnected: StateReady, eventDisconnected: StateUninitialized},
	StateReady:         {eventConnected: StateReady, eventDisconnected: StateUninitialized},
}

func (b *Board) fire(ev event) {
	b.state = transitions[b.state][ev]
}

// State returns the current lifecycle state.
func (b *Board) State() State { return b.state }

// Init connects the target. The session delegate is adopted when the board
// has none. The will-connect hook runs before the target is touched and the
// did-connect hook after it is ready. A target or hook error is returned and
// leaves the board uninitialized unless the target already connected.
func (b *Board) Init() error {
	if isNil(b.delegate) {
		b.delegate = b.session.Delegate()
	}
	if err := b.dispatch(hookWillConnect); err != nil {
		return err
	}
	if err := b.target.Init(); err != nil {
		return &InitError{TargetType: b.targetType, Err: err}
	}
	b.fire(eventConnected)
	return b.dispatch(hookDidConnect)
}

// Uninit disconnects the target if the board is initialized. Disconnect
// errors are logged, not returned, and the board is uninitialized
// afterwards in every case.
func (b *Board) Uninit() {
	if b.state != StateReady {
		return
	}
	b.log.Debug("uninit board", zap.String("board", b.Description()))

	resume := b.session.Options().Bool(session.OptResumeOnDisconnect, true)
	if err := b.target.Disconnect(resume); err != nil {
		derr := &DisconnectError{TargetType: b.targetType, Resume: resume, Err: err}
		b.log.Error("error during board uninit", zap.Error(derr))
	}
	b.fire(eventDisconnected)
}
